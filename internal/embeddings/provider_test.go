package embeddings

import (
	"os"
	"testing"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ProviderConfig
		wantError bool
	}{
		{
			name: "openai provider with valid config",
			cfg: ProviderConfig{
				Name:    "openai",
				BaseURL: "http://localhost:8080",
				Model:   "text-embedding-3-small",
			},
			wantError: false,
		},
		{
			name: "google provider defaults base URL",
			cfg: ProviderConfig{
				Name:  "google",
				Model: "text-embedding-004",
			},
			wantError: false,
		},
		{
			name: "unknown provider",
			cfg: ProviderConfig{
				Name: "unknown",
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.cfg)
			if tt.wantError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if provider != nil {
				provider.Close()
			}
		})
	}
}

func TestNewProvider_Local(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping FastEmbed test in short mode")
	}

	if _, err := os.Stat("/usr/lib/libonnxruntime.so"); os.IsNotExist(err) {
		if os.Getenv("ONNX_PATH") == "" {
			t.Skip("ONNX runtime not available")
		}
	}

	cfg := ProviderConfig{
		Name:  "local",
		Model: "BAAI/bge-small-en-v1.5",
	}

	provider, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer provider.Close()

	if provider.Dimension() != 384 {
		t.Errorf("Dimension() = %d, want 384", provider.Dimension())
	}
}

func TestNewProvider_DefaultsToLocal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping FastEmbed test in short mode")
	}

	if _, err := os.Stat("/usr/lib/libonnxruntime.so"); os.IsNotExist(err) {
		if os.Getenv("ONNX_PATH") == "" {
			t.Skip("ONNX runtime not available")
		}
	}

	cfg := ProviderConfig{
		Name:  "",
		Model: "BAAI/bge-small-en-v1.5",
	}

	provider, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer provider.Close()

	if provider.Dimension() != 384 {
		t.Errorf("Dimension() = %d, want 384", provider.Dimension())
	}
}

func TestHTTPProvider_Dimension(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		wantDim int
	}{
		{"small model", "BAAI/bge-small-en-v1.5", 384},
		{"base model", "BAAI/bge-base-en-v1.5", 768},
		{"mini model", "sentence-transformers/all-MiniLM-L6-v2", 384},
		{"unknown defaults to 384", "unknown-model", 384},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ProviderConfig{
				Name:    "openai",
				BaseURL: "http://localhost:8080",
				Model:   tt.model,
			}

			provider, err := NewProvider(cfg)
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			defer provider.Close()

			if provider.Dimension() != tt.wantDim {
				t.Errorf("Dimension() = %d, want %d", provider.Dimension(), tt.wantDim)
			}
		})
	}
}

func TestNewProvider_LocalInvalidModel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping FastEmbed test in short mode")
	}

	cfg := ProviderConfig{
		Name:  "local",
		Model: "nonexistent-model",
	}

	_, err := NewProvider(cfg)
	if err == nil {
		t.Error("expected error for invalid model")
	}
}
