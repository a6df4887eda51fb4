// Package embeddings provides embedding generation with provider
// selection, caching and retry (spec.md §4.1, components C1-C3).
package embeddings

import (
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// Provider is a single embedding backend: google, openai or local
// (spec.md §6's embeddings.provider_name).
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Name selects the backend: "google", "openai" or "local".
	Name string
	// Model is the embedding model name.
	Model string
	// APIKey authenticates against google/openai. Unused for local.
	APIKey string
	// BaseURL overrides the provider's default endpoint (google/openai only).
	BaseURL string
	// CacheDir is the model cache directory for the local (FastEmbed) provider.
	CacheDir string
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch {
	case contains(model, "base"):
		return 768
	case contains(model, "large"):
		return 1024
	case contains(model, "small"), contains(model, "mini"):
		return 384
	default:
		return 384
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// defaultBaseURLs holds each hosted provider's default endpoint. "openai"
// speaks the OpenAI /embeddings request/response shape and "google" the
// {model, content:{parts:[{text}]}} -> {embedding:{values}} shape; the
// shape is fixed per provider name, never sniffed from the response.
var defaultBaseURLs = map[string]string{
	"openai": "https://api.openai.com/v1",
	"google": "https://generativelanguage.googleapis.com/v1beta",
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case "local", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "openai", "google":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURLs[cfg.Name]
		}
		hp, err := newHTTPProvider(httpProviderConfig{
			Kind:    cfg.Name,
			BaseURL: baseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
		if err != nil {
			return nil, err
		}
		return hp, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: google, openai, local)", ErrInvalidConfig, cfg.Name)
	}
}
