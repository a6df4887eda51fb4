// Package config provides configuration loading for memoryd.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// defaultValues seeds koanf before the YAML file and environment overrides
// are layered on, so a zero-value bool (cache_enabled) can still be
// distinguished from an explicit "false" override.
var defaultValues = map[string]any{
	"server.http_port":        9090,
	"server.shutdown_timeout": "10s",

	"observability.service_name": "memoryd",

	"vector_store.backend":                          "chromem",
	"vector_store.chromem.path":                      "~/.config/memoryd/vectorstore",
	"vector_store.qdrant.host":                       "localhost",
	"vector_store.qdrant.port":                       6334,
	"vector_store.qdrant.max_retries":                3,
	"vector_store.qdrant.retry_backoff":              "1s",
	"vector_store.qdrant.circuit_breaker_threshold":   5,

	"embeddings.provider_name":       "local",
	"embeddings.timeout_seconds":     30,
	"embeddings.max_retries":         3,
	"embeddings.retry_delay_seconds": 1,
	"embeddings.cache_max_size":      1000,
	"embeddings.cache_ttl_hours":     24,
	"embeddings.cache_enabled":       true,
	"embeddings.batch_concurrency":   10,

	"event_bus.embedded": true,

	"retrieval.default_limit":          5,
	"retrieval.default_min_similarity": 0.7,

	"world_view.recent_limit": 5,

	"classifier.timeout_seconds":   30,
	"classifier.fallback_strategy": "world_view",

	"primary_store.host":            "localhost",
	"primary_store.port":            6334,
	"primary_store.max_message_size": 50 * 1024 * 1024,
	"primary_store.dial_timeout":     "5s",
	"primary_store.request_timeout":  "30s",
	"primary_store.retry_attempts":   3,
}

const maxConfigFileSize = 1024 * 1024 // 1MB

// configSections lists Config's top-level koanf keys, longest first, so
// envKeyToKoanfKey can match multi-word sections (vector_store, event_bus,
// world_view) before falling back to a single-word split.
var configSections = []string{
	"primary_store",
	"vector_store",
	"event_bus",
	"world_view",
	"production",
	"server",
	"observability",
	"embeddings",
	"retrieval",
	"classifier",
}

// envKeyToKoanfKey maps an environment variable name to its dotted koanf
// key, e.g. VECTOR_STORE_QDRANT_HOST -> vector_store.qdrant.host.
func envKeyToKoanfKey(s string) string {
	lower := strings.ToLower(s)
	for _, section := range configSections {
		prefix := section + "_"
		if lower == section {
			return lower
		}
		if strings.HasPrefix(lower, prefix) {
			rest := strings.TrimPrefix(lower, prefix)
			if section == "vector_store" {
				for _, sub := range []string{"qdrant", "chromem"} {
					if strings.HasPrefix(rest, sub+"_") {
						return section + "." + sub + "." + strings.TrimPrefix(rest, sub+"_")
					}
				}
			}
			return section + "." + rest
		}
	}
	return lower
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, EMBEDDINGS_PROVIDER_NAME, etc.)
//  2. YAML config file (~/.config/memoryd/config.yaml)
//  3. Hardcoded defaults
//
// # Security Considerations
//
// File Permissions: the config file must have 0600 or 0400 permissions
// (owner read/write only) — it may carry a provider api_key.
//
// Path Validation: only configuration files under ~/.config/memoryd/ or
// /etc/memoryd/ can be loaded.
//
// File Size Limit: files larger than 1MB are rejected.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaultValues, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "memoryd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment variables use underscore separator and are uppercased.
	// SERVER_HTTP_PORT -> server.http_port, VECTOR_STORE_QDRANT_HOST ->
	// vector_store.qdrant.host. The top-level section name is matched
	// against configSections first since some sections (vector_store,
	// event_bus, world_view) are themselves multi-word.
	if err := k.Load(env.Provider("", ".", envKeyToKoanfKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// EnsureConfigDir creates the memoryd config directory if it doesn't exist.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configDir := filepath.Join(home, ".config", "memoryd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	allowedDirs := []string{
		filepath.Join(home, ".config", "memoryd"),
		"/etc/memoryd",
	}
	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/memoryd/ or /etc/memoryd/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
