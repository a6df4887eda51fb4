// Package config provides configuration loading for memoryd.
//
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables, matching the teacher's layered-precedence loader
// (see LoadWithFile in loader.go).
package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// Config holds the complete memoryd configuration.
type Config struct {
	Production    ProductionConfig    `koanf:"production"`
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	VectorStore   VectorStoreConfig   `koanf:"vector_store"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	EventBus      EventBusConfig      `koanf:"event_bus"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	WorldView     WorldViewConfig     `koanf:"world_view"`
	Classifier    ClassifierConfig    `koanf:"classifier"`
	PrimaryStore  PrimaryStoreConfig  `koanf:"primary_store"`
}

// PrimaryStoreConfig configures the C4 primary store's Qdrant-as-payload-store
// gRPC connection (internal/repository.NewStore), kept distinct from
// VectorStoreConfig.Qdrant since a deployment may point the two at separate
// Qdrant instances or collections namespaces.
type PrimaryStoreConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	UseTLS         bool          `koanf:"use_tls"`
	APIKey         Secret        `koanf:"api_key"`
	MaxMessageSize int           `koanf:"max_message_size"`
	DialTimeout    time.Duration `koanf:"dial_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RetryAttempts  int           `koanf:"retry_attempts"`
}

// Validate validates PrimaryStoreConfig.
func (c *PrimaryStoreConfig) Validate() error {
	if c.Host == "" {
		return errors.New("primary_store.host is required")
	}
	return nil
}

// ServerConfig holds the fetch-memory HTTP server configuration (spec.md
// §6's POST /fetch-memory endpoint).
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry   bool   `koanf:"enable_telemetry"`
	ServiceName       string `koanf:"service_name"`
	OTLPEndpoint      string `koanf:"otlp_endpoint"`
	OTLPProtocol      string `koanf:"otlp_protocol"`
	OTLPInsecure      bool   `koanf:"otlp_insecure"`
	OTLPTLSSkipVerify bool   `koanf:"otlp_tls_skip_verify"`
}

// VectorStoreConfig selects and configures the C5 vector store backend.
type VectorStoreConfig struct {
	Backend string              `koanf:"backend"` // "chromem" (default) or "qdrant"
	Chromem VectorStoreChromem  `koanf:"chromem"`
	Qdrant  VectorStoreQdrant   `koanf:"qdrant"`
}

// VectorStoreChromem configures the embedded backend.
type VectorStoreChromem struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// VectorStoreQdrant configures the external Qdrant backend.
type VectorStoreQdrant struct {
	Host                    string        `koanf:"host"`
	Port                    int           `koanf:"port"`
	UseTLS                  bool          `koanf:"use_tls"`
	MaxRetries              int           `koanf:"max_retries"`
	RetryBackoff            time.Duration `koanf:"retry_backoff"`
	MaxMessageSize          int           `koanf:"max_message_size"`
	CircuitBreakerThreshold int           `koanf:"circuit_breaker_threshold"`
}

// Validate validates VectorStoreConfig.
func (c *VectorStoreConfig) Validate() error {
	switch c.Backend {
	case "chromem", "":
		return nil
	case "qdrant":
		if c.Qdrant.Host == "" {
			return errors.New("vector_store.qdrant.host is required when backend=qdrant")
		}
		return nil
	default:
		return fmt.Errorf("unsupported vector_store.backend: %s (supported: chromem, qdrant)", c.Backend)
	}
}

// EmbeddingsConfig holds the full enumerated embedding configuration from
// spec.md §6: provider selection, timeouts/retries (C1), and cache sizing
// (C2).
type EmbeddingsConfig struct {
	ProviderName      string `koanf:"provider_name"` // google, openai, local
	ModelName         string `koanf:"model_name"`
	APIKey            Secret `koanf:"api_key"`
	BaseURL           string `koanf:"base_url"`
	TimeoutSeconds    int    `koanf:"timeout_seconds"`
	MaxRetries        int    `koanf:"max_retries"`
	RetryDelaySeconds int    `koanf:"retry_delay_seconds"`

	CacheMaxSize   int  `koanf:"cache_max_size"`
	CacheTTLHours  int  `koanf:"cache_ttl_hours"`
	CacheEnabled   bool `koanf:"cache_enabled"`

	BatchConcurrency int `koanf:"batch_concurrency"`

	// CacheDir is where the local provider (fastembed) caches model weights.
	CacheDir string `koanf:"cache_dir"`
}

// Validate validates EmbeddingsConfig.
func (c *EmbeddingsConfig) Validate() error {
	switch c.ProviderName {
	case "google", "openai", "local":
	default:
		return fmt.Errorf("unsupported embeddings.provider_name: %s (supported: google, openai, local)", c.ProviderName)
	}
	if c.ProviderName != "local" && !c.APIKey.IsSet() {
		return fmt.Errorf("embeddings.api_key is required for provider %q", c.ProviderName)
	}
	if c.TimeoutSeconds <= 0 {
		return errors.New("embeddings.timeout_seconds must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("embeddings.max_retries must be non-negative")
	}
	if c.CacheMaxSize <= 0 {
		return errors.New("embeddings.cache_max_size must be positive")
	}
	return nil
}

// EventBusConfig configures the embedded NATS server and connection used by
// component C6.
type EventBusConfig struct {
	Embedded bool   `koanf:"embedded"` // run an embedded nats-server (default: true)
	URL      string `koanf:"url"`      // external NATS URL, used when Embedded=false
}

// RetrievalConfig holds the C12 retrieval engine's default query
// parameters (spec.md §6).
type RetrievalConfig struct {
	DefaultLimit          int     `koanf:"default_limit"`
	DefaultMinSimilarity  float64 `koanf:"default_min_similarity"`
}

// Validate validates RetrievalConfig.
func (c *RetrievalConfig) Validate() error {
	if c.DefaultLimit <= 0 {
		return errors.New("retrieval.default_limit must be positive")
	}
	if c.DefaultMinSimilarity < 0 || c.DefaultMinSimilarity > 1 {
		return errors.New("retrieval.default_min_similarity must be in [0, 1]")
	}
	return nil
}

// WorldViewConfig configures the C11 world-view builder.
type WorldViewConfig struct {
	RecentLimit int `koanf:"recent_limit"`
}

// ClassifierConfig configures the C8/C9 intent and time classifiers.
type ClassifierConfig struct {
	// Offline runs the deterministic heuristic classifiers instead of
	// calling an LLM (spec.md §4.5's required explicit offline mode).
	Offline          bool   `koanf:"offline"`
	APIKey           Secret `koanf:"api_key"`
	Model            string `koanf:"model"`
	TimeoutSeconds   int    `koanf:"timeout_seconds"`
	FallbackStrategy string `koanf:"fallback_strategy"` // strategy used when classification fails
}

// ProductionConfig holds production deployment safety flags, matching the
// teacher's fail-closed production-mode posture.
type ProductionConfig struct {
	Enabled                  bool `koanf:"enabled"`
	LocalModeAcknowledged    bool `koanf:"local_mode_acknowledged"`
	RequireAuthentication    bool `koanf:"require_authentication"`
	AuthenticationConfigured bool `koanf:"authentication_configured"`
	RequireTLS               bool `koanf:"require_tls"`
}

// IsProduction returns true if running in production mode.
func (c *ProductionConfig) IsProduction() bool {
	return c.Enabled
}

// Validate checks production configuration for security issues.
func (c *ProductionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RequireAuthentication && !c.AuthenticationConfigured {
		return errors.New("production: require_authentication enabled but authentication not configured")
	}
	return nil
}

// Validate validates the complete configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("observability.service_name required when telemetry is enabled")
	}
	if err := validateHostname(c.VectorStore.Qdrant.Host); err != nil {
		return fmt.Errorf("invalid vector_store.qdrant.host: %w", err)
	}
	if c.Embeddings.BaseURL != "" {
		if err := validateURL(c.Embeddings.BaseURL); err != nil {
			return fmt.Errorf("invalid embeddings.base_url: %w", err)
		}
	}
	if err := c.VectorStore.Validate(); err != nil {
		return err
	}
	if err := c.Embeddings.Validate(); err != nil {
		return err
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	if err := c.Production.Validate(); err != nil {
		return fmt.Errorf("production config validation failed: %w", err)
	}
	if err := c.PrimaryStore.Validate(); err != nil {
		return err
	}
	return nil
}

// validateHostname checks if a hostname is safe (no command/shell injection).
func validateHostname(host string) error {
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format: %s", host)
	}
	invalidChars := []string{";", "\n", "\r", "$", "`", "|", "&", "<", ">", "(", ")"}
	for _, char := range invalidChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("invalid hostname: contains forbidden character %q", char)
		}
	}
	return nil
}

// validateURL checks that a URL uses an allowed scheme.
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}
