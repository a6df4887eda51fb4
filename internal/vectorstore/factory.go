package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

// NewStore creates a Store from configuration (spec.md §6's
// vector_store.backend value).
//
//   - "chromem" (default): embedded, zero external dependencies.
//   - "qdrant": requires an external Qdrant server.
func NewStore(cfg config.VectorStoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:                    cfg.Qdrant.Host,
			Port:                    cfg.Qdrant.Port,
			UseTLS:                  cfg.Qdrant.UseTLS,
			MaxRetries:              cfg.Qdrant.MaxRetries,
			RetryBackoff:            cfg.Qdrant.RetryBackoff,
			MaxMessageSize:          cfg.Qdrant.MaxMessageSize,
			CircuitBreakerThreshold: cfg.Qdrant.CircuitBreakerThreshold,
		})

	default:
		return nil, fmt.Errorf("%w: unsupported vector store backend %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Backend)
	}
}
