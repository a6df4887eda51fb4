package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/eventbus"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// Event subjects published by the embedding service (spec.md §4.1).
const (
	EventCacheHit        = "embedding.cache_hit"
	EventGenerated       = "embedding.generated"
	EventError           = "embedding.error"
	EventBatchGenerated  = "embedding.batch_generated"
	EventHealthCheck     = "embedding.health_check"
)

// Service orchestrates a Provider and a Cache: cache-aside lookups, retry
// with backoff on provider failures, bounded-concurrency batching and
// best-effort event emission (components C1-C3, spec.md §4.1).
type Service struct {
	cfg      config.EmbeddingsConfig
	provider Provider
	cache    *Cache
	bus      eventbus.Bus
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *Metrics
}

// NewService builds a Service from cfg. bus and logger may be nil; a nil
// bus disables event emission and a nil logger uses zap.NewNop().
func NewService(cfg config.EmbeddingsConfig, bus eventbus.Bus, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	provider, err := NewProvider(ProviderConfig{
		Name:     cfg.ProviderName,
		Model:    cfg.ModelName,
		APIKey:   cfg.APIKey.Value(),
		BaseURL:  cfg.BaseURL,
		CacheDir: cfg.CacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}

	var cache *Cache
	if cfg.CacheEnabled {
		cache, err = NewCache(cfg.CacheMaxSize, time.Duration(cfg.CacheTTLHours)*time.Hour)
		if err != nil {
			provider.Close()
			return nil, fmt.Errorf("creating cache: %w", err)
		}
	}

	batchConcurrency := cfg.BatchConcurrency
	if batchConcurrency <= 0 {
		batchConcurrency = 10
	}
	cfg.BatchConcurrency = batchConcurrency

	return &Service{
		cfg:      cfg,
		provider: provider,
		cache:    cache,
		bus:      bus,
		limiter:  rate.NewLimiter(rate.Limit(50), 50),
		logger:   logger,
		metrics:  NewMetrics(logger),
	}, nil
}

// Dimension returns the configured provider's embedding dimension.
func (s *Service) Dimension() int {
	return s.provider.Dimension()
}

// Close releases the underlying provider's resources.
func (s *Service) Close() error {
	return s.provider.Close()
}

func (s *Service) publish(ctx context.Context, subject string, payload []byte) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, subject, payload); err != nil {
		s.logger.Warn("failed to publish embedding event", zap.String("subject", subject), zap.Error(err))
	}
}

// withRetry retries op per cfg.MaxRetries, sleeping retry_delay * 2^i
// between attempts (spec.md §4.1). A rate-limit error from the provider is
// surfaced immediately without retrying.
func (s *Service) withRetry(ctx context.Context, op func() ([][]float32, error)) ([][]float32, error) {
	attempt := 0
	result, err := backoff.Retry(ctx, func() ([][]float32, error) {
		vecs, err := op()
		if err == nil {
			return vecs, nil
		}
		attempt++
		if errIsRateLimit(err) {
			return nil, backoff.Permanent(err)
		}
		if attempt > s.cfg.MaxRetries {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(&fixedMultiplierBackoff{
			base: time.Duration(s.cfg.RetryDelaySeconds) * time.Second,
		}),
		backoff.WithMaxTries(uint(s.cfg.MaxRetries)+1),
	)
	return result, err
}

func errIsRateLimit(err error) bool {
	return err == ErrRateLimited
}

// fixedMultiplierBackoff implements backoff.BackOff with the spec's
// retry_delay * 2^attempt growth, rather than the library's default
// exponential-with-jitter curve.
type fixedMultiplierBackoff struct {
	base    time.Duration
	attempt int
}

func (b *fixedMultiplierBackoff) NextBackOff() time.Duration {
	d := b.base << b.attempt
	b.attempt++
	return d
}

func (b *fixedMultiplierBackoff) Reset() {
	b.attempt = 0
}

// EmbedDocuments embeds texts, consulting the cache per-text and only
// calling the provider for cache misses.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	if s.cache != nil {
		for i, t := range texts {
			key := CacheKey(s.cfg.ModelName, t)
			if v, ok := s.cache.Get(key); ok {
				vectors[i] = v
				s.metrics.RecordCacheResult(ctx, s.cfg.ModelName, true)
				s.publish(ctx, EventCacheHit, []byte(fmt.Sprintf(`{"model":%q}`, s.cfg.ModelName)))
				continue
			}
			s.metrics.RecordCacheResult(ctx, s.cfg.ModelName, false)
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
		}
	} else {
		missIdx = indexRange(len(texts))
		missTexts = texts
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	start := time.Now()
	generated, err := s.withRetry(ctx, func() ([][]float32, error) {
		return s.provider.EmbedDocuments(ctx, missTexts)
	})
	s.metrics.RecordGeneration(ctx, s.cfg.ModelName, "embed_documents", time.Since(start), len(missTexts), err)
	if err != nil {
		s.publish(ctx, EventError, []byte(fmt.Sprintf(`{"model":%q,"error":%q}`, s.cfg.ModelName, err.Error())))
		return nil, err
	}

	for j, i := range missIdx {
		vectors[i] = generated[j]
		if s.cache != nil {
			s.cache.Put(CacheKey(s.cfg.ModelName, missTexts[j]), generated[j])
		}
	}
	s.publish(ctx, EventGenerated, []byte(fmt.Sprintf(`{"model":%q,"count":%d}`, s.cfg.ModelName, len(missTexts))))
	return vectors, nil
}

// EmbedQuery embeds a single query text, using the cache when enabled.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vecs, err := s.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds each text separately, with at most batch_concurrency
// embeds in flight at once (spec.md §4.1), preserving input order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	sem := make(chan struct{}, s.cfg.BatchConcurrency)
	results := make([][]float32, len(texts))
	errs := make([]error, len(texts))
	var wg sync.WaitGroup

	for i, text := range texts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()
			v, err := s.EmbedQuery(ctx, text)
			results[i] = v
			errs[i] = err
		}(i, text)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	s.publish(ctx, EventBatchGenerated, []byte(fmt.Sprintf(`{"model":%q,"count":%d}`, s.cfg.ModelName, len(texts))))
	return results, nil
}

// Health checks provider reachability with a cheap single-text embed call.
func (s *Service) Health(ctx context.Context) error {
	_, err := s.provider.EmbedQuery(ctx, "health check")
	s.publish(ctx, EventHealthCheck, []byte(fmt.Sprintf(`{"model":%q,"ok":%t}`, s.cfg.ModelName, err == nil)))
	return err
}

// CacheStats returns cache hit/miss/size counters, or the zero value if
// caching is disabled.
func (s *Service) CacheStats() CacheStats {
	if s.cache == nil {
		return CacheStats{}
	}
	return s.cache.Stats()
}

func indexRange(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

var _ vectorstore.Embedder = (*Service)(nil)
var _ vectorstore.Embedder = (*httpProvider)(nil)
var _ vectorstore.Embedder = (*FastEmbedProvider)(nil)
