// Package memerr defines the cross-cutting error taxonomy for the memory
// pipeline (spec.md §7). Most sentinels live next to the package that owns
// them (vectorstore.ErrCollectionNotFound, repository's store errors,
// embeddings.ErrEmbeddingFailed); this package holds only the errors
// shared across component boundaries, where no single package is the
// natural owner.
package memerr

import "errors"

var (
	// ErrMissingTenant indicates a request arrived without tenant
	// identity (user_id, project_id) attached to its context.
	ErrMissingTenant = errors.New("memerr: missing tenant identity")

	// ErrInvalidQuery indicates a /fetch-memory request failed input
	// validation (spec.md §6).
	ErrInvalidQuery = errors.New("memerr: invalid query")

	// ErrEmbeddingUnavailable indicates the embedding provider could not
	// be reached after retries (wraps the underlying embeddings error).
	ErrEmbeddingUnavailable = errors.New("memerr: embedding provider unavailable")

	// ErrRetrievalStrategyUnknown indicates an ICM-I response named a
	// retrieval_strategy outside the canonical enum
	// (none|conversations|hybrid|world_view).
	ErrRetrievalStrategyUnknown = errors.New("memerr: unknown retrieval strategy")

	// ErrTimeWindowInvalid indicates a resolved time window has start
	// after end, or an unparseable ISO-8601 boundary.
	ErrTimeWindowInvalid = errors.New("memerr: invalid time window")

	// ErrCollectionNameInvalid indicates a derived collection name failed
	// tenant.ValidateCollectionName.
	ErrCollectionNameInvalid = errors.New("memerr: invalid collection name")

	// ErrClassifierUnavailable indicates both the LLM-backed and offline
	// heuristic classifier paths failed (spec.md §7's ClassifierError).
	ErrClassifierUnavailable = errors.New("memerr: classifier unavailable")

	// ErrCancelled indicates the caller's context was cancelled or timed
	// out mid-pipeline (spec.md §7's CancellationError).
	ErrCancelled = errors.New("memerr: request cancelled")
)

// ProviderErrorKind classifies a C1 embedding provider failure
// (spec.md §7's ProviderError variants).
type ProviderErrorKind string

const (
	ProviderErrorRateLimit ProviderErrorKind = "rate_limit"
	ProviderErrorTimeout   ProviderErrorKind = "timeout"
	ProviderErrorConnect   ProviderErrorKind = "connect"
	ProviderErrorHTTP      ProviderErrorKind = "http"
	ProviderErrorBadResponse ProviderErrorKind = "bad_response"
)

// ProviderError wraps an embedding provider failure with its kind, so
// callers can distinguish retryable (timeout, connect) from non-retryable
// (rate_limit, bad_response) failures.
type ProviderError struct {
	Kind ProviderErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return "memerr: provider error: " + string(e.Kind)
	}
	return "memerr: provider error (" + string(e.Kind) + "): " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError constructs a ProviderError of the given kind.
func NewProviderError(kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Err: err}
}

// PrimaryStoreError wraps a C4 primary-store failure. Per spec.md §7,
// primary-store failures are logged, never raised to the caller — pipeline
// code should log.Error with this wrapped error and continue rather than
// aborting the request.
type PrimaryStoreError struct {
	Op  string
	Err error
}

func (e *PrimaryStoreError) Error() string {
	return "memerr: primary store error during " + e.Op + ": " + e.Err.Error()
}

func (e *PrimaryStoreError) Unwrap() error {
	return e.Err
}

// NewPrimaryStoreError wraps err as a non-fatal primary-store failure
// during op (e.g. "log_ingestion", "update_embedding_column").
func NewPrimaryStoreError(op string, err error) *PrimaryStoreError {
	return &PrimaryStoreError{Op: op, Err: err}
}
