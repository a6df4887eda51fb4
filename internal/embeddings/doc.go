// Package embeddings implements the embedding provider, cache and service
// layers (spec.md §4.1, components C1-C3).
//
// Provider abstracts over google, openai (each a plain JSON HTTP call in
// that vendor's request/response shape) and local (FastEmbed/ONNX,
// CPU-only). Cache is a
// fixed-size, TTL-bounded LRU in front of a Provider. Service is the public
// entry point: it wires a Provider and Cache together, retries transient
// provider failures with backoff, caps batch concurrency, and emits
// best-effort events over internal/eventbus.
package embeddings
