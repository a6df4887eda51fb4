// Package tenant provides the tenant key (user_id, project_id), context
// propagation, and collection-naming used to enforce per-tenant isolation
// in the vector store and primary store.
package tenant

import (
	"context"
	"errors"
)

// ErrMissingTenant is returned when tenant info is missing from context.
// Callers must fail closed: never substitute a default tenant.
var ErrMissingTenant = errors.New("tenant: missing from context")

// ErrInvalidTenant is returned when a tenant identifier is empty.
var ErrInvalidTenant = errors.New("tenant: invalid identifier")

// Info is the tenant key. Both fields are required; the pair is opaque to
// the core and is never itself resolved against an auth system (spec §1
// treats authentication as an external collaborator).
type Info struct {
	UserID    string
	ProjectID string
}

// Validate checks that both key fields are present.
func (t Info) Validate() error {
	if t.UserID == "" || t.ProjectID == "" {
		return ErrInvalidTenant
	}
	return nil
}

type contextKey struct{}

// WithContext attaches Info to ctx.
func WithContext(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// FromContext extracts Info from ctx. Fails closed: returns ErrMissingTenant
// if absent rather than a zero-value Info, so callers can never accidentally
// run an unscoped query.
func FromContext(ctx context.Context) (Info, error) {
	v := ctx.Value(contextKey{})
	if v == nil {
		return Info{}, ErrMissingTenant
	}
	info, ok := v.(Info)
	if !ok {
		return Info{}, ErrMissingTenant
	}
	if err := info.Validate(); err != nil {
		return Info{}, err
	}
	return info, nil
}

// MustFromContext extracts Info or panics. Use only where middleware
// guarantees tenant presence.
func MustFromContext(ctx context.Context) Info {
	info, err := FromContext(ctx)
	if err != nil {
		panic("tenant: required but missing from context")
	}
	return info
}

// Metadata returns the tenant key as a flat metadata map for vector-store
// and primary-store records.
func (t Info) Metadata() map[string]any {
	return map[string]any{
		"user_id":    t.UserID,
		"project_id": t.ProjectID,
	}
}
