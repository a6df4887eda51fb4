package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Kind distinguishes the three vector-store collections a tenant owns
// (spec.md §3 invariant 3: conversations live in a collection distinct
// from memory logs and mental notes).
type Kind string

const (
	KindMemoryLog    Kind = "memory_log"
	KindMentalNote   Kind = "mental_note"
	KindConversation Kind = "conversation"
)

func (k Kind) valid() bool {
	switch k {
	case KindMemoryLog, KindMentalNote, KindConversation:
		return true
	default:
		return false
	}
}

// collectionNameVersion is folded into the hash input so that a future
// change to the naming function produces a disjoint set of collection
// names rather than silently colliding with the previous scheme. Mixing
// versions within one deployment is detectable by comparing this prefix
// against collection metadata (see vectorstore.Store.GetCollectionInfo).
const collectionNameVersion = "v1"

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ErrInvalidCollectionName is returned by ValidateCollectionName.
var ErrInvalidCollectionName = errors.New("tenant: invalid collection name")

// CollectionName deterministically derives the vector-store collection for
// a tenant and record kind. The function is pure: the same (kind, user,
// project) always yields the same name, so re-ingestion and restarts never
// relocate a tenant's data (spec.md §3 invariant 3).
func CollectionName(kind Kind, userID, projectID string) (string, error) {
	if !kind.valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidCollectionName, kind)
	}
	if userID == "" || projectID == "" {
		return "", ErrInvalidTenant
	}
	sum := sha256.Sum256([]byte(collectionNameVersion + "\x1f" + userID + "\x1f" + projectID))
	name := fmt.Sprintf("%s_%s_%s", kind, collectionNameVersion, hex.EncodeToString(sum[:])[:16])
	if err := ValidateCollectionName(name); err != nil {
		// Unreachable for well-formed kinds, but keep the invariant checked
		// rather than trusted, matching the teacher's qdrant.go practice of
		// validating generated names before use.
		return "", err
	}
	return name, nil
}

// ValidateCollectionName rejects anything that is not a safe Qdrant/chromem
// collection identifier, guarding against path traversal or injection if a
// caller-supplied value ever reaches this layer.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}
