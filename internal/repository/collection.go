package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/tenant"
)

// recordKind distinguishes the five primary-store record kinds. It is
// scoped separately from tenant.Kind (which names only the three
// vector-store collections) since the primary store additionally persists
// ICM logs and retrieval logs, neither of which has a vector-store
// counterpart.
type recordKind string

const (
	recordKindMemoryLog    recordKind = "memory_log"
	recordKindMentalNote   recordKind = "mental_note"
	recordKindConversation recordKind = "conversation"
	recordKindICMLog       recordKind = "icm_log"
	recordKindRetrievalLog recordKind = "retrieval_log"
)

func (k recordKind) valid() bool {
	switch k {
	case recordKindMemoryLog, recordKindMentalNote, recordKindConversation, recordKindICMLog, recordKindRetrievalLog:
		return true
	default:
		return false
	}
}

// collectionNameVersion is folded into the hash input so a future change to
// this naming scheme produces disjoint names rather than colliding with
// collections written under a previous version.
const collectionNameVersion = "v1"

// collectionNamePrefix disambiguates a primary-store collection from a
// vector-store collection of the same recordKind and tenant, since both
// stores may run against the same Qdrant instance.
const collectionNamePrefix = "primary"

var errInvalidRecordKind = errors.New("repository: invalid record kind")

// collectionName deterministically derives the primary-store collection for
// a (kind, tenant) pair. Pure: the same inputs always yield the same name.
func collectionName(kind recordKind, t tenant.Info) (string, error) {
	if !kind.valid() {
		return "", fmt.Errorf("%w: %q", errInvalidRecordKind, kind)
	}
	if err := t.Validate(); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(collectionNameVersion + "\x1f" + string(kind) + "\x1f" + t.UserID + "\x1f" + t.ProjectID))
	name := fmt.Sprintf("%s_%s_%s_%s", collectionNamePrefix, kind, collectionNameVersion, hex.EncodeToString(sum[:])[:16])
	if err := tenant.ValidateCollectionName(name); err != nil {
		return "", err
	}
	return name, nil
}
