// Package ledger implements the hash-chained time-clock event ledger.
//
// Each subject (employee) owns one chain. Every entry's SelfHash covers its
// own fields plus the predecessor's hash, so a retroactive edit anywhere in
// a chain breaks every later link. Validation never trusts the store: it
// recomputes all hashes from entry fields.
//
// Two Ledger implementations are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, for production use.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a subject has no entries yet.
	ErrNotFound = errors.New("ledger: entry not found")

	// ErrConflict is returned when an append loses a race for the same
	// subject's chain tail. It is retryable: re-read the tail and retry.
	// It is NOT an integrity failure.
	ErrConflict = errors.New("ledger: concurrent append on same subject, retry")

	// ErrUnknownKind is returned for an event kind outside the enum.
	ErrUnknownKind = errors.New("ledger: unknown event kind")

	// ErrMissingSupersedes is returned when a correction entry does not
	// name the entry it supersedes.
	ErrMissingSupersedes = errors.New("ledger: correction requires supersedes id")
)

// Ledger is the append-only store interface for per-subject hash chains.
type Ledger interface {
	// Append creates a new entry chained to the subject's current tail.
	// supersedes must be non-nil iff kind is KindCorrection.
	// Returns ErrConflict when another append won the race for the tail.
	Append(ctx context.Context, subjectID string, kind Kind, ts time.Time, supersedes *uuid.UUID) (*Entry, error)

	// Tail returns the subject's most recent entry, or ErrNotFound.
	Tail(ctx context.Context, subjectID string) (*Entry, error)

	// Entries returns the subject's full chain in append order.
	Entries(ctx context.Context, subjectID string) ([]*Entry, error)

	// Subjects returns the IDs of the most recently written chains,
	// newest first, up to limit. Used by the startup integrity sweep.
	Subjects(ctx context.Context, limit int) ([]string, error)
}

// checkAppendArgs validates arguments shared by all Ledger implementations.
func checkAppendArgs(subjectID string, kind Kind, supersedes *uuid.UUID) error {
	if subjectID == "" {
		return errors.New("ledger: empty subject id")
	}
	if !kind.Valid() {
		return ErrUnknownKind
	}
	if kind == KindCorrection && supersedes == nil {
		return ErrMissingSupersedes
	}
	return nil
}
