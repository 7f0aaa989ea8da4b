package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shiftward/shiftward/internal/digest"
)

// GenesisSentinel is the literal token hashed in place of the previous hash
// for the first entry of a subject's chain. Part of the hash contract.
const GenesisSentinel = "genesis"

// Kind is the type of a time-clock event.
type Kind string

const (
	KindClockIn    Kind = "clock_in"
	KindClockOut   Kind = "clock_out"
	KindCorrection Kind = "correction"
)

// Valid reports whether k is one of the known event kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindClockIn, KindClockOut, KindCorrection:
		return true
	}
	return false
}

// Entry is one time-clock event in a subject's hash chain.
//
// Entries are append-only and never mutated in place; a correction is a new
// entry whose SupersedesID names the entry it replaces. SelfHash covers
// SubjectID, Kind, the canonical timestamp, and PrevHash, so altering any
// of them after the fact is detectable.
type Entry struct {
	ID         uuid.UUID  `json:"id"`
	SubjectID  string     `json:"subject_id"`
	Kind       Kind       `json:"kind"`
	Timestamp  time.Time  `json:"timestamp"`
	SelfHash   string     `json:"self_hash"`
	PrevHash   string     `json:"prev_hash,omitempty"` // empty for the first entry of a subject
	Supersedes *uuid.UUID `json:"supersedes_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ComputeSelfHash derives the entry hash from the canonical field tuple.
// prevHash is the predecessor's SelfHash, or "" for a chain's first entry.
func ComputeSelfHash(subjectID string, kind Kind, ts time.Time, prevHash string) string {
	prev := prevHash
	if prev == "" {
		prev = GenesisSentinel
	}
	return digest.SumFields(subjectID, string(kind), digest.CanonicalTime(ts), prev)
}
