package ledger

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
//
// Each subject has its own lock, so appends to different subjects never
// contend — the same isolation the Postgres implementation gets from
// per-subject advisory locks.
type MemoryLedger struct {
	mu     sync.RWMutex // guards the chains map itself
	chains map[string]*memoryChain
	seq    atomic.Uint64 // global append counter, orders Subjects
}

type memoryChain struct {
	mu      sync.RWMutex
	entries []*Entry
	lastSeq uint64
}

// NewMemory creates an empty MemoryLedger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{chains: make(map[string]*memoryChain)}
}

func (l *MemoryLedger) chain(subjectID string, create bool) *memoryChain {
	l.mu.RLock()
	c := l.chains[subjectID]
	l.mu.RUnlock()
	if c != nil || !create {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c = l.chains[subjectID]; c == nil {
		c = &memoryChain{}
		l.chains[subjectID] = c
	}
	return c
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, subjectID string, kind Kind, ts time.Time, supersedes *uuid.UUID) (*Entry, error) {
	if err := checkAppendArgs(subjectID, kind, supersedes); err != nil {
		return nil, err
	}

	c := l.chain(subjectID, true)
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := ""
	if n := len(c.entries); n > 0 {
		prevHash = c.entries[n-1].SelfHash
	}

	ts = ts.UTC().Truncate(time.Millisecond)
	entry := &Entry{
		ID:         uuid.New(),
		SubjectID:  subjectID,
		Kind:       kind,
		Timestamp:  ts,
		PrevHash:   prevHash,
		Supersedes: supersedes,
		CreatedAt:  time.Now().UTC(),
	}
	entry.SelfHash = ComputeSelfHash(subjectID, kind, ts, prevHash)
	c.entries = append(c.entries, entry)
	c.lastSeq = l.seq.Add(1)
	return entry, nil
}

// Tail implements Ledger.
func (l *MemoryLedger) Tail(_ context.Context, subjectID string) (*Entry, error) {
	c := l.chain(subjectID, false)
	if c == nil {
		return nil, ErrNotFound
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return nil, ErrNotFound
	}
	return c.entries[len(c.entries)-1], nil
}

// Subjects implements Ledger. Recency follows append order.
func (l *MemoryLedger) Subjects(_ context.Context, limit int) ([]string, error) {
	type tailed struct {
		id   string
		last uint64
	}

	l.mu.RLock()
	tails := make([]tailed, 0, len(l.chains))
	for id, c := range l.chains {
		c.mu.RLock()
		if len(c.entries) > 0 {
			tails = append(tails, tailed{id: id, last: c.lastSeq})
		}
		c.mu.RUnlock()
	}
	l.mu.RUnlock()

	sort.Slice(tails, func(i, j int) bool { return tails[i].last > tails[j].last })
	if limit > 0 && len(tails) > limit {
		tails = tails[:limit]
	}
	out := make([]string, len(tails))
	for i, t := range tails {
		out[i] = t.id
	}
	return out, nil
}

// Entries implements Ledger.
func (l *MemoryLedger) Entries(_ context.Context, subjectID string) ([]*Entry, error) {
	c := l.chain(subjectID, false)
	if c == nil {
		return []*Entry{}, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entry, len(c.entries))
	copy(out, c.entries)
	return out, nil
}
