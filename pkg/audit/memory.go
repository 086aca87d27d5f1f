package audit

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store. Entries live in an append-only slice
// indexed by sequence-1, which keeps lookups O(1) without any linked
// structure. Suitable for tests and ephemeral sessions.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append persists a new entry.
func (s *MemoryStore) Append(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Sequence != uint64(len(s.entries))+1 {
		if entry.Sequence <= uint64(len(s.entries)) {
			return ErrDuplicateSequence
		}
		return ErrNotFound
	}
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

// Get retrieves an entry by sequence number.
func (s *MemoryStore) Get(ctx context.Context, seq uint64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if seq == 0 || seq > uint64(len(s.entries)) {
		return nil, ErrNotFound
	}
	cp := *s.entries[seq-1]
	return &cp, nil
}

// Range returns entries with from <= sequence <= to.
func (s *MemoryStore) Range(ctx context.Context, from, to uint64) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from == 0 {
		from = 1
	}
	if to > uint64(len(s.entries)) {
		to = uint64(len(s.entries))
	}
	if from > to {
		return nil, nil
	}
	out := make([]*Entry, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		cp := *s.entries[seq-1]
		out = append(out, &cp)
	}
	return out, nil
}

// Last returns the highest-sequence entry, or nil for an empty log.
func (s *MemoryStore) Last(ctx context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	cp := *s.entries[len(s.entries)-1]
	return &cp, nil
}

// LastAnchor returns the most recent anchor entry, or nil if none exists.
func (s *MemoryStore) LastAnchor(ctx context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Type == EventAnchorCreated {
			cp := *s.entries[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// Count returns the number of stored entries.
func (s *MemoryStore) Count(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.entries)), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Tamper overwrites a stored entry in place. It exists solely so tests can
// corrupt the chain and assert that verification catches it; production
// code has no mutation path.
func (s *MemoryStore) Tamper(seq uint64, mutate func(*Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq == 0 || seq > uint64(len(s.entries)) {
		return false
	}
	mutate(s.entries[seq-1])
	return true
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)
