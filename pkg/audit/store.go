package audit

import (
	"context"
	"errors"
)

// Store errors returned by implementations.
var (
	// ErrNotFound indicates the requested sequence number does not exist.
	ErrNotFound = errors.New("audit entry not found")

	// ErrDuplicateSequence indicates an append reused a sequence number.
	// The log's single-writer discipline makes this unreachable in normal
	// operation; stores still enforce it.
	ErrDuplicateSequence = errors.New("duplicate audit sequence")
)

// Store defines the interface for durable audit entry storage.
// Implementations are append-only: there is no update or delete path.
// Append must be durable before it returns; the log reports success to its
// caller only after the store has accepted the entry.
type Store interface {
	// Append persists a new entry. Returns ErrDuplicateSequence if the
	// sequence number is already taken.
	Append(ctx context.Context, entry *Entry) error

	// Get retrieves the entry with the given sequence number.
	// Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, seq uint64) (*Entry, error)

	// Range returns entries with from <= sequence <= to, ordered by
	// sequence. An empty result is not an error.
	Range(ctx context.Context, from, to uint64) ([]*Entry, error)

	// Last returns the entry with the highest sequence number, or
	// (nil, nil) for an empty log.
	Last(ctx context.Context) (*Entry, error)

	// LastAnchor returns the most recent anchor_created entry, or
	// (nil, nil) if no anchor exists.
	LastAnchor(ctx context.Context) (*Entry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (uint64, error)

	// Close releases store resources.
	Close() error
}
