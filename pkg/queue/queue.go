// Package queue provides the thin layer over the external queue/cache
// service: atomic set-if-absent for grab coordination, named queues for
// agent messaging, and the scratchpad entry router. The external service is
// the only genuinely distributed dependency in the system, so everything
// here degrades gracefully when it is unreachable.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the external queue/cache could not be reached.
// Callers treat it as a degraded-mode signal, never a fatal failure.
var ErrUnavailable = errors.New("queue service unavailable")

// DefaultTimeout bounds every external queue/cache call. Operations fail
// fast rather than block the orchestration path.
const DefaultTimeout = 2 * time.Second

// Service is the interface to the external queue/cache.
// Implementations must be safe for concurrent use.
type Service interface {
	// SetNX atomically sets key to value only if the key is absent.
	// Returns true if the value was set, false if the key already held a
	// value.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Push appends a payload to a named queue.
	Push(ctx context.Context, queueName string, payload []byte) error

	// Read pops up to max payloads from a named queue. An empty queue
	// returns an empty slice, not an error.
	Read(ctx context.Context, queueName string, max int64) ([][]byte, error)

	// Ping probes connectivity.
	Ping(ctx context.Context) error

	// Close releases client resources.
	Close() error
}
