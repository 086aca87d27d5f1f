package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryService is an in-process Service implementation. It serves tests
// and single-node deployments that run without an external queue; its
// SetAvailable switch simulates the external service dropping and coming
// back, which is how degraded-mode behavior is exercised.
type MemoryService struct {
	mu        sync.Mutex
	available bool
	kv        map[string]kvEntry
	queues    map[string][][]byte
}

type kvEntry struct {
	value   string
	expires time.Time
}

// NewMemoryService creates an available in-memory queue service.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		available: true,
		kv:        make(map[string]kvEntry),
		queues:    make(map[string][][]byte),
	}
}

// SetAvailable toggles simulated reachability. While unavailable, every
// operation returns ErrUnavailable.
func (s *MemoryService) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

// SetNX atomically sets key to value only if the key is absent or expired.
func (s *MemoryService) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.available {
		return false, ErrUnavailable
	}

	if e, ok := s.kv[key]; ok {
		if e.expires.IsZero() || time.Now().Before(e.expires) {
			return false, nil
		}
	}

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	s.kv[key] = kvEntry{value: value, expires: expires}
	return true, nil
}

// Push appends a payload to a named queue.
func (s *MemoryService) Push(ctx context.Context, queueName string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.available {
		return ErrUnavailable
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.queues[queueName] = append(s.queues[queueName], cp)
	return nil
}

// Read pops up to max payloads from a named queue.
func (s *MemoryService) Read(ctx context.Context, queueName string, max int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.available {
		return nil, ErrUnavailable
	}

	q := s.queues[queueName]
	if len(q) == 0 {
		return nil, nil
	}

	n := int(max)
	if n > len(q) {
		n = len(q)
	}
	out := q[:n]
	s.queues[queueName] = q[n:]
	return out, nil
}

// Ping probes simulated reachability.
func (s *MemoryService) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.available {
		return ErrUnavailable
	}
	return nil
}

// Close is a no-op for the in-memory service.
func (s *MemoryService) Close() error { return nil }

// QueueLen reports the current length of a named queue, for tests.
func (s *MemoryService) QueueLen(queueName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[queueName])
}

// Compile-time interface check
var _ Service = (*MemoryService)(nil)
