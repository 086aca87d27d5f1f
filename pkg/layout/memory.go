package layout

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory layout store for tests and ephemeral runs.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string]map[string]Point
}

// NewMemoryStore creates an empty in-memory layout store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]map[string]Point)}
}

// SavePoint stores or replaces a point's position.
func (s *MemoryStore) SavePoint(ctx context.Context, contextID, pointID string, p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byPoint, ok := s.points[contextID]
	if !ok {
		byPoint = make(map[string]Point)
		s.points[contextID] = byPoint
	}
	byPoint[pointID] = p
	return nil
}

// GetPoint returns the saved position, or ErrNotFound.
func (s *MemoryStore) GetPoint(ctx context.Context, contextID, pointID string) (Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.points[contextID][pointID]; ok {
		return p, nil
	}
	return Point{}, ErrNotFound
}

// GetLayout returns every saved point for a context.
func (s *MemoryStore) GetLayout(ctx context.Context, contextID string) (map[string]Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Point, len(s.points[contextID]))
	for id, p := range s.points[contextID] {
		out[id] = p
	}
	return out, nil
}

// DeletePoint removes a saved position.
func (s *MemoryStore) DeletePoint(ctx context.Context, contextID, pointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.points[contextID], pointID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)
