// Package layout keeps per-context visual positions for the yarn-board
// renderer. It is cosmetic bookkeeping: losing it costs nothing but a
// pleasant arrangement, and it never influences orchestration.
package layout

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned when a point has no saved position.
var ErrNotFound = errors.New("layout point not found")

// Point is one saved board position.
type Point struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Collapsed bool    `json:"collapsed"`
}

// Store persists point positions keyed by (context id, point id).
type Store interface {
	// SavePoint stores or replaces a point's position.
	SavePoint(ctx context.Context, contextID, pointID string, p Point) error

	// GetPoint returns the saved position, or ErrNotFound.
	GetPoint(ctx context.Context, contextID, pointID string) (Point, error)

	// GetLayout returns every saved point for a context. An unknown
	// context yields an empty map, not an error.
	GetLayout(ctx context.Context, contextID string) (map[string]Point, error)

	// DeletePoint removes a saved position. Deleting a missing point is
	// a no-op.
	DeletePoint(ctx context.Context, contextID, pointID string) error

	Close() error
}

// ContextPointID is the canonical board id for a context node.
func ContextPointID(contextID string) string {
	return "context:" + contextID
}

// CrossRefPointID is the canonical board id for a cross-ref edge. The two
// context ids are sorted so both lookup directions map to the same point.
func CrossRefPointID(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return "crossref:" + a + ":" + b
}

// YarnBoard partitions a context's candidate points by whether they have a
// saved position. Points carry coordinates; the cushion is everything
// still waiting to be pinned.
type YarnBoard struct {
	ContextID string           `json:"context_id"`
	Points    map[string]Point `json:"points"`
	Cushion   []string         `json:"cushion"`
}

// RenderYarnBoard builds the board view for a context. candidateIDs are
// the canonical point ids that belong to the context (its own node, its
// children, its cross-ref edges); ids with a saved position land in
// Points, the rest in Cushion, sorted.
func RenderYarnBoard(ctx context.Context, store Store, contextID string, candidateIDs []string) (*YarnBoard, error) {
	saved, err := store.GetLayout(ctx, contextID)
	if err != nil {
		return nil, err
	}

	board := &YarnBoard{
		ContextID: contextID,
		Points:    make(map[string]Point),
	}
	seen := make(map[string]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := saved[id]; ok {
			board.Points[id] = p
		} else {
			board.Cushion = append(board.Cushion, id)
		}
	}
	sort.Strings(board.Cushion)
	return board, nil
}
