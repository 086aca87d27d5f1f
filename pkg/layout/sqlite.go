package layout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store using SQLite as the backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed layout store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLiteStoreFromDB wraps an existing database handle, so the layout
// store can share a database file with the audit log.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS layout_points (
		context_id TEXT NOT NULL,
		point_id TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		collapsed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (context_id, point_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SavePoint stores or replaces a point's position.
func (s *SQLiteStore) SavePoint(ctx context.Context, contextID, pointID string, p Point) error {
	collapsed := 0
	if p.Collapsed {
		collapsed = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO layout_points (context_id, point_id, x, y, collapsed)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(context_id, point_id) DO UPDATE SET x = excluded.x, y = excluded.y, collapsed = excluded.collapsed`,
		contextID, pointID, p.X, p.Y, collapsed)
	if err != nil {
		return fmt.Errorf("failed to save layout point: %w", err)
	}
	return nil
}

// GetPoint returns the saved position, or ErrNotFound.
func (s *SQLiteStore) GetPoint(ctx context.Context, contextID, pointID string) (Point, error) {
	var (
		p         Point
		collapsed int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT x, y, collapsed FROM layout_points WHERE context_id = ? AND point_id = ?`,
		contextID, pointID).Scan(&p.X, &p.Y, &collapsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Point{}, ErrNotFound
	}
	if err != nil {
		return Point{}, fmt.Errorf("failed to read layout point: %w", err)
	}
	p.Collapsed = collapsed != 0
	return p, nil
}

// GetLayout returns every saved point for a context.
func (s *SQLiteStore) GetLayout(ctx context.Context, contextID string) (map[string]Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT point_id, x, y, collapsed FROM layout_points WHERE context_id = ?`, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to query layout: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Point)
	for rows.Next() {
		var (
			id        string
			p         Point
			collapsed int
		)
		if err := rows.Scan(&id, &p.X, &p.Y, &collapsed); err != nil {
			return nil, fmt.Errorf("failed to scan layout point: %w", err)
		}
		p.Collapsed = collapsed != 0
		out[id] = p
	}
	return out, rows.Err()
}

// DeletePoint removes a saved position.
func (s *SQLiteStore) DeletePoint(ctx context.Context, contextID, pointID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM layout_points WHERE context_id = ? AND point_id = ?`, contextID, pointID)
	if err != nil {
		return fmt.Errorf("failed to delete layout point: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)
