package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store using SQLite as the backend.
// The audit_entries table is append-only by construction: the store issues
// only INSERT and SELECT statements against it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed audit store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
// Creates tables and indexes if they don't exist.
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

// NewSQLiteStoreFromDB wraps an existing database handle, so the audit log
// can share a database file with the layout store.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		sequence INTEGER PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		context_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		actor TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_context ON audit_entries(context_id);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_entries(event_type);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append persists a new entry. Uses plain INSERT so an existing sequence
// number is rejected by the primary key instead of silently replaced.
func (s *SQLiteStore) Append(ctx context.Context, entry *Entry) error {
	canonical, err := canonicalPayload(entry.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (sequence, timestamp, event_type, context_id, payload, actor, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Sequence, entry.Timestamp.UnixNano(), string(entry.Type), entry.ContextID,
		string(canonical), entry.Actor, entry.PrevHash, entry.Hash)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") ||
			strings.Contains(strings.ToLower(err.Error()), "constraint") {
			return ErrDuplicateSequence
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Get retrieves an entry by sequence number.
func (s *SQLiteStore) Get(ctx context.Context, seq uint64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sequence, timestamp, event_type, context_id, payload, actor, prev_hash, hash
		 FROM audit_entries WHERE sequence = ?`, seq)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// Range returns entries with from <= sequence <= to, ordered by sequence.
func (s *SQLiteStore) Range(ctx context.Context, from, to uint64) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, timestamp, event_type, context_id, payload, actor, prev_hash, hash
		 FROM audit_entries WHERE sequence >= ? AND sequence <= ? ORDER BY sequence`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit range: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Last returns the highest-sequence entry, or nil for an empty log.
func (s *SQLiteStore) Last(ctx context.Context) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sequence, timestamp, event_type, context_id, payload, actor, prev_hash, hash
		 FROM audit_entries ORDER BY sequence DESC LIMIT 1`)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// LastAnchor returns the most recent anchor entry, or nil if none exists.
func (s *SQLiteStore) LastAnchor(ctx context.Context) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sequence, timestamp, event_type, context_id, payload, actor, prev_hash, hash
		 FROM audit_entries WHERE event_type = ? ORDER BY sequence DESC LIMIT 1`,
		string(EventAnchorCreated))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// Count returns the number of stored entries.
func (s *SQLiteStore) Count(ctx context.Context) (uint64, error) {
	var count uint64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for scanEntry.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		seq       uint64
		tsNanos   int64
		eventType string
		contextID string
		payload   string
		actor     string
		prevHash  string
		hash      string
	)
	if err := row.Scan(&seq, &tsNanos, &eventType, &contextID, &payload, &actor, &prevHash, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	p, err := decodePayload(EventType(eventType), []byte(payload))
	if err != nil {
		return nil, err
	}

	return &Entry{
		Sequence:  seq,
		Timestamp: time.Unix(0, tsNanos).UTC(),
		Type:      EventType(eventType),
		ContextID: contextID,
		Payload:   p,
		Actor:     actor,
		PrevHash:  prevHash,
		Hash:      hash,
	}, nil
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)
