package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestSQLiteAppendAndGet tests basic round-tripping through the SQLite store.
func TestSQLiteAppendAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &Entry{
		Sequence:  1,
		Timestamp: time.Now().UTC().Truncate(time.Nanosecond),
		Type:      EventExchange,
		ContextID: "ctx-1",
		Payload:   ExchangePayload{Role: "user", Content: "hello"},
		Actor:     "tester",
		PrevHash:  GenesisHash,
		Hash:      "abc123",
	}

	if err := store.Append(ctx, entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Sequence != 1 || got.Type != EventExchange || got.ContextID != "ctx-1" {
		t.Errorf("entry fields mismatch: %+v", got)
	}
	if got.Actor != "tester" || got.PrevHash != GenesisHash || got.Hash != "abc123" {
		t.Errorf("entry fields mismatch: %+v", got)
	}
	if !got.Timestamp.Equal(entry.Timestamp) {
		t.Errorf("timestamp mismatch: got %v, want %v", got.Timestamp, entry.Timestamp)
	}

	p, ok := got.Payload.(*ExchangePayload)
	if !ok {
		t.Fatalf("payload type: %T", got.Payload)
	}
	if p.Role != "user" || p.Content != "hello" {
		t.Errorf("payload mismatch: %+v", p)
	}
}

// TestSQLiteGet_NotFound tests the missing-sequence error.
func TestSQLiteGet_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Get(context.Background(), 99)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestSQLiteDuplicateSequence tests that an existing sequence number is
// rejected rather than replaced.
func TestSQLiteDuplicateSequence(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &Entry{
		Sequence:  1,
		Timestamp: time.Now().UTC(),
		Type:      EventSessionStart,
		Payload:   SessionStartPayload{SessionID: "s1"},
		Actor:     "tester",
		PrevHash:  GenesisHash,
		Hash:      "h1",
	}
	if err := store.Append(ctx, entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	dup := *entry
	dup.Hash = "h2"
	if err := store.Append(ctx, &dup); !errors.Is(err, ErrDuplicateSequence) {
		t.Errorf("expected ErrDuplicateSequence, got %v", err)
	}

	// Original must be untouched.
	got, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Hash != "h1" {
		t.Errorf("entry replaced: hash %s", got.Hash)
	}
}

// TestSQLiteRangeAndLast tests ordered range reads and head lookup.
func TestSQLiteRangeAndLast(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	prev := GenesisHash
	for i := uint64(1); i <= 5; i++ {
		entry := &Entry{
			Sequence:  i,
			Timestamp: time.Now().UTC(),
			Type:      EventExchange,
			ContextID: "ctx-1",
			Payload:   ExchangePayload{Role: "user", Content: "m"},
			Actor:     "tester",
			PrevHash:  prev,
			Hash:      fmt.Sprintf("h%d", i),
		}
		if err := store.Append(ctx, entry); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		prev = entry.Hash
	}

	entries, err := store.Range(ctx, 2, 4)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Range length: got %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Sequence != uint64(i+2) {
			t.Errorf("Range order: index %d has sequence %d", i, e.Sequence)
		}
	}

	last, err := store.Last(ctx)
	if err != nil {
		t.Fatalf("Last failed: %v", err)
	}
	if last == nil || last.Sequence != 5 {
		t.Errorf("Last: got %+v, want sequence 5", last)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 5 {
		t.Errorf("Count: got %d, want 5", count)
	}
}

// TestSQLiteLastAnchor tests anchor lookup by event type.
func TestSQLiteLastAnchor(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	anchor, err := store.LastAnchor(ctx)
	if err != nil {
		t.Fatalf("LastAnchor failed: %v", err)
	}
	if anchor != nil {
		t.Fatalf("expected no anchor in empty store, got %+v", anchor)
	}

	entries := []*Entry{
		{Sequence: 1, Timestamp: time.Now().UTC(), Type: EventExchange, ContextID: "c", Payload: ExchangePayload{Role: "user", Content: "x"}, Actor: "a", PrevHash: GenesisHash, Hash: "h1"},
		{Sequence: 2, Timestamp: time.Now().UTC(), Type: EventAnchorCreated, Payload: AnchorPayload{Digest: "d1", FromSequence: 1, ThroughSequence: 1}, Actor: "a", PrevHash: "h1", Hash: "h2"},
		{Sequence: 3, Timestamp: time.Now().UTC(), Type: EventExchange, ContextID: "c", Payload: ExchangePayload{Role: "user", Content: "y"}, Actor: "a", PrevHash: "h2", Hash: "h3"},
	}
	for _, e := range entries {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	anchor, err = store.LastAnchor(ctx)
	if err != nil {
		t.Fatalf("LastAnchor failed: %v", err)
	}
	if anchor == nil || anchor.Sequence != 2 {
		t.Fatalf("LastAnchor: got %+v, want sequence 2", anchor)
	}
	p, ok := anchor.Payload.(*AnchorPayload)
	if !ok {
		t.Fatalf("anchor payload type: %T", anchor.Payload)
	}
	if p.Digest != "d1" {
		t.Errorf("anchor digest: got %s, want d1", p.Digest)
	}
}

// TestSQLiteBackedLogChain tests the full Log over the SQLite store,
// including reopen from disk.
func TestSQLiteBackedLogChain(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	ctx := context.Background()
	log, err := NewLog(store)
	if err != nil {
		t.Fatalf("NewLog failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := log.Append(ctx, EventExchange, "ctx-1", ExchangePayload{Role: "user", Content: "persisted"}, "tester"); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	store.Close()

	store2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store failed: %v", err)
	}
	defer store2.Close()

	log2, err := NewLog(store2)
	if err != nil {
		t.Fatalf("reopen log failed: %v", err)
	}
	if log2.LastSequence() != 5 {
		t.Errorf("LastSequence after reopen: got %d, want 5", log2.LastSequence())
	}

	result, err := log2.VerifyChain(ctx, 1)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain from disk, mismatch at %d", result.FirstMismatch)
	}
}
