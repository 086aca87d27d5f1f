package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultAnchorInterval is how many entries may accumulate before the log
// drops a new anchor automatically. Zero disables automatic anchoring.
const DefaultAnchorInterval = 100

// VerificationResult reports the outcome of a chain verification pass.
type VerificationResult struct {
	Valid bool

	// FirstMismatch is the sequence number of the first entry whose
	// recomputed hash or chain linkage did not match. Zero when Valid.
	FirstMismatch uint64

	// FromSequence is where verification started.
	FromSequence uint64

	// Checked is the number of entries examined.
	Checked int
}

// Log is the hash-chained append-only audit log. A single mutex serializes
// appends so sequence assignment and chain extension are strictly ordered;
// reads go straight to the store and never observe a partially appended
// entry because the store only ever holds complete ones.
type Log struct {
	mu    sync.Mutex
	store Store

	logger         *slog.Logger
	anchorInterval uint64

	nextSeq          uint64
	lastHash         string
	lastAnchorSeq    uint64
	lastAnchorDigest string
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the slog logger used for operational messages.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithAnchorInterval sets how many entries between automatic anchors.
// Zero disables automatic anchoring; CreateAnchor still works.
func WithAnchorInterval(n uint64) Option {
	return func(l *Log) {
		l.anchorInterval = n
	}
}

// NewLog opens a log over the given store, recovering the chain head and
// last anchor from whatever the store already holds.
func NewLog(store Store, opts ...Option) (*Log, error) {
	l := &Log{
		store:            store,
		logger:           slog.Default(),
		anchorInterval:   DefaultAnchorInterval,
		nextSeq:          1,
		lastHash:         GenesisHash,
		lastAnchorDigest: GenesisHash,
	}
	for _, opt := range opts {
		opt(l)
	}

	ctx := context.Background()
	last, err := store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read log head: %w", err)
	}
	if last != nil {
		l.nextSeq = last.Sequence + 1
		l.lastHash = last.Hash
	}

	anchor, err := store.LastAnchor(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read last anchor: %w", err)
	}
	if anchor != nil {
		l.lastAnchorSeq = anchor.Sequence
		switch p := anchor.Payload.(type) {
		case *AnchorPayload:
			l.lastAnchorDigest = p.Digest
		case AnchorPayload:
			l.lastAnchorDigest = p.Digest
		}
	}

	return l, nil
}

// Append records a new event at the head of the chain. The entry is durable
// in the store before Append returns; on storage failure no sequence number
// is consumed and the chain head is unchanged.
func (l *Log) Append(ctx context.Context, et EventType, contextID string, payload Payload, actor string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := l.appendLocked(ctx, et, contextID, payload, actor)
	if err != nil {
		return nil, err
	}

	if l.anchorInterval > 0 && entry.Sequence-l.lastAnchorSeq >= l.anchorInterval {
		if _, aerr := l.createAnchorLocked(ctx, actor); aerr != nil {
			// The caller's entry is already durable; a failed automatic
			// anchor only delays verification resumption.
			l.logger.Warn("automatic anchor failed", "error", aerr, "sequence", entry.Sequence)
		}
	}

	return entry, nil
}

func (l *Log) appendLocked(ctx context.Context, et EventType, contextID string, payload Payload, actor string) (*Entry, error) {
	canonical, err := canonicalPayload(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &Entry{
		Sequence:  l.nextSeq,
		Timestamp: now,
		Type:      et,
		ContextID: contextID,
		Payload:   payload,
		Actor:     actor,
		PrevHash:  l.lastHash,
	}
	entry.Hash = computeHash(entry.Sequence, now, et, contextID, canonical, actor, entry.PrevHash)

	if err := l.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit append failed: %w", err)
	}

	l.nextSeq = entry.Sequence + 1
	l.lastHash = entry.Hash
	return entry, nil
}

// CreateAnchor appends a checkpoint entry whose digest folds every entry
// hash since the previous anchor. Verification can then resume from the
// anchor instead of genesis.
func (l *Log) CreateAnchor(ctx context.Context, actor string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createAnchorLocked(ctx, actor)
}

func (l *Log) createAnchorLocked(ctx context.Context, actor string) (*Entry, error) {
	from := l.lastAnchorSeq + 1
	through := l.nextSeq - 1
	if through < from {
		return nil, fmt.Errorf("nothing to anchor: no entries since sequence %d", l.lastAnchorSeq)
	}

	entries, err := l.store.Range(ctx, from, through)
	if err != nil {
		return nil, fmt.Errorf("failed to read entries for anchor: %w", err)
	}

	digest := l.lastAnchorDigest
	for _, e := range entries {
		sum := sha256.Sum256([]byte(digest + e.Hash))
		digest = hex.EncodeToString(sum[:])
	}

	anchor, err := l.appendLocked(ctx, EventAnchorCreated, "", AnchorPayload{
		Digest:          digest,
		FromSequence:    from,
		ThroughSequence: through,
	}, actor)
	if err != nil {
		return nil, err
	}

	l.lastAnchorSeq = anchor.Sequence
	l.lastAnchorDigest = digest
	l.logger.Info("anchor created", "sequence", anchor.Sequence, "covers_from", from, "covers_through", through)
	return anchor, nil
}

// VerifyChain recomputes hashes across [fromSeq, head] and checks chain
// linkage. A fromSeq of zero starts at the last anchor (or genesis when no
// anchor exists). Mismatches are reported, never repaired.
func (l *Log) VerifyChain(ctx context.Context, fromSeq uint64) (*VerificationResult, error) {
	if fromSeq == 0 {
		anchor, err := l.store.LastAnchor(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to locate last anchor: %w", err)
		}
		if anchor != nil {
			fromSeq = anchor.Sequence
		} else {
			fromSeq = 1
		}
	}

	last, err := l.store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read log head: %w", err)
	}
	if last == nil {
		return &VerificationResult{Valid: true, FromSequence: fromSeq}, nil
	}

	entries, err := l.store.Range(ctx, fromSeq, last.Sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to read verification range: %w", err)
	}

	result := &VerificationResult{Valid: true, FromSequence: fromSeq}

	prevHash := GenesisHash
	if fromSeq > 1 {
		prev, err := l.store.Get(ctx, fromSeq-1)
		if err != nil {
			return nil, fmt.Errorf("failed to read entry %d: %w", fromSeq-1, err)
		}
		prevHash = prev.Hash
	}

	expectSeq := fromSeq
	for _, e := range entries {
		result.Checked++

		if e.Sequence != expectSeq || e.PrevHash != prevHash {
			result.Valid = false
			result.FirstMismatch = e.Sequence
			break
		}

		recomputed, err := entryHash(e)
		if err != nil {
			return nil, err
		}
		if recomputed != e.Hash {
			result.Valid = false
			result.FirstMismatch = e.Sequence
			break
		}

		prevHash = e.Hash
		expectSeq = e.Sequence + 1
	}

	if !result.Valid {
		l.logger.Error("chain integrity violation",
			"first_mismatch", result.FirstMismatch, "from", fromSeq)
	}
	return result, nil
}

// RenderAroundError returns the entries surrounding a sequence number, for
// forensic inspection after a verification failure.
func (l *Log) RenderAroundError(ctx context.Context, seq, window uint64) ([]*Entry, error) {
	from := uint64(1)
	if seq > window {
		from = seq - window
	}
	return l.store.Range(ctx, from, seq+window)
}

// Range returns entries with from <= sequence <= to.
func (l *Log) Range(ctx context.Context, from, to uint64) ([]*Entry, error) {
	return l.store.Range(ctx, from, to)
}

// Get returns the entry with the given sequence number.
func (l *Log) Get(ctx context.Context, seq uint64) (*Entry, error) {
	return l.store.Get(ctx, seq)
}

// LastSequence returns the sequence number at the chain head, zero for an
// empty log.
func (l *Log) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq - 1
}

// Count returns the number of entries in the log.
func (l *Log) Count(ctx context.Context) (uint64, error) {
	return l.store.Count(ctx)
}

// Close closes the underlying store.
func (l *Log) Close() error {
	return l.store.Close()
}
