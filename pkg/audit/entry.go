package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash is the fixed PrevHash of the first entry in every log.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one immutable record in the audit log. Entries are never updated
// or deleted; corrections are appended as new entries of type correction
// referencing the original sequence number.
type Entry struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"event_type"`
	ContextID string    `json:"context_id"`
	Payload   Payload   `json:"payload"`
	Actor     string    `json:"actor"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// computeHash derives the chain hash for an entry. Every stored field except
// the hash itself is covered, so flipping any one of them invalidates the
// entry. The timestamp enters as Unix nanoseconds so the computation survives
// serialization round trips.
func computeHash(seq uint64, ts time.Time, et EventType, contextID string, canonical []byte, actor, prevHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%s|%s|", seq, ts.UnixNano(), et, contextID)
	h.Write(canonical)
	fmt.Fprintf(h, "|%s|%s", actor, prevHash)
	return hex.EncodeToString(h.Sum(nil))
}

// DecodePayload re-encodes the entry's payload into target, letting callers
// that replay the log handle value and pointer payload forms uniformly.
func (e *Entry) DecodePayload(target interface{}) error {
	data, err := canonicalPayload(e.Payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// entryHash recomputes the hash of an entry from its stored fields.
func entryHash(e *Entry) (string, error) {
	canonical, err := canonicalPayload(e.Payload)
	if err != nil {
		return "", err
	}
	return computeHash(e.Sequence, e.Timestamp, e.Type, e.ContextID, canonical, e.Actor, e.PrevHash), nil
}
