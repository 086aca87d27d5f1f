// Package audit provides the hash-chained, append-only event log that serves
// as the ground truth for every context state change in the system.
package audit

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of event an entry records.
// The set is closed: every type has exactly one payload shape, which keeps
// the canonical encoding deterministic for hashing.
type EventType string

const (
	EventExchange             EventType = "exchange"
	EventContextSpawned       EventType = "context_spawned"
	EventContextMerged        EventType = "context_merged"
	EventContextPaused        EventType = "context_paused"
	EventContextResumed       EventType = "context_resumed"
	EventContextFailed        EventType = "context_failed"
	EventContextArchived      EventType = "context_archived"
	EventContextConsolidating EventType = "context_consolidating"
	EventContextStatusChanged EventType = "context_status_changed"
	EventSessionStart         EventType = "session_start"
	EventSessionEnd           EventType = "session_end"
	EventCorrection           EventType = "correction"
	EventContentIngested      EventType = "content_ingested"
	EventMemoryStored         EventType = "memory_stored"
	EventMemoryDistilled      EventType = "memory_distilled"
	EventErrorLogged          EventType = "error_logged"
	EventAnchorCreated        EventType = "anchor_created"
	EventVerificationRun      EventType = "verification_run"
	EventHuddleCreated        EventType = "huddle_created"
	EventCrossRefAdded        EventType = "crossref_added"
	EventCrossRefValidated    EventType = "crossref_validated"
	EventCrossRefPrioritySet  EventType = "crossref_priority_set"
)

// Payload is the typed event body carried by an Entry.
// Implementations are plain structs; their JSON encoding (declaration-order
// fields, no maps with unstable key order) is the canonical form hashed into
// the chain.
type Payload interface {
	EventType() EventType
}

// ExchangePayload records one user/assistant exchange within a context.
type ExchangePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (ExchangePayload) EventType() EventType { return EventExchange }

// SpawnPayload records context creation, for roots and sidebars alike.
// ParentID is empty for root contexts.
type SpawnPayload struct {
	ParentID        string `json:"parent_id,omitempty"`
	TaskDescription string `json:"task_description"`
	Priority        string `json:"priority"`
}

func (SpawnPayload) EventType() EventType { return EventContextSpawned }

// MergePayload records a sidebar merging back into its parent.
type MergePayload struct {
	ParentID      string `json:"parent_id"`
	ExchangeCount int    `json:"exchange_count"`
}

func (MergePayload) EventType() EventType { return EventContextMerged }

type PausePayload struct {
	Reason string `json:"reason,omitempty"`
}

func (PausePayload) EventType() EventType { return EventContextPaused }

type ResumePayload struct{}

func (ResumePayload) EventType() EventType { return EventContextResumed }

type FailPayload struct {
	Reason string `json:"reason"`
}

func (FailPayload) EventType() EventType { return EventContextFailed }

type ArchivePayload struct{}

func (ArchivePayload) EventType() EventType { return EventContextArchived }

type ConsolidatingPayload struct{}

func (ConsolidatingPayload) EventType() EventType { return EventContextConsolidating }

// StatusChangePayload records lifecycle transitions that have no dedicated
// event type (waiting, reviewing, testing).
type StatusChangePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Operation string `json:"operation"`
}

func (StatusChangePayload) EventType() EventType { return EventContextStatusChanged }

type SessionStartPayload struct {
	SessionID string `json:"session_id"`
}

func (SessionStartPayload) EventType() EventType { return EventSessionStart }

type SessionEndPayload struct {
	SessionID string `json:"session_id"`
}

func (SessionEndPayload) EventType() EventType { return EventSessionEnd }

// CorrectionPayload amends an earlier entry without mutating it. The
// original entry stays in the chain untouched; readers resolve corrections
// by following OriginalSequence.
type CorrectionPayload struct {
	OriginalSequence uint64 `json:"original_sequence"`
	Note             string `json:"note"`
}

func (CorrectionPayload) EventType() EventType { return EventCorrection }

// ContentIngestedPayload records external content entering a context.
// ContentHash is the SHA-256 of the raw content, used for deduplication.
type ContentIngestedPayload struct {
	ContentHash string `json:"content_hash"`
	Source      string `json:"source,omitempty"`
	SizeBytes   int    `json:"size_bytes"`
}

func (ContentIngestedPayload) EventType() EventType { return EventContentIngested }

type MemoryStoredPayload struct {
	MemoryID string `json:"memory_id"`
	Topic    string `json:"topic,omitempty"`
}

func (MemoryStoredPayload) EventType() EventType { return EventMemoryStored }

type MemoryDistilledPayload struct {
	MemoryID    string `json:"memory_id"`
	SourceCount int    `json:"source_count"`
}

func (MemoryDistilledPayload) EventType() EventType { return EventMemoryDistilled }

type ErrorLoggedPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (ErrorLoggedPayload) EventType() EventType { return EventErrorLogged }

// AnchorPayload is a verification checkpoint: Digest folds every entry hash
// since the previous anchor into a single cumulative digest, so chain
// verification can resume here instead of replaying from genesis.
type AnchorPayload struct {
	Digest          string `json:"digest"`
	FromSequence    uint64 `json:"from_sequence"`
	ThroughSequence uint64 `json:"through_sequence"`
}

func (AnchorPayload) EventType() EventType { return EventAnchorCreated }

// VerificationPayload records the outcome of a chain verification run.
type VerificationPayload struct {
	FromSequence  uint64 `json:"from_sequence"`
	Valid         bool   `json:"valid"`
	FirstMismatch uint64 `json:"first_mismatch,omitempty"`
	Checked       int    `json:"checked"`
}

func (VerificationPayload) EventType() EventType { return EventVerificationRun }

// HuddlePayload records creation of a shared coordination context after a
// grab collision on a point of interest.
type HuddlePayload struct {
	PointID         string   `json:"point_id"`
	Actors          []string `json:"actors"`
	HuddleContextID string   `json:"huddle_context_id"`
}

func (HuddlePayload) EventType() EventType { return EventHuddleCreated }

type CrossRefAddedPayload struct {
	TargetID    string  `json:"target_id"`
	RefType     string  `json:"ref_type"`
	SuggestedBy string  `json:"suggested_by"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason,omitempty"`
}

func (CrossRefAddedPayload) EventType() EventType { return EventCrossRefAdded }

type CrossRefValidatedPayload struct {
	TargetID    string `json:"target_id"`
	Valid       bool   `json:"valid"`
	ValidatedBy string `json:"validated_by"`
}

func (CrossRefValidatedPayload) EventType() EventType { return EventCrossRefValidated }

// CrossRefPrioritySetPayload records an explicit validation-priority
// override by a human operator.
type CrossRefPrioritySetPayload struct {
	TargetID string `json:"target_id"`
	Priority string `json:"priority"`
}

func (CrossRefPrioritySetPayload) EventType() EventType { return EventCrossRefPrioritySet }

// canonicalPayload returns the canonical (hashable) encoding of a payload.
func canonicalPayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// decodePayload reconstructs the typed payload for an event type from its
// canonical encoding. Returns an error for unknown event types so the set
// stays closed.
func decodePayload(et EventType, data []byte) (Payload, error) {
	var p Payload
	switch et {
	case EventExchange:
		p = &ExchangePayload{}
	case EventContextSpawned:
		p = &SpawnPayload{}
	case EventContextMerged:
		p = &MergePayload{}
	case EventContextPaused:
		p = &PausePayload{}
	case EventContextResumed:
		p = &ResumePayload{}
	case EventContextFailed:
		p = &FailPayload{}
	case EventContextArchived:
		p = &ArchivePayload{}
	case EventContextConsolidating:
		p = &ConsolidatingPayload{}
	case EventContextStatusChanged:
		p = &StatusChangePayload{}
	case EventSessionStart:
		p = &SessionStartPayload{}
	case EventSessionEnd:
		p = &SessionEndPayload{}
	case EventCorrection:
		p = &CorrectionPayload{}
	case EventContentIngested:
		p = &ContentIngestedPayload{}
	case EventMemoryStored:
		p = &MemoryStoredPayload{}
	case EventMemoryDistilled:
		p = &MemoryDistilledPayload{}
	case EventErrorLogged:
		p = &ErrorLoggedPayload{}
	case EventAnchorCreated:
		p = &AnchorPayload{}
	case EventVerificationRun:
		p = &VerificationPayload{}
	case EventHuddleCreated:
		p = &HuddlePayload{}
	case EventCrossRefAdded:
		p = &CrossRefAddedPayload{}
	case EventCrossRefValidated:
		p = &CrossRefValidatedPayload{}
	case EventCrossRefPrioritySet:
		p = &CrossRefPrioritySetPayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", et)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", et, err)
	}
	return p, nil
}
