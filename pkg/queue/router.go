package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntryType classifies a scratchpad entry.
type EntryType string

const (
	EntryQuestion  EntryType = "question"
	EntryFinding   EntryType = "finding"
	EntryQuickNote EntryType = "quick_note"
)

// ScratchpadEntry is a small note submitted by an agent or human, destined
// for a cooperating collaborator.
type ScratchpadEntry struct {
	EntryID     string    `json:"entry_id"`
	Content     string    `json:"content"`
	Type        EntryType `json:"entry_type"`
	SubmittedBy string    `json:"submitted_by"`

	// RoutedTo is an explicit destination override; empty means infer
	// from content.
	RoutedTo string `json:"routed_to,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewScratchpadEntry creates an entry with a fresh id.
func NewScratchpadEntry(content string, entryType EntryType, submittedBy string) *ScratchpadEntry {
	return &ScratchpadEntry{
		EntryID:     uuid.New().String(),
		Content:     content,
		Type:        entryType,
		SubmittedBy: submittedBy,
		CreatedAt:   time.Now().UTC(),
	}
}

// RouteResult reports a routing decision. Routing is a logical decision,
// independent of whether the message could be persisted for delivery:
// Queued is false when the external queue was unreachable, but the call
// still succeeds.
type RouteResult struct {
	Success  bool   `json:"success"`
	Routed   bool   `json:"routed"`
	RoutedTo string `json:"routed_to,omitempty"`
	Queued   bool   `json:"queued_to_redis"`
	Reason   string `json:"reason,omitempty"`
}

// ApprovalResult reports a curator verdict on a scratchpad entry.
type ApprovalResult struct {
	Approved bool   `json:"approved"`
	RoutedTo string `json:"routed_to,omitempty"`
	Queued   bool   `json:"queued_to_redis"`
	Reason   string `json:"reason,omitempty"`
}

// CuratorAgent is the fallback destination for entries that match no
// specialty.
const CuratorAgent = "curator"

// specialty maps content keywords to an agent identity. The registry is
// ordered: the first specialty with a keyword hit wins.
type specialty struct {
	agent    string
	keywords []string
}

func defaultSpecialties() []specialty {
	return []specialty{
		{agent: "debugger", keywords: []string{"debug", "bug", "crash", "fix", "stack trace", "panic"}},
		{agent: "researcher", keywords: []string{"research", "investigate", "security", "compare", "benchmark"}},
		{agent: "architect", keywords: []string{"design", "architecture", "refactor", "interface", "schema"}},
	}
}

// validateMessage is the payload pushed to an agent's queue when an entry
// needs its attention.
type validateMessage struct {
	Action      string    `json:"action"`
	EntryID     string    `json:"entry_id"`
	ContextID   string    `json:"context_id"`
	Content     string    `json:"content"`
	EntryType   EntryType `json:"entry_type"`
	SubmittedBy string    `json:"submitted_by"`
	RoutedTo    string    `json:"routed_to"`
	CreatedAt   time.Time `json:"created_at"`
}

// Router routes scratchpad entries to collaborating agents through the
// external queue. A nil or unreachable Service reduces guarantees (the
// message is not persisted for delivery) but never fails the caller.
type Router struct {
	svc         Service
	logger      *slog.Logger
	specialties []specialty
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the slog logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSpecialty appends an agent specialty ahead of the curator fallback.
func WithSpecialty(agent string, keywords ...string) RouterOption {
	return func(r *Router) {
		r.specialties = append(r.specialties, specialty{agent: agent, keywords: keywords})
	}
}

// NewRouter creates a Router over the given queue service. svc may be nil;
// the router then always operates in degraded mode.
func NewRouter(svc Service, opts ...RouterOption) *Router {
	r := &Router{
		svc:         svc,
		logger:      slog.Default(),
		specialties: defaultSpecialties(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InferDestination resolves the agent an entry should go to: an explicit
// override wins, then the keyword registry, then the curator.
func (r *Router) InferDestination(entry *ScratchpadEntry) string {
	if entry.RoutedTo != "" {
		return entry.RoutedTo
	}
	content := strings.ToLower(entry.Content)
	for _, s := range r.specialties {
		for _, kw := range s.keywords {
			if strings.Contains(content, kw) {
				return s.agent
			}
		}
	}
	return CuratorAgent
}

// AgentQueueName is the named queue an agent reads its messages from.
func AgentQueueName(agent string) string {
	return "agent:" + agent
}

// RouteEntry routes one scratchpad entry. Quick notes with no explicit
// destination are stored only; everything else is routed to an inferred
// destination and, when the external queue is reachable, enqueued as a
// validate_entry message for that agent.
func (r *Router) RouteEntry(ctx context.Context, entry *ScratchpadEntry, contextID string) *RouteResult {
	if entry.Type == EntryQuickNote && entry.RoutedTo == "" {
		return &RouteResult{Success: true, Routed: false, Reason: "quick_note_no_route"}
	}

	dest := r.InferDestination(entry)
	result := &RouteResult{Success: true, Routed: true, RoutedTo: dest}

	if err := r.deliver(ctx, entry, contextID, dest); err != nil {
		result.Reason = "queue_unavailable"
		r.logger.Warn("entry routed without delivery",
			"entry_id", entry.EntryID, "routed_to", dest, "error", err)
		return result
	}

	result.Queued = true
	return result
}

// CuratorApproveEntry applies a curator verdict. Approval re-infers the
// destination and attempts delivery; rejection delivers nothing.
func (r *Router) CuratorApproveEntry(ctx context.Context, entry *ScratchpadEntry, contextID string, approved bool) *ApprovalResult {
	if !approved {
		return &ApprovalResult{Approved: false, Reason: "rejected_by_curator"}
	}

	dest := r.InferDestination(entry)
	result := &ApprovalResult{Approved: true, RoutedTo: dest}

	if err := r.deliver(ctx, entry, contextID, dest); err != nil {
		result.Reason = "queue_unavailable"
		r.logger.Warn("approved entry not delivered",
			"entry_id", entry.EntryID, "routed_to", dest, "error", err)
		return result
	}

	result.Queued = true
	return result
}

func (r *Router) deliver(ctx context.Context, entry *ScratchpadEntry, contextID, dest string) error {
	if r.svc == nil {
		return ErrUnavailable
	}

	msg := validateMessage{
		Action:      "validate_entry",
		EntryID:     entry.EntryID,
		ContextID:   contextID,
		Content:     entry.Content,
		EntryType:   entry.Type,
		SubmittedBy: entry.SubmittedBy,
		RoutedTo:    dest,
		CreatedAt:   entry.CreatedAt,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return r.svc.Push(ctx, AgentQueueName(dest), payload)
}

// ReadAgentQueue pops up to max pending messages for an agent. An
// unreachable queue degrades to an empty read.
func (r *Router) ReadAgentQueue(ctx context.Context, agent string, max int64) ([][]byte, bool) {
	if r.svc == nil {
		return nil, false
	}
	msgs, err := r.svc.Read(ctx, AgentQueueName(agent), max)
	if err != nil {
		r.logger.Warn("agent queue read degraded", "agent", agent, "error", err)
		return nil, false
	}
	return msgs, true
}
