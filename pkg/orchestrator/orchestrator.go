package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tapestry-ai/loom/pkg/audit"
	"github.com/tapestry-ai/loom/pkg/metrics"
	"github.com/tapestry-ai/loom/pkg/queue"
	"github.com/tapestry-ai/loom/pkg/trace"
)

// Orchestrator is the single writer of the context store. Every mutating
// operation validates first, appends its audit entry, and only then mutates
// in-memory state; a failed append aborts the operation with the store
// untouched, so the log and the store never disagree about whether an event
// happened. One mutation is in flight at a time.
type Orchestrator struct {
	mu       sync.RWMutex
	contexts map[string]*Context
	ingested map[string]bool
	grabs    map[string]string
	huddles  map[string]string

	log              *audit.Log
	queue            queue.Service
	logger           *slog.Logger
	metrics          metrics.Collector
	tracer           trace.Exporter
	clusterThreshold int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.metrics = c
		}
	}
}

// WithQueue sets the external queue/cache service used for grab
// coordination. Without it, grabs are granted locally and are never
// authoritative.
func WithQueue(q queue.Service) Option {
	return func(o *Orchestrator) {
		o.queue = q
	}
}

// WithTracer sets the trace exporter. Traces carry identifiers and timings
// only, never exchange text.
func WithTracer(t trace.Exporter) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithClusterThreshold overrides ClusterFlagThreshold for this instance.
func WithClusterThreshold(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.clusterThreshold = n
		}
	}
}

// New creates an Orchestrator writing to the given audit log. Construct one
// instance per process and pass it to callers; tests get isolation by
// constructing a fresh instance over a fresh log.
func New(log *audit.Log, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		contexts:         make(map[string]*Context),
		ingested:         make(map[string]bool),
		grabs:            make(map[string]string),
		huddles:          make(map[string]string),
		log:              log,
		logger:           slog.Default(),
		metrics:          metrics.NewNoopCollector(),
		clusterThreshold: ClusterFlagThreshold,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) record(ctx context.Context, op string, start time.Time, err error) {
	status := "success"
	kind := ""
	if err != nil {
		status = "error"
		kind = errorKind(err)
		o.metrics.RecordError(ctx, op, kind)
	}
	o.metrics.RecordOperation(ctx, op, status, time.Since(start).Milliseconds())
	o.metrics.SetChainHead(ctx, o.log.LastSequence())

	if o.tracer != nil {
		rec := &trace.TraceRecord{
			Timestamp:   start,
			OperationID: uuid.New().String(),
			Operation:   op,
			Sequence:    o.log.LastSequence(),
			DurationMs:  time.Since(start).Milliseconds(),
			Status:      status,
			ErrorType:   kind,
		}
		if exportErr := o.tracer.Export(ctx, rec); exportErr != nil {
			o.logger.Warn("trace export failed", "operation", op, "error", exportErr)
		}
	}
}

// errorKind maps an operation error to a metrics label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrContextNotFound), errors.Is(err, ErrRefNotFound):
		return "not_found"
	case strings.Contains(err.Error(), "audit"):
		return "storage"
	default:
		return "unknown"
	}
}

// CreateRootContext creates a parentless context in ACTIVE status.
func (o *Orchestrator) CreateRootContext(ctx context.Context, task string, priority Priority, createdBy string) (c *Context, err error) {
	start := time.Now()
	defer func() { o.record(ctx, "create_root_context", start, err) }()

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.createContextLocked(ctx, "", task, priority, createdBy)
}

// SpawnSidebar creates a child context off an ACTIVE parent. The parent
// passes through SPAWNING_CHILD and returns to ACTIVE within the operation.
func (o *Orchestrator) SpawnSidebar(ctx context.Context, parentID, task string, priority Priority, createdBy string) (c *Context, err error) {
	start := time.Now()
	defer func() { o.record(ctx, "spawn_sidebar", start, err) }()

	o.mu.Lock()
	defer o.mu.Unlock()

	parent, ok := o.contexts[parentID]
	if !ok {
		return nil, fmt.Errorf("parent %s: %w", parentID, ErrContextNotFound)
	}
	if parent.Status != StatusActive {
		return nil, fmt.Errorf("spawn_sidebar from %s: %w", parent.Status, ErrInvalidTransition)
	}

	parent.Status = StatusSpawningChild
	child, err := o.createContextLocked(ctx, parentID, task, priority, createdBy)
	if err != nil {
		parent.Status = StatusActive
		return nil, err
	}
	parent.ChildIDs = append(parent.ChildIDs, child.ID)
	parent.Status = StatusActive

	return child, nil
}

// createContextLocked appends the spawn event and registers the context.
func (o *Orchestrator) createContextLocked(ctx context.Context, parentID, task string, priority Priority, createdBy string) (*Context, error) {
	if priority == "" {
		priority = PriorityNormal
	}

	id := uuid.New().String()
	if _, err := o.log.Append(ctx, audit.EventContextSpawned, id, audit.SpawnPayload{
		ParentID:        parentID,
		TaskDescription: task,
		Priority:        string(priority),
	}, createdBy); err != nil {
		return nil, err
	}

	c := &Context{
		ID:              id,
		ParentID:        parentID,
		Status:          StatusActive,
		Priority:        priority,
		TaskDescription: task,
		CrossRefs:       make(map[string]*CrossRef),
		CreatedBy:       createdBy,
		CreatedAt:       time.Now().UTC(),
	}
	o.contexts[id] = c
	o.metrics.SetStorageCount(ctx, "contexts", int64(len(o.contexts)))

	o.logger.Info("context created", "context_id", id, "parent_id", parentID, "priority", priority)
	return c.clone(), nil
}

// transition applies a lifecycle operation: validate, append, mutate. The
// payload is built under the write lock, after validation, so it records the
// exact state the transition acted on.
func (o *Orchestrator) transition(ctx context.Context, op, id string, et audit.EventType, buildPayload func(*Context) audit.Payload, actor string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	c, ok := o.contexts[id]
	if !ok {
		return fmt.Errorf("context %s: %w", id, ErrContextNotFound)
	}
	if err := checkTransition(op, c.Status); err != nil {
		return err
	}
	if op == opMerge && !c.HasParent() {
		return fmt.Errorf("merge %s: %w", id, ErrParentRequired)
	}

	if _, err := o.log.Append(ctx, et, id, buildPayload(c), actor); err != nil {
		return err
	}

	from := c.Status
	c.Status = targetStatus[op]
	o.logger.Info("context transition", "context_id", id, "operation", op, "from", from, "to", c.Status)
	return nil
}

// fixedPayload adapts a payload that does not depend on current state to the
// builder form transition expects.
func fixedPayload(p audit.Payload) func(*Context) audit.Payload {
	return func(*Context) audit.Payload { return p }
}

// Pause suspends an active, waiting, reviewing, or testing context.
func (o *Orchestrator) Pause(ctx context.Context, id, reason, actor string) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, opPause, start, err) }()
	return o.transition(ctx, opPause, id, audit.EventContextPaused, fixedPayload(audit.PausePayload{Reason: reason}), actor)
}

// Resume returns a paused or waiting context to ACTIVE.
func (o *Orchestrator) Resume(ctx context.Context, id, actor string) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, opResume, start, err) }()
	return o.transition(ctx, opResume, id, audit.EventContextResumed, fixedPayload(audit.ResumePayload{}), actor)
}

// MarkWaiting parks an active context while it waits on an external input.
func (o *Orchestrator) MarkWaiting(ctx context.Context, id, actor string) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, opMarkWaiting, start, err) }()
	return o.transition(ctx, opMarkWaiting, id, audit.EventContextStatusChanged, func(c *Context) audit.Payload {
		return audit.StatusChangePayload{From: string(c.Status), To: string(StatusWaiting), Operation: opMarkWaiting}
	}, actor)
}

// BeginReview moves a context into REVIEWING ahead of consolidation.
func (o *Orchestrator) BeginReview(ctx context.Context, id, actor string) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, opBeginReview, start, err) }()
	return o.transition(ctx, opBeginReview, id, audit.EventContextStatusChanged, func(c *Context) audit.Payload {
		return audit.StatusChangePayload{From: string(c.Status), To: string(StatusReviewing), Operation: opBeginReview}
	}, actor)
}

// BeginTesting moves an active context into TESTING.
func (o *Orchestrator) BeginTesting(ctx context.Context, id, actor string) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, opBeginTesting, start, err) }()
	return o.transition(ctx, opBeginTesting, id, audit.EventContextStatusChanged, func(c *Context) audit.Payload {
		return audit.StatusChangePayload{From: string(c.Status), To: string(StatusTesting), Operation: opBeginTesting}
	}, actor)
}

// BeginConsolidation moves a reviewing context into CONSOLIDATING.
func (o *Orchestrator) BeginConsolidation(ctx context.Context, id, actor string) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, opConsolidation, start, err) }()
	return o.transition(ctx, opConsolidation, id, audit.EventContextConsolidating, fixedPayload(audit.ConsolidatingPayload{}), actor)
}

// Merge folds a sidebar back into its parent. The context must have a
// parent; MERGED is terminal except for archival. The parent keeps the
// child id for historical queries.
func (o *Orchestrator) Merge(ctx context.Context, id, actor string) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, opMerge, start, err) }()
	return o.transition(ctx, opMerge, id, audit.EventContextMerged, func(c *Context) audit.Payload {
		return audit.MergePayload{ParentID: c.ParentID, ExchangeCount: len(c.LocalMemory)}
	}, actor)
}

// Fail marks any non-terminal context FAILED.
func (o *Orchestrator) Fail(ctx context.Context, id, reason, actor string) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, opFail, start, err) }()
	return o.transition(ctx, opFail, id, audit.EventContextFailed, fixedPayload(audit.FailPayload{Reason: reason}), actor)
}

// Archive moves a context into ARCHIVED, the closest thing to deletion the
// system has. The record remains for audit and historical query.
func (o *Orchestrator) Archive(ctx context.Context, id, actor string) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, opArchive, start, err) }()
	return o.transition(ctx, opArchive, id, audit.EventContextArchived, fixedPayload(audit.ArchivePayload{}), actor)
}

// RecordExchange appends one exchange to a context's local memory.
func (o *Orchestrator) RecordExchange(ctx context.Context, id, role, content, actor string) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, "record_exchange", start, err) }()

	o.mu.Lock()
	defer o.mu.Unlock()

	c, ok := o.contexts[id]
	if !ok {
		return fmt.Errorf("context %s: %w", id, ErrContextNotFound)
	}

	if _, err := o.log.Append(ctx, audit.EventExchange, id, audit.ExchangePayload{
		Role:    role,
		Content: content,
	}, actor); err != nil {
		return err
	}

	c.LocalMemory = append(c.LocalMemory, Exchange{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// GetContext returns a deep copy of the context record.
func (o *Orchestrator) GetContext(id string) (*Context, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	c, ok := o.contexts[id]
	if !ok {
		return nil, fmt.Errorf("context %s: %w", id, ErrContextNotFound)
	}
	return c.clone(), nil
}

// ListContexts returns deep copies of every context, ordered by creation
// time then id for determinism.
func (o *Orchestrator) ListContexts() []*Context {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*Context, 0, len(o.contexts))
	for _, c := range o.contexts {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TreeNode is one node of a rendered context tree.
type TreeNode struct {
	Context  *Context
	Children []*TreeNode
}

// ListTree renders the tree rooted at the given context.
func (o *Orchestrator) ListTree(rootID string) (*TreeNode, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	root, ok := o.contexts[rootID]
	if !ok {
		return nil, fmt.Errorf("context %s: %w", rootID, ErrContextNotFound)
	}
	return o.buildTreeLocked(root), nil
}

func (o *Orchestrator) buildTreeLocked(c *Context) *TreeNode {
	node := &TreeNode{Context: c.clone()}
	childIDs := make([]string, len(c.ChildIDs))
	copy(childIDs, c.ChildIDs)
	sort.Strings(childIDs)
	for _, id := range childIDs {
		if child, ok := o.contexts[id]; ok {
			node.Children = append(node.Children, o.buildTreeLocked(child))
		}
	}
	return node
}

// RecordSessionStart logs the start of an interactive session.
func (o *Orchestrator) RecordSessionStart(ctx context.Context, sessionID, actor string) error {
	_, err := o.log.Append(ctx, audit.EventSessionStart, "", audit.SessionStartPayload{SessionID: sessionID}, actor)
	return err
}

// RecordSessionEnd logs the end of an interactive session.
func (o *Orchestrator) RecordSessionEnd(ctx context.Context, sessionID, actor string) error {
	_, err := o.log.Append(ctx, audit.EventSessionEnd, "", audit.SessionEndPayload{SessionID: sessionID}, actor)
	return err
}

// IngestContent records external content entering a context, deduplicated
// by SHA-256 of the raw content. Returns the content hash and whether the
// content had already been ingested (in which case no entry is appended).
func (o *Orchestrator) IngestContent(ctx context.Context, contextID, content, source, actor string) (hash string, deduped bool, err error) {
	start := time.Now()
	defer func() { o.record(ctx, "ingest_content", start, err) }()

	sum := sha256.Sum256([]byte(content))
	hash = hex.EncodeToString(sum[:])

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.contexts[contextID]; !ok {
		return "", false, fmt.Errorf("context %s: %w", contextID, ErrContextNotFound)
	}
	if o.ingested[hash] {
		return hash, true, nil
	}

	if _, err = o.log.Append(ctx, audit.EventContentIngested, contextID, audit.ContentIngestedPayload{
		ContentHash: hash,
		Source:      source,
		SizeBytes:   len(content),
	}, actor); err != nil {
		return "", false, err
	}
	o.ingested[hash] = true
	return hash, false, nil
}

// RecordMemoryStored logs that a memory artifact was persisted for a context.
func (o *Orchestrator) RecordMemoryStored(ctx context.Context, contextID, memoryID, topic, actor string) error {
	_, err := o.log.Append(ctx, audit.EventMemoryStored, contextID, audit.MemoryStoredPayload{
		MemoryID: memoryID,
		Topic:    topic,
	}, actor)
	return err
}

// RecordMemoryDistilled logs that sourceCount raw exchanges were distilled
// into one memory artifact.
func (o *Orchestrator) RecordMemoryDistilled(ctx context.Context, contextID, memoryID string, sourceCount int, actor string) error {
	_, err := o.log.Append(ctx, audit.EventMemoryDistilled, contextID, audit.MemoryDistilledPayload{
		MemoryID:    memoryID,
		SourceCount: sourceCount,
	}, actor)
	return err
}

// RecordError logs an operational error against a context.
func (o *Orchestrator) RecordError(ctx context.Context, contextID, kind, message, actor string) error {
	_, err := o.log.Append(ctx, audit.EventErrorLogged, contextID, audit.ErrorLoggedPayload{
		Kind:    kind,
		Message: message,
	}, actor)
	return err
}

// RecordCorrection appends a correction entry referencing an earlier
// sequence number. The original entry is never touched.
func (o *Orchestrator) RecordCorrection(ctx context.Context, originalSeq uint64, note, actor string) (*audit.Entry, error) {
	if _, err := o.log.Get(ctx, originalSeq); err != nil {
		return nil, fmt.Errorf("correction target %d: %w", originalSeq, err)
	}
	return o.log.Append(ctx, audit.EventCorrection, "", audit.CorrectionPayload{
		OriginalSequence: originalSeq,
		Note:             note,
	}, actor)
}

// VerifyChain verifies the audit chain and records the outcome as a
// verification_run entry. An integrity violation is reported in the result,
// never repaired or downgraded.
func (o *Orchestrator) VerifyChain(ctx context.Context, fromSeq uint64, actor string) (*audit.VerificationResult, error) {
	result, err := o.log.VerifyChain(ctx, fromSeq)
	if err != nil {
		return nil, err
	}

	if _, err := o.log.Append(ctx, audit.EventVerificationRun, "", audit.VerificationPayload{
		FromSequence:  result.FromSequence,
		Valid:         result.Valid,
		FirstMismatch: result.FirstMismatch,
		Checked:       result.Checked,
	}, actor); err != nil {
		return nil, err
	}
	return result, nil
}

// Log exposes the underlying audit log for read-only consumers.
func (o *Orchestrator) Log() *audit.Log { return o.log }
