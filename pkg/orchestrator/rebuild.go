package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/tapestry-ai/loom/pkg/audit"
)

// Rebuild reconstructs the context store by replaying the audit log from
// genesis. The log is the ground truth; the in-memory store is a rebuildable
// cache of it. Existing in-memory state is discarded.
func (o *Orchestrator) Rebuild(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, "rebuild", start, err) }()

	last := o.log.LastSequence()
	entries, err := o.log.Range(ctx, 1, last)
	if err != nil {
		return fmt.Errorf("failed to read log for rebuild: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.contexts = make(map[string]*Context)
	o.ingested = make(map[string]bool)
	o.huddles = make(map[string]string)

	for _, e := range entries {
		if err := o.applyLocked(e); err != nil {
			return fmt.Errorf("failed to replay entry %d: %w", e.Sequence, err)
		}
	}

	o.logger.Info("context store rebuilt", "entries", len(entries), "contexts", len(o.contexts))
	return nil
}

func (o *Orchestrator) applyLocked(e *audit.Entry) error {
	switch e.Type {
	case audit.EventContextSpawned:
		var p audit.SpawnPayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		c := &Context{
			ID:              e.ContextID,
			ParentID:        p.ParentID,
			Status:          StatusActive,
			Priority:        Priority(p.Priority),
			TaskDescription: p.TaskDescription,
			CrossRefs:       make(map[string]*CrossRef),
			CreatedBy:       e.Actor,
			CreatedAt:       e.Timestamp,
		}
		o.contexts[e.ContextID] = c
		if parent, ok := o.contexts[p.ParentID]; ok && !parent.hasChild(e.ContextID) {
			parent.ChildIDs = append(parent.ChildIDs, e.ContextID)
		}

	case audit.EventExchange:
		var p audit.ExchangePayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		if c, ok := o.contexts[e.ContextID]; ok {
			c.LocalMemory = append(c.LocalMemory, Exchange{
				Role:      p.Role,
				Content:   p.Content,
				CreatedAt: e.Timestamp,
			})
		}

	case audit.EventContextPaused:
		o.setStatusLocked(e.ContextID, StatusPaused)
	case audit.EventContextResumed:
		o.setStatusLocked(e.ContextID, StatusActive)
	case audit.EventContextConsolidating:
		o.setStatusLocked(e.ContextID, StatusConsolidating)
	case audit.EventContextMerged:
		o.setStatusLocked(e.ContextID, StatusMerged)
	case audit.EventContextFailed:
		o.setStatusLocked(e.ContextID, StatusFailed)
	case audit.EventContextArchived:
		o.setStatusLocked(e.ContextID, StatusArchived)

	case audit.EventContextStatusChanged:
		var p audit.StatusChangePayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		o.setStatusLocked(e.ContextID, Status(p.To))

	case audit.EventCrossRefAdded:
		var p audit.CrossRefAddedPayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		o.replayCrossRefLocked(e.ContextID, p, e.Timestamp)

	case audit.EventCrossRefValidated:
		var p audit.CrossRefValidatedPayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		if forward, inverse, err := o.refPairLocked(e.ContextID, p.TargetID); err == nil {
			state := ValidationConfirmed
			if !p.Valid {
				state = ValidationRejected
			}
			forward.ValidationState = state
			inverse.ValidationState = state
		}

	case audit.EventCrossRefPrioritySet:
		var p audit.CrossRefPrioritySetPayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		if forward, inverse, err := o.refPairLocked(e.ContextID, p.TargetID); err == nil {
			forward.ValidationPriority = ValidationPriority(p.Priority)
			inverse.ValidationPriority = ValidationPriority(p.Priority)
		}

	case audit.EventHuddleCreated:
		var p audit.HuddlePayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		o.huddles[e.ContextID+"|"+p.PointID] = p.HuddleContextID

	case audit.EventContentIngested:
		var p audit.ContentIngestedPayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		o.ingested[p.ContentHash] = true
	}

	// Session, memory, correction, error, anchor, and verification entries
	// carry no context store state.
	return nil
}

func (o *Orchestrator) setStatusLocked(id string, status Status) {
	if c, ok := o.contexts[id]; ok {
		c.Status = status
	}
}

// replayCrossRefLocked re-applies one crossref_added event through the same
// mutation path AddCrossRef uses, so suggester-set growth and cluster
// flagging come out identical.
func (o *Orchestrator) replayCrossRefLocked(sourceID string, p audit.CrossRefAddedPayload, at time.Time) {
	src, ok := o.contexts[sourceID]
	if !ok {
		return
	}
	tgt, ok := o.contexts[p.TargetID]
	if !ok {
		return
	}
	o.applyCrossRefLocked(src, tgt, RefType(p.RefType), p.SuggestedBy, p.Confidence, at)
}
