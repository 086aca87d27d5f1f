package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tapestry-ai/loom/pkg/audit"
)

// ClusterFlagThreshold is how many distinct suggesters must independently
// propose the same cross-reference before it is flagged for validation.
// Tunable policy, not a structural constant.
const ClusterFlagThreshold = 3

// CrossRefResult reports the outcome of an AddCrossRef call.
type CrossRefResult struct {
	SourceID string
	TargetID string

	// ClusterFlagged is the flag state after this call.
	ClusterFlagged bool

	// NewlyFlagged is true exactly on the call that crossed the
	// threshold, and never again for the same pair.
	NewlyFlagged bool

	// SourceCount is the number of distinct suggesters after this call.
	SourceCount int
}

// AddCrossRef records that suggestedBy believes source and target are
// related. A new pair gets a fresh ref with a single suggester; an existing
// pair grows its suggester set (idempotently). The inverse ref type is
// written on the target so the relationship is visible from both ends, and
// both directions share one suggester set and flag state.
//
// Crossing ClusterFlagThreshold distinct suggesters sets ClusterFlagged and
// bumps ValidationPriority to urgent.
func (o *Orchestrator) AddCrossRef(ctx context.Context, sourceID, targetID string, refType RefType, suggestedBy string, confidence float64, reason string) (res *CrossRefResult, err error) {
	start := time.Now()
	defer func() { o.record(ctx, "add_cross_ref", start, err) }()

	if sourceID == targetID {
		return nil, fmt.Errorf("cross-ref %s -> %s: %w", sourceID, targetID, ErrSelfReference)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	src, ok := o.contexts[sourceID]
	if !ok {
		return nil, fmt.Errorf("context %s: %w", sourceID, ErrContextNotFound)
	}
	tgt, ok := o.contexts[targetID]
	if !ok {
		return nil, fmt.Errorf("context %s: %w", targetID, ErrContextNotFound)
	}

	if _, err = o.log.Append(ctx, audit.EventCrossRefAdded, sourceID, audit.CrossRefAddedPayload{
		TargetID:    targetID,
		RefType:     string(refType),
		SuggestedBy: suggestedBy,
		Confidence:  confidence,
		Reason:      reason,
	}, suggestedBy); err != nil {
		return nil, err
	}

	forward, newlyFlagged := o.applyCrossRefLocked(src, tgt, refType, suggestedBy, confidence, time.Now().UTC())
	if newlyFlagged {
		o.logger.Info("cross-ref cluster flagged",
			"source_id", sourceID, "target_id", targetID, "sources", len(forward.SuggestedSources))
	}

	return &CrossRefResult{
		SourceID:       sourceID,
		TargetID:       targetID,
		ClusterFlagged: forward.ClusterFlagged,
		NewlyFlagged:   newlyFlagged,
		SourceCount:    len(forward.SuggestedSources),
	}, nil
}

// applyCrossRefLocked is the single mutation path for cross-ref
// suggestions, shared by AddCrossRef and log replay. The forward and
// inverse refs share one suggester set, so both directions stay in sync.
func (o *Orchestrator) applyCrossRefLocked(src, tgt *Context, refType RefType, suggestedBy string, confidence float64, at time.Time) (*CrossRef, bool) {
	forward := src.CrossRefs[tgt.ID]
	if forward == nil {
		forward = &CrossRef{
			TargetID:           tgt.ID,
			Type:               refType,
			SuggestedSources:   map[string]bool{},
			Confidence:         confidence,
			ValidationPriority: ValidationNormal,
			ValidationState:    ValidationUnvalidated,
			CreatedAt:          at,
		}
		src.CrossRefs[tgt.ID] = forward
	}

	inverse := tgt.CrossRefs[src.ID]
	if inverse == nil {
		inverse = &CrossRef{
			TargetID:           src.ID,
			Type:               refType.Inverse(),
			SuggestedSources:   forward.SuggestedSources,
			Confidence:         forward.Confidence,
			ValidationPriority: forward.ValidationPriority,
			ValidationState:    forward.ValidationState,
			CreatedAt:          forward.CreatedAt,
		}
		tgt.CrossRefs[src.ID] = inverse
	}

	forward.SuggestedSources[suggestedBy] = true
	if confidence > forward.Confidence {
		forward.Confidence = confidence
		inverse.Confidence = confidence
	}

	newlyFlagged := false
	if !forward.ClusterFlagged && len(forward.SuggestedSources) >= o.clusterThreshold {
		forward.ClusterFlagged = true
		inverse.ClusterFlagged = true
		forward.ValidationPriority = ValidationUrgent
		inverse.ValidationPriority = ValidationUrgent
		newlyFlagged = true
	}
	return forward, newlyFlagged
}

// ValidateCrossRef records a human/agent verdict on a ref. Both directions
// of the pair are marked; a validated ref never reappears in validation
// prompts or flagged-ref queries (unless validated refs are requested
// explicitly).
func (o *Orchestrator) ValidateCrossRef(ctx context.Context, sourceID, targetID string, valid bool, validatedBy string) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, "validate_cross_ref", start, err) }()

	o.mu.Lock()
	defer o.mu.Unlock()

	forward, inverse, err := o.refPairLocked(sourceID, targetID)
	if err != nil {
		return err
	}

	if _, err = o.log.Append(ctx, audit.EventCrossRefValidated, sourceID, audit.CrossRefValidatedPayload{
		TargetID:    targetID,
		Valid:       valid,
		ValidatedBy: validatedBy,
	}, validatedBy); err != nil {
		return err
	}

	state := ValidationConfirmed
	if !valid {
		state = ValidationRejected
	}
	forward.ValidationState = state
	inverse.ValidationState = state
	return nil
}

// SetValidationPriority is the explicit human override for a ref's
// validation priority. Automatic bumps are monotonic (clustering never
// lowers a priority), but an operator may raise or lower it deliberately.
func (o *Orchestrator) SetValidationPriority(ctx context.Context, sourceID, targetID string, priority ValidationPriority, actor string) (err error) {
	start := time.Now()
	defer func() { o.record(ctx, "set_validation_priority", start, err) }()

	o.mu.Lock()
	defer o.mu.Unlock()

	forward, inverse, err := o.refPairLocked(sourceID, targetID)
	if err != nil {
		return err
	}

	if _, err = o.log.Append(ctx, audit.EventCrossRefPrioritySet, sourceID, audit.CrossRefPrioritySetPayload{
		TargetID: targetID,
		Priority: string(priority),
	}, actor); err != nil {
		return err
	}

	forward.ValidationPriority = priority
	inverse.ValidationPriority = priority
	return nil
}

func (o *Orchestrator) refPairLocked(sourceID, targetID string) (*CrossRef, *CrossRef, error) {
	src, ok := o.contexts[sourceID]
	if !ok {
		return nil, nil, fmt.Errorf("context %s: %w", sourceID, ErrContextNotFound)
	}
	tgt, ok := o.contexts[targetID]
	if !ok {
		return nil, nil, fmt.Errorf("context %s: %w", targetID, ErrContextNotFound)
	}
	forward := src.CrossRefs[targetID]
	inverse := tgt.CrossRefs[sourceID]
	if forward == nil || inverse == nil {
		return nil, nil, fmt.Errorf("ref %s -> %s: %w", sourceID, targetID, ErrRefNotFound)
	}
	return forward, inverse, nil
}

// FlaggedRef is one cluster-flagged cross-reference, reported once per pair
// (from the direction whose source id sorts first).
type FlaggedRef struct {
	SourceID           string
	TargetID           string
	Type               RefType
	SourceCount        int
	Confidence         float64
	ValidationState    ValidationState
	ValidationPriority ValidationPriority
}

// GetClusterFlaggedRefs scans all contexts and returns cluster-flagged
// refs. Validated refs are excluded unless includeValidated is set.
func (o *Orchestrator) GetClusterFlaggedRefs(includeValidated bool) []FlaggedRef {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var out []FlaggedRef
	for id, c := range o.contexts {
		for targetID, ref := range c.CrossRefs {
			if !ref.ClusterFlagged {
				continue
			}
			if id > targetID {
				continue // the other direction reports this pair
			}
			if !includeValidated && ref.ValidationState != ValidationUnvalidated {
				continue
			}
			out = append(out, FlaggedRef{
				SourceID:           id,
				TargetID:           targetID,
				Type:               ref.Type,
				SourceCount:        len(ref.SuggestedSources),
				Confidence:         ref.Confidence,
				ValidationState:    ref.ValidationState,
				ValidationPriority: ref.ValidationPriority,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

// RefView is a read-only projection of one cross-reference, as consumed by
// the validation prompt surfacer.
type RefView struct {
	SourceID           string
	TargetID           string
	Type               RefType
	Confidence         float64
	ClusterFlagged     bool
	ValidationPriority ValidationPriority
	ValidationState    ValidationState
	SourceCount        int
	CreatedAt          time.Time
}

// VisibleRefs returns the refs visible from a context, in deterministic
// target-id order.
func (o *Orchestrator) VisibleRefs(contextID string) ([]RefView, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	c, ok := o.contexts[contextID]
	if !ok {
		return nil, fmt.Errorf("context %s: %w", contextID, ErrContextNotFound)
	}

	targetIDs := make([]string, 0, len(c.CrossRefs))
	for id := range c.CrossRefs {
		targetIDs = append(targetIDs, id)
	}
	sort.Strings(targetIDs)

	out := make([]RefView, 0, len(targetIDs))
	for _, id := range targetIDs {
		ref := c.CrossRefs[id]
		out = append(out, RefView{
			SourceID:           contextID,
			TargetID:           id,
			Type:               ref.Type,
			Confidence:         ref.Confidence,
			ClusterFlagged:     ref.ClusterFlagged,
			ValidationPriority: ref.ValidationPriority,
			ValidationState:    ref.ValidationState,
			SourceCount:        len(ref.SuggestedSources),
			CreatedAt:          ref.CreatedAt,
		})
	}
	return out, nil
}
