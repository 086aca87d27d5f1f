package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/tapestry-ai/loom/pkg/audit"
)

// GrabTTL bounds how long an external grab claim survives if its holder
// never releases it. Local claims have no expiry; they die with the process.
const GrabTTL = 10 * time.Minute

// GrabResult reports the outcome of a grab attempt on a point of interest.
type GrabResult struct {
	// Granted means the calling actor now holds the point.
	Granted bool

	// Holder is the actor holding the point after this call.
	Holder string

	// Authoritative is false when the external cache was unreachable and
	// the claim is only tracked locally.
	Authoritative bool

	// HuddleContextID is set when a collision routed both actors into a
	// shared coordination context.
	HuddleContextID string

	// HuddleCreated is true only on the call that created the huddle.
	HuddleCreated bool
}

func grabKey(contextID, pointID string) string {
	return "grab:" + contextID + ":" + pointID
}

// GrabPoint attempts an atomic claim on a point of interest so two actors
// don't duplicate work on it. The first grab wins; a colliding grab is
// routed into a shared huddle context, at most one per (context, point)
// pair, no matter how many actors collide.
func (o *Orchestrator) GrabPoint(ctx context.Context, contextID, pointID, actor string) (res *GrabResult, err error) {
	start := time.Now()
	defer func() { o.record(ctx, "grab_point", start, err) }()

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.contexts[contextID]; !ok {
		return nil, fmt.Errorf("context %s: %w", contextID, ErrContextNotFound)
	}

	key := grabKey(contextID, pointID)
	holder, held := o.grabs[key]

	if !held {
		authoritative := false
		if o.queue != nil {
			won, qerr := o.queue.SetNX(ctx, key, actor, GrabTTL)
			if qerr != nil {
				o.logger.Warn("grab degraded: external cache unreachable", "key", key, "error", qerr)
			} else {
				authoritative = true
				if !won {
					// Another process holds the claim; treat it like a
					// local collision with an unknown holder.
					return o.collideLocked(ctx, contextID, pointID, actor, "remote", authoritative)
				}
			}
		}
		o.grabs[key] = actor
		return &GrabResult{Granted: true, Holder: actor, Authoritative: authoritative}, nil
	}

	if holder == actor {
		return &GrabResult{Granted: true, Holder: actor, Authoritative: o.queue != nil}, nil
	}

	return o.collideLocked(ctx, contextID, pointID, actor, holder, o.queue != nil)
}

// collideLocked resolves a grab collision by ensuring exactly one huddle
// context exists for the (context, point) pair.
func (o *Orchestrator) collideLocked(ctx context.Context, contextID, pointID, actor, holder string, authoritative bool) (*GrabResult, error) {
	huddleKey := contextID + "|" + pointID
	if huddleID, ok := o.huddles[huddleKey]; ok {
		return &GrabResult{
			Holder:          holder,
			Authoritative:   authoritative,
			HuddleContextID: huddleID,
		}, nil
	}

	task := fmt.Sprintf("huddle: coordinate work on point %s", pointID)
	huddle, err := o.createContextLocked(ctx, contextID, task, PriorityHigh, actor)
	if err != nil {
		return nil, err
	}

	// Append before registering so a failed append leaves no huddle the log
	// never recorded; a later collision then retries creation.
	if _, err := o.log.Append(ctx, audit.EventHuddleCreated, contextID, audit.HuddlePayload{
		PointID:         pointID,
		Actors:          []string{holder, actor},
		HuddleContextID: huddle.ID,
	}, actor); err != nil {
		return nil, err
	}

	if parent, ok := o.contexts[contextID]; ok {
		parent.ChildIDs = append(parent.ChildIDs, huddle.ID)
	}
	o.huddles[huddleKey] = huddle.ID

	o.logger.Info("huddle created",
		"context_id", contextID, "point_id", pointID, "huddle_id", huddle.ID, "actors", []string{holder, actor})

	return &GrabResult{
		Holder:          holder,
		Authoritative:   authoritative,
		HuddleContextID: huddle.ID,
		HuddleCreated:   true,
	}, nil
}

// GrabState reports who holds a point locally, if anyone.
func (o *Orchestrator) GrabState(contextID, pointID string) (holder string, held bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	holder, held = o.grabs[grabKey(contextID, pointID)]
	return holder, held
}

// ReleasePoint drops the local claim on a point. The external claim, if
// any, expires on its own via GrabTTL.
func (o *Orchestrator) ReleasePoint(contextID, pointID, actor string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := grabKey(contextID, pointID)
	if o.grabs[key] != actor {
		return false
	}
	delete(o.grabs, key)
	return true
}
