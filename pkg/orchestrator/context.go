// Package orchestrator coordinates the tree of conversation contexts: the
// ten-state lifecycle, cross-reference clustering, and grab/huddle
// coordination. It is the only writer of the context store, and every
// mutation is paired atomically with an audit log append.
package orchestrator

import (
	"sort"
	"time"
)

// Status is a context's lifecycle state.
type Status string

const (
	StatusActive        Status = "ACTIVE"
	StatusTesting       Status = "TESTING"
	StatusPaused        Status = "PAUSED"
	StatusWaiting       Status = "WAITING"
	StatusReviewing     Status = "REVIEWING"
	StatusSpawningChild Status = "SPAWNING_CHILD"
	StatusConsolidating Status = "CONSOLIDATING"
	StatusMerged        Status = "MERGED"
	StatusArchived      Status = "ARCHIVED"
	StatusFailed        Status = "FAILED"
)

// Terminal reports whether no lifecycle transition except archival is
// possible from this status.
func (s Status) Terminal() bool {
	return s == StatusMerged || s == StatusArchived || s == StatusFailed
}

// Priority orders contexts for scheduling and display.
type Priority string

const (
	PriorityCritical   Priority = "CRITICAL"
	PriorityHigh       Priority = "HIGH"
	PriorityNormal     Priority = "NORMAL"
	PriorityLow        Priority = "LOW"
	PriorityBackground Priority = "BACKGROUND"
)

// RefType classifies a cross-reference between two contexts.
type RefType string

const (
	RefRelatedTo  RefType = "related_to"
	RefDependsOn  RefType = "depends_on"
	RefInforms    RefType = "informs"
	RefCites      RefType = "cites"
	RefCitedBy    RefType = "cited_by"
	RefDuplicates RefType = "duplicates"
)

// Inverse returns the ref type written on the target context when a ref is
// created. Symmetric types map to themselves, so the mapping is involutive.
func (t RefType) Inverse() RefType {
	switch t {
	case RefDependsOn:
		return RefInforms
	case RefInforms:
		return RefDependsOn
	case RefCites:
		return RefCitedBy
	case RefCitedBy:
		return RefCites
	default:
		return t
	}
}

// ValidationState tracks whether a human or agent has confirmed a ref.
type ValidationState string

const (
	ValidationUnvalidated ValidationState = "unvalidated"
	ValidationConfirmed   ValidationState = "true"
	ValidationRejected    ValidationState = "false"
)

// ValidationPriority is how urgently a ref needs confirmation.
type ValidationPriority string

const (
	ValidationNormal ValidationPriority = "normal"
	ValidationUrgent ValidationPriority = "urgent"
)

// CrossRef is the metadata attached to one directed cross-reference. Growing
// SuggestedSources is the only mutation path for suggestions; ClusterFlagged
// never reverts to false once set.
type CrossRef struct {
	TargetID           string
	Type               RefType
	SuggestedSources   map[string]bool
	Confidence         float64
	ClusterFlagged     bool
	ValidationPriority ValidationPriority
	ValidationState    ValidationState
	CreatedAt          time.Time
}

// SourceCount returns the number of distinct suggesters.
func (r *CrossRef) SourceCount() int { return len(r.SuggestedSources) }

// Sources returns the suggester identities in sorted order.
func (r *CrossRef) Sources() []string {
	out := make([]string, 0, len(r.SuggestedSources))
	for s := range r.SuggestedSources {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (r *CrossRef) clone() *CrossRef {
	cp := *r
	cp.SuggestedSources = make(map[string]bool, len(r.SuggestedSources))
	for s := range r.SuggestedSources {
		cp.SuggestedSources[s] = true
	}
	return &cp
}

// Exchange is one user/assistant message pair element recorded while its
// context was active. Exchanges are exclusively owned by their context.
type Exchange struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Context is one branch of the conversation. ParentID is a lookup key, not
// an owning reference; once set it never changes. ChildIDs and the
// children's ParentID always agree.
type Context struct {
	ID              string
	ParentID        string
	Status          Status
	Priority        Priority
	TaskDescription string
	LocalMemory     []Exchange
	ChildIDs        []string
	CrossRefs       map[string]*CrossRef
	CreatedBy       string
	CreatedAt       time.Time
}

// HasParent reports whether this context was spawned off another.
func (c *Context) HasParent() bool { return c.ParentID != "" }

func (c *Context) hasChild(id string) bool {
	for _, cid := range c.ChildIDs {
		if cid == id {
			return true
		}
	}
	return false
}

// clone returns a deep copy, so readers never share mutable state with the
// store.
func (c *Context) clone() *Context {
	cp := *c
	cp.LocalMemory = make([]Exchange, len(c.LocalMemory))
	copy(cp.LocalMemory, c.LocalMemory)
	cp.ChildIDs = make([]string, len(c.ChildIDs))
	copy(cp.ChildIDs, c.ChildIDs)
	cp.CrossRefs = make(map[string]*CrossRef, len(c.CrossRefs))
	for id, ref := range c.CrossRefs {
		cp.CrossRefs[id] = ref.clone()
	}
	return &cp
}
