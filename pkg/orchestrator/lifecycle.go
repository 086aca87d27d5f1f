package orchestrator

import "fmt"

// Lifecycle operations, used both for transition validation and as the
// operation label in errors and metrics.
const (
	opPause         = "pause"
	opResume        = "resume"
	opMarkWaiting   = "mark_waiting"
	opBeginReview   = "begin_review"
	opBeginTesting  = "begin_testing"
	opConsolidation = "begin_consolidation"
	opMerge         = "merge"
	opFail          = "fail"
	opArchive       = "archive"
)

// transitions maps each operation to the set of statuses it may be applied
// from. An operation requested from any other status is rejected with
// ErrInvalidTransition and the status left unchanged.
var transitions = map[string]map[Status]bool{
	opPause: {
		StatusActive:    true,
		StatusWaiting:   true,
		StatusReviewing: true,
		StatusTesting:   true,
	},
	opResume: {
		StatusPaused:  true,
		StatusWaiting: true,
	},
	opMarkWaiting: {
		StatusActive: true,
	},
	opBeginReview: {
		StatusActive: true,
		StatusPaused: true,
	},
	opBeginTesting: {
		StatusActive: true,
	},
	opConsolidation: {
		StatusReviewing: true,
	},
	opMerge: {
		StatusActive:        true,
		StatusPaused:        true,
		StatusWaiting:       true,
		StatusTesting:       true,
		StatusReviewing:     true,
		StatusConsolidating: true,
	},
}

// targetStatus is the status each operation lands in.
var targetStatus = map[string]Status{
	opPause:         StatusPaused,
	opResume:        StatusActive,
	opMarkWaiting:   StatusWaiting,
	opBeginReview:   StatusReviewing,
	opBeginTesting:  StatusTesting,
	opConsolidation: StatusConsolidating,
	opMerge:         StatusMerged,
	opFail:          StatusFailed,
	opArchive:       StatusArchived,
}

// checkTransition validates that op may be applied to a context currently
// in from. Fail accepts any non-terminal status; archive accepts anything
// not already archived.
func checkTransition(op string, from Status) error {
	switch op {
	case opFail:
		if from.Terminal() {
			return fmt.Errorf("%s from %s: %w", op, from, ErrInvalidTransition)
		}
		return nil
	case opArchive:
		if from == StatusArchived {
			return fmt.Errorf("%s from %s: %w", op, from, ErrInvalidTransition)
		}
		return nil
	}

	allowed, ok := transitions[op]
	if !ok || !allowed[from] {
		return fmt.Errorf("%s from %s: %w", op, from, ErrInvalidTransition)
	}
	return nil
}
