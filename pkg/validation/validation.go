// Package validation ranks cross-references by how urgently they need a
// human or agent verdict. It is a pure computation over current context
// state: no storage, no side effects.
package validation

import (
	"sort"
	"time"

	"github.com/tapestry-ai/loom/pkg/orchestrator"
)

// Urgency score contributions. Scores are additive; a ref can collect
// several reasons at once.
const (
	ScoreCiting          = 100
	ScoreExchangeCreated = 50
	ScoreClusterFlagged  = 30
	ScoreLowConfidence   = 20
	ScoreUrgentPriority  = 25
	ScoreStale           = 15
)

// LowConfidenceThreshold marks refs whose confidence needs a second look.
const LowConfidenceThreshold = 0.7

// DefaultStaleAfter is how long an unvalidated ref may sit before the
// stale bonus applies.
const DefaultStaleAfter = 4 * 24 * time.Hour

// Prompt is one validation request, derived rather than stored.
type Prompt struct {
	SourceContextID string
	TargetContextID string
	RefType         orchestrator.RefType
	UrgencyScore    int
	UrgencyReasons  []string
}

// Prompts partitions validation requests by surfacing channel. Inline
// prompts interrupt the current turn; scratchpad prompts wait.
type Prompts struct {
	Inline     []Prompt
	Scratchpad []Prompt
}

// Options tunes scoring. The zero value uses defaults.
type Options struct {
	// StaleAfter overrides DefaultStaleAfter when positive.
	StaleAfter time.Duration

	// Now overrides the clock used for staleness, for tests.
	Now time.Time
}

// Surface scores every unvalidated ref and routes it to the inline or
// scratchpad channel. citingRefs are target ids actively referenced this
// turn; exchangeCreatedRefs are target ids whose refs were created this
// turn. Validated refs never appear, regardless of score.
func Surface(refs []orchestrator.RefView, citingRefs, exchangeCreatedRefs []string, opts Options) Prompts {
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	citing := toSet(citingRefs)
	exchangeCreated := toSet(exchangeCreatedRefs)

	var out Prompts
	for _, ref := range refs {
		if ref.ValidationState != orchestrator.ValidationUnvalidated {
			continue
		}

		score := 0
		var reasons []string

		if citing[ref.TargetID] {
			score += ScoreCiting
			reasons = append(reasons, "actively_cited")
		}
		if exchangeCreated[ref.TargetID] {
			score += ScoreExchangeCreated
			reasons = append(reasons, "created_this_turn")
		}
		if ref.ClusterFlagged {
			score += ScoreClusterFlagged
			reasons = append(reasons, "cluster_flagged")
		}
		if ref.Confidence < LowConfidenceThreshold {
			score += ScoreLowConfidence
			reasons = append(reasons, "low_confidence")
		}
		if ref.ValidationPriority == orchestrator.ValidationUrgent {
			score += ScoreUrgentPriority
			reasons = append(reasons, "urgent_priority")
		}
		if !ref.CreatedAt.IsZero() && now.Sub(ref.CreatedAt) > staleAfter {
			score += ScoreStale
			reasons = append(reasons, "stale")
		}

		p := Prompt{
			SourceContextID: ref.SourceID,
			TargetContextID: ref.TargetID,
			RefType:         ref.Type,
			UrgencyScore:    score,
			UrgencyReasons:  reasons,
		}
		if citing[ref.TargetID] {
			out.Inline = append(out.Inline, p)
		} else {
			out.Scratchpad = append(out.Scratchpad, p)
		}
	}

	sortPrompts(out.Inline)
	sortPrompts(out.Scratchpad)
	return out
}

// sortPrompts orders by descending urgency, target id as tiebreaker so
// equal-score output stays deterministic.
func sortPrompts(ps []Prompt) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].UrgencyScore != ps[j].UrgencyScore {
			return ps[i].UrgencyScore > ps[j].UrgencyScore
		}
		return ps[i].TargetContextID < ps[j].TargetContextID
	})
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
