package automerge

import "fmt"

// Decision is the classification of a pull request by Evaluate.
type Decision uint8

const (
	DecisionUndefined Decision = iota
	// DecisionMerge means the pull request is ready to be merged.
	DecisionMerge
	// DecisionSkip means the pull request can not be merged and is not
	// expected to become mergeable without manual intervention.
	DecisionSkip
	// DecisionDefer means the pull request can not be merged yet but is
	// expected to become mergeable on it's own, e.g. when CI jobs
	// finished.
	DecisionDefer
)

var decisionStrings = [...]string{
	DecisionUndefined: "undefined",
	DecisionMerge:     "merge",
	DecisionSkip:      "skip",
	DecisionDefer:     "defer",
}

func (d Decision) String() string {
	if int(d) > len(decisionStrings)-1 {
		return fmt.Sprintf("unsupported Decision value: %d", d)
	}

	return decisionStrings[d]
}

// Reasons for Skip and Defer verdicts.
const (
	ReasonDraft              = "draft"
	ReasonAuthorNotInclusive = "author-not-inclusive"
	ReasonLocked             = "locked"
	ReasonExclusionLabel     = "exclusion-label"
	ReasonFilterMismatch     = "filter-mismatch"
	ReasonConflicts          = "conflicts"
	ReasonChecksFailed       = "checks-failed"
	ReasonChangesRequested   = "changes-requested"

	ReasonMergeabilityUnresolved = "mergeability-unresolved"
	ReasonChecksPending          = "checks-pending"
	ReasonAwaitingReview         = "awaiting-review"
	ReasonTooYoung               = "too-young"
	ReasonUnknownState           = "unknown-state"
	ReasonMergeLimitReached      = "merge-limit-reached"
)

// Verdict is the result of evaluating a pull request.
// Reason is empty for Merge verdicts.
type Verdict struct {
	Decision Decision
	Reason   string
}

func Merge() Verdict {
	return Verdict{Decision: DecisionMerge}
}

func Skip(reason string) Verdict {
	return Verdict{Decision: DecisionSkip, Reason: reason}
}

func Defer(reason string) Verdict {
	return Verdict{Decision: DecisionDefer, Reason: reason}
}

func (v Verdict) String() string {
	if v.Reason == "" {
		return v.Decision.String()
	}

	return fmt.Sprintf("%s(%s)", v.Decision, v.Reason)
}
