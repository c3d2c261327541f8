package automerge

import "fmt"

// OutcomeKind is the result category of a merge operation.
type OutcomeKind uint8

const (
	OutcomeUndefined OutcomeKind = iota
	// OutcomeMerged is returned when the pull request was merged, also
	// when it had already been merged before.
	OutcomeMerged
	// OutcomeConflict is returned when the head of the pull request
	// changed after it was evaluated.
	OutcomeConflict
	// OutcomeRateLimited is returned when the API quota is exhausted.
	OutcomeRateLimited
	// OutcomeTransientError is returned when the operation failed
	// temporarily and all retries failed.
	OutcomeTransientError
	// OutcomePermanentError is returned when GitHub refused to merge the
	// pull request, e.g. because of branch protection rules.
	OutcomePermanentError
)

var outcomeKindStrings = [...]string{
	OutcomeUndefined:      "undefined",
	OutcomeMerged:         "merged",
	OutcomeConflict:       "conflict",
	OutcomeRateLimited:    "rate-limited",
	OutcomeTransientError: "transient-error",
	OutcomePermanentError: "permanent-error",
}

func (k OutcomeKind) String() string {
	if int(k) > len(outcomeKindStrings)-1 {
		return fmt.Sprintf("unsupported OutcomeKind value: %d", k)
	}

	return outcomeKindStrings[k]
}

// MergeOutcome is the result of merging a pull request.
type MergeOutcome struct {
	Kind OutcomeKind
	// Attempts is the number of merge requests that were sent.
	Attempts int
	// MergeCommit is the SHA of the commit that was created by the merge.
	// It is empty when the pull request was merged before or the merge
	// was simulated.
	MergeCommit string
	// Simulated is true if the merge was not executed because of dry-run
	// mode.
	Simulated bool
	// Err is the error that caused the outcome, it is nil for
	// OutcomeMerged.
	Err error
}

// Failed returns true if the outcome is a failure of the merge operation.
// Conflicts and rate limits are not failures of the pull request, they are
// resolved by a later run.
func (o *MergeOutcome) Failed() bool {
	return o.Kind == OutcomeTransientError || o.Kind == OutcomePermanentError
}

func (o *MergeOutcome) String() string {
	if o.Simulated {
		return o.Kind.String() + " (simulated)"
	}

	return o.Kind.String()
}
