package automerge

import (
	"errors"
	"fmt"
	"time"
)

// Evaluate decides if a pull request can be merged according to the policy.
// It never fails, states that can not be interpreted result in
// Defer(ReasonUnknownState).
//
// Rules are evaluated in the following order, the first one that applies
// determines the verdict:
//
//  1. author is not in the inclusive author set: Skip(author-not-inclusive)
//  2. draft: Skip(draft)
//  3. locked: Skip(locked)
//  4. has an exclusion label: Skip(exclusion-label)
//  5. filter query evaluates to false: Skip(filter-mismatch)
//  6. conflicts with the base branch: Skip(conflicts)
//  7. mergeable state not computed yet: Defer(mergeability-unresolved)
//  8. checks pending: Defer(checks-pending)
//  9. checks failed: Skip(checks-failed)
//  10. changes were requested: Skip(changes-requested)
//  11. approval required but not approved: Defer(awaiting-review)
//  12. younger than the minimum age: Defer(too-young)
//  13. otherwise: Merge
//
// A requested change overrules a missing approval, a pull request that was
// explicitly rejected is skipped instead of deferred.
// If RequireApproval is not set in the rules, the branch protection rule of
// the base branch decides if an approval is required. A review that GitHub
// reports as required always results in Defer(awaiting-review), GitHub
// refuses the merge otherwise.
//
// The check status is failed if any check failed, also when the check is
// not required.
func Evaluate(pr *PullRequest, policy *Policy, now time.Time) Verdict {
	if pr == nil {
		return Defer(ReasonUnknownState)
	}

	rules := policy.rulesFor(pr.Repository)

	if !rules.isInclusiveAuthor(pr.Author) {
		return Skip(ReasonAuthorNotInclusive)
	}

	if pr.Draft {
		return Skip(ReasonDraft)
	}

	if pr.Locked {
		return Skip(ReasonLocked)
	}

	if rules.hasExclusionLabel(pr.Labels) {
		return Skip(ReasonExclusionLabel)
	}

	if rules.filter != nil {
		match, err := rules.matchFilter(pr)
		if err != nil {
			return Defer(ReasonUnknownState)
		}

		if !match {
			return Skip(ReasonFilterMismatch)
		}
	}

	switch pr.Mergeable {
	case MergeableStateMergeable:
	case MergeableStateConflicting:
		return Skip(ReasonConflicts)
	case MergeableStateUnknown:
		return Defer(ReasonMergeabilityUnresolved)
	default:
		return Defer(ReasonUnknownState)
	}

	switch rules.checkStatus(pr) {
	case CheckStatusSuccess:
	case CheckStatusPending:
		return Defer(ReasonChecksPending)
	case CheckStatusFailure:
		return Skip(ReasonChecksFailed)
	default:
		return Defer(ReasonUnknownState)
	}

	switch pr.ReviewDecision {
	case ReviewDecisionApproved, ReviewDecisionNone:
	case ReviewDecisionChangesRequested:
		return Skip(ReasonChangesRequested)
	case ReviewDecisionReviewRequired:
		return Defer(ReasonAwaitingReview)
	default:
		return Defer(ReasonUnknownState)
	}

	if rules.requiresApproval(pr) && pr.ReviewDecision != ReviewDecisionApproved {
		return Defer(ReasonAwaitingReview)
	}

	if rules.MinAge > 0 {
		if pr.CreatedAt.IsZero() {
			return Defer(ReasonUnknownState)
		}

		if pr.Age(now) < rules.MinAge {
			return Defer(ReasonTooYoung)
		}
	}

	return Merge()
}

// checkStatus returns the aggregated status of the pull request combined
// with the status of every single check.
// A failed check results in CheckStatusFailure, independent of whether it
// is required. A check in RequiredChecks that did not report a status yet is
// pending.
// If a status is not recognized, an empty CheckStatus is returned.
func (r *compiledRules) checkStatus(pr *PullRequest) CheckStatus {
	result := pr.CheckStatus
	if !isKnownCheckStatus(result) {
		return ""
	}

	seen := make(map[string]struct{}, len(r.requiredChecks))
	for _, check := range pr.Checks {
		if !isKnownCheckStatus(check.Status) {
			return ""
		}

		if _, required := r.requiredChecks[check.Name]; required {
			seen[check.Name] = struct{}{}
		}

		result = worseCheckStatus(result, check.Status)
	}

	if len(seen) < len(r.requiredChecks) {
		result = worseCheckStatus(result, CheckStatusPending)
	}

	return result
}

func isKnownCheckStatus(s CheckStatus) bool {
	switch s {
	case CheckStatusSuccess, CheckStatusPending, CheckStatusFailure:
		return true
	default:
		return false
	}
}

func checkStatusSeverity(s CheckStatus) int {
	switch s {
	case CheckStatusFailure:
		return 2
	case CheckStatusPending:
		return 1
	default:
		return 0
	}
}

func worseCheckStatus(a, b CheckStatus) CheckStatus {
	if checkStatusSeverity(b) > checkStatusSeverity(a) {
		return b
	}

	return a
}

func (r *compiledRules) matchFilter(pr *PullRequest) (bool, error) {
	iter := r.filter.Run(pr.jqInput())

	res, ok := iter.Next()
	if !ok {
		return false, errors.New("filter query returned 0 results, expected 1")
	}

	if _, ok := iter.Next(); ok {
		return false, errors.New("filter query returned multiple results, expected 1")
	}

	switch val := res.(type) {
	case error:
		return false, val
	case bool:
		return val, nil
	default:
		return false, fmt.Errorf("filter query returned non-bool result: %+v (%T)", val, val)
	}
}
