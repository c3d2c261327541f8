package githubclt

import (
	"context"
	"errors"
	"fmt"

	"github.com/shurcooL/githubv4"
)

// CIStatus abstracts the multiple result values of GitHub check runs and
// Commit statuses into a single value.
type CIStatus string

const (
	CIStatusSuccess CIStatus = "SUCCESS"
	CIStatusPending CIStatus = "PENDING"
	CIStatusFailure CIStatus = "FAILURE"
)

// ReviewDecision is the result of a pull request review.
// It is empty if the repository does not require reviews and none was
// submitted.
type ReviewDecision string

const (
	ReviewDecisionApproved         = ReviewDecision(githubv4.PullRequestReviewDecisionApproved)
	ReviewDecisionChangesRequested = ReviewDecision(githubv4.PullRequestReviewDecisionChangesRequested)
	ReviewDecisionReviewRequired   = ReviewDecision(githubv4.PullRequestReviewDecisionReviewRequired)
)

// MergeableState is GitHub's evaluation if a pull request can be merged
// without conflicts.
type MergeableState string

const (
	MergeableStateMergeable   = MergeableState(githubv4.MergeableStateMergeable)
	MergeableStateConflicting = MergeableState(githubv4.MergeableStateConflicting)
	MergeableStateUnknown     = MergeableState(githubv4.MergeableStateUnknown)
)

// CIJobStatus is the status of a CI job.
// It represents the status of GitHub CheckRuns and Commit statuses.
type CIJobStatus struct {
	Name     string
	Status   CIStatus
	Required bool
}

// PullRequestStatus represents the information deciding if a pull request is
// ready to be merged.
type PullRequestStatus struct {
	Mergeable      MergeableState
	ReviewDecision ReviewDecision
	CIStatus       CIStatus
	Statuses       []*CIJobStatus
	// Commit is the head commit the CI statuses were retrieved for.
	Commit string

	// RequiresApprovingReviews and RequiresStrictStatusChecks are the
	// settings of the branch protection rule of the base branch.
	// They are false if the branch is not protected.
	RequiresApprovingReviews   bool
	RequiresStrictStatusChecks bool
}

// PullRequestStatus returns the mergeable state, [review decision] and
// [status check rollup] of a pull request.
//
// The returned [PullRequestStatus.CIStatus] is [CIStatusFailure], if the
// rollup state or any check or status is in failed state, independent of
// whether it is required.
// Otherwise it is [CIStatusPending], if one or more checks or status are in
// pending state or a required one did not report a status yet.
// It is [CIStatusSuccess] when all of them succeeded.
//
// [status check rollup]: https://docs.github.com/en/graphql/reference/objects#statuscheckrollup
// [review decision]: https://docs.github.com/en/graphql/reference/enums#pullrequestreviewdecision
func (clt *Client) PullRequestStatus(ctx context.Context, owner, repo string, prNumber int) (*PullRequestStatus, error) {
	queryResult, err := clt.queryPullRequestStatus(ctx, owner, repo, prNumber)
	if err != nil {
		return nil, clt.wrapGraphQLRetryableErrors(err)
	}

	statuses, err := toCIJobStatuses(queryResult.RequiredStatusCheckContexts, queryResult.CheckRuns, queryResult.StatusContext)
	if err != nil {
		return nil, err
	}

	return &PullRequestStatus{
		Mergeable:      MergeableState(queryResult.Mergeable),
		ReviewDecision: ReviewDecision(queryResult.ReviewDecision),
		CIStatus:       overallCIStatus(queryResult.StatusCheckRollupState, statuses),
		Statuses:       statuses,
		Commit:         queryResult.Commit,

		RequiresApprovingReviews:   queryResult.RequiresApprovingReviews,
		RequiresStrictStatusChecks: queryResult.RequiresStrictStatusChecks,
	}, nil
}

func overallCIStatus(statusCheckRollupState githubv4.StatusState, statuses []*CIJobStatus) CIStatus {
	var result CIStatus

	switch statusCheckRollupState {
	case githubv4.StatusStateFailure, githubv4.StatusStateError:
		return CIStatusFailure
	case githubv4.StatusStatePending, githubv4.StatusStateExpected:
		result = CIStatusPending
	default:
		result = CIStatusSuccess
	}

	for _, status := range statuses {
		switch status.Status {
		case CIStatusFailure:
			return CIStatusFailure
		case CIStatusPending:
			result = CIStatusPending
		}
	}

	return result
}

func toCIJobStatuses(
	requiredChecks []string,
	checkRuns []*queryCheckStatus,
	commitStatuses []*queryStatusContext,
) ([]*CIJobStatus, error) {
	cnt := len(checkRuns) + len(commitStatuses) + len(requiredChecks)
	statusesByName := make(map[string]*CIJobStatus, cnt)
	// result keeps the order in that the statuses were reported
	result := make([]*CIJobStatus, 0, cnt)

	add := func(name string, status CIStatus) {
		if entry, exists := statusesByName[name]; exists {
			entry.Status = status
			return
		}

		entry := &CIJobStatus{Name: name, Status: status}
		statusesByName[name] = entry
		result = append(result, entry)
	}

	for _, name := range requiredChecks {
		if _, exists := statusesByName[name]; exists {
			return nil, fmt.Errorf("found 2 required status with the same context values: %q, context values must be unique", name)
		}

		add(name, CIStatusPending)
		statusesByName[name].Required = true
	}

	for _, run := range checkRuns {
		status, err := checkRunResultToCiStatus(run.Status, run.Conclusion)
		if err != nil {
			return nil, fmt.Errorf("converting checkRun %q CIstatus failed: %w", run.Name, err)
		}

		add(run.Name, status)
	}

	for _, commitStatus := range commitStatuses {
		status, err := contextStatusStateToCIStatus(commitStatus.State)
		if err != nil {
			return nil, fmt.Errorf("converting %q status context to CIstatus failed: %w",
				commitStatus.Context, err)
		}

		add(commitStatus.Context, status)
	}

	return result, nil
}

func checkRunResultToCiStatus(status githubv4.CheckStatusState, conclusion githubv4.CheckConclusionState) (CIStatus, error) {
	switch status {
	case githubv4.CheckStatusStateInProgress,
		githubv4.CheckStatusStatePending,
		githubv4.CheckStatusStateQueued,
		githubv4.CheckStatusStateRequested,
		githubv4.CheckStatusStateWaiting:
		return CIStatusPending, nil

	case githubv4.CheckStatusStateCompleted:
		return checkConclusiontoCIStatus(conclusion)

	default:
		return "", fmt.Errorf("unsupported status value: %q", status)
	}
}

func checkConclusiontoCIStatus(conclusion githubv4.CheckConclusionState) (CIStatus, error) {
	switch conclusion {
	case githubv4.CheckConclusionStateCancelled,
		githubv4.CheckConclusionStateFailure,
		githubv4.CheckConclusionStateStale,
		githubv4.CheckConclusionStateStartupFailure,
		githubv4.CheckConclusionStateTimedOut:
		return CIStatusFailure, nil

	case githubv4.CheckConclusionStateActionRequired:
		return CIStatusPending, nil

	case githubv4.CheckConclusionStateNeutral,
		githubv4.CheckConclusionStateSkipped,
		githubv4.CheckConclusionStateSuccess:
		return CIStatusSuccess, nil

	default:
		return "", fmt.Errorf("unsupported conclusion value: %q", conclusion)
	}
}

func contextStatusStateToCIStatus(state githubv4.StatusState) (CIStatus, error) {
	switch state {
	case githubv4.StatusStateError,
		githubv4.StatusStateFailure:
		return CIStatusFailure, nil

	case githubv4.StatusStateExpected,
		githubv4.StatusStatePending:
		return CIStatusPending, nil

	case githubv4.StatusStateSuccess:
		return CIStatusSuccess, nil

	default:
		return "", fmt.Errorf("unsupported status state value: %q", state)
	}
}

type queryCheckStatus struct {
	Name       string
	Conclusion githubv4.CheckConclusionState
	Status     githubv4.CheckStatusState
}

type queryStatusContext struct {
	State   githubv4.StatusState
	Context string
}

type queryPRStatusResult struct {
	Mergeable                   githubv4.MergeableState
	ReviewDecision              githubv4.PullRequestReviewDecision
	StatusCheckRollupState      githubv4.StatusState
	RequiredStatusCheckContexts []string
	RequiresApprovingReviews    bool
	RequiresStrictStatusChecks  bool
	CheckRuns                   []*queryCheckStatus
	StatusContext               []*queryStatusContext
	Commit                      string
}

func (clt *Client) queryPullRequestStatus(ctx context.Context, owner, repo string, prNumber int) (*queryPRStatusResult, error) {
	type graphQLQueryPRStatus struct {
		Repository struct {
			PullRequest struct {
				Mergeable      githubv4.MergeableState
				ReviewDecision githubv4.PullRequestReviewDecision

				BaseRef struct {
					BranchProtectionRule struct {
						// RequiredStatusCheckContexts
						// contains required commit
						// statuses and checkRuns.
						RequiredStatusCheckContexts []string
						RequiresApprovingReviews    bool
						RequiresStrictStatusChecks  bool
					}
				}

				Commits struct {
					Nodes []struct {
						Commit struct {
							Oid               string
							StatusCheckRollup struct {
								State    githubv4.StatusState
								Contexts struct {
									PageInfo struct {
										EndCursor   string
										HasNextPage bool
									}
									Edges []struct {
										Node struct {
											CheckRun      queryCheckStatus   `graphql:"... on CheckRun"`
											StatusContext queryStatusContext `graphql:"... on StatusContext"`
										}
									}
								} `graphql:"contexts(first: $contextsFirst, after: $contextsAfter)"`
							}
						}
					}
				} `graphql:"commits(last: $commitsLast)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	var prHEADCommitID string
	var result queryPRStatusResult

	vars := map[string]any{
		"owner":         githubv4.String(owner),
		"name":          githubv4.String(repo),
		"number":        githubv4.Int(prNumber),
		"commitsLast":   githubv4.Int(1),
		"contextsFirst": githubv4.Int(100),
		"contextsAfter": (*githubv4.String)(nil),
	}

	for {
		var q graphQLQueryPRStatus

		err := clt.graphQLClt.Query(ctx, &q, vars)
		if err != nil {
			return nil, err
		}

		if len(q.Repository.PullRequest.Commits.Nodes) == 0 {
			return nil, errors.New("graphql response contains no commit for the pull request")
		}

		commitsNode := q.Repository.PullRequest.Commits.Nodes[0].Commit

		if prHEADCommitID == "" {
			prHEADCommitID = commitsNode.Oid
		} else if prHEADCommitID != commitsNode.Oid {
			// the pull request changed while paginating,
			// start from the beginning
			vars["contextsAfter"] = (*githubv4.String)(nil)
			prHEADCommitID = ""
			result = queryPRStatusResult{}

			continue
		}

		for _, edge := range commitsNode.StatusCheckRollup.Contexts.Edges {
			node := edge.Node
			if node.CheckRun.Name != "" && node.StatusContext.Context != "" {
				return nil, fmt.Errorf("internal error: node contains checkRun and context, expecting only one")
			}

			if node.CheckRun.Name != "" {
				checkRun := node.CheckRun
				result.CheckRuns = append(result.CheckRuns, &checkRun)
				continue
			}

			statusContext := node.StatusContext
			result.StatusContext = append(result.StatusContext, &statusContext)
		}

		pageInfo := commitsNode.StatusCheckRollup.Contexts.PageInfo
		if !pageInfo.HasNextPage {
			pr := q.Repository.PullRequest
			result.Mergeable = pr.Mergeable
			result.ReviewDecision = pr.ReviewDecision
			result.StatusCheckRollupState = commitsNode.StatusCheckRollup.State
			result.RequiredStatusCheckContexts = pr.BaseRef.BranchProtectionRule.RequiredStatusCheckContexts
			result.RequiresApprovingReviews = pr.BaseRef.BranchProtectionRule.RequiresApprovingReviews
			result.RequiresStrictStatusChecks = pr.BaseRef.BranchProtectionRule.RequiresStrictStatusChecks
			result.Commit = prHEADCommitID

			return &result, nil
		}

		if pageInfo.EndCursor == "" {
			return nil, errors.New("retrieving all contexts failed, HasNextPage is true, expected non-empty EndCursor")
		}

		vars["contextsAfter"] = githubv4.String(pageInfo.EndCursor)
	}
}
