package githubclt

import (
	"context"
	"net/http"
	"testing"

	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/justmerge/internal/goorderr"
)

func TestOverallCIStatus_optionalFailedChecksFail(t *testing.T) {
	status := overallCIStatus(
		githubv4.StatusStateSuccess,
		[]*CIJobStatus{
			{
				Name:     "optional_check",
				Status:   CIStatusFailure,
				Required: false,
			},
			{
				Name:     "required_check",
				Status:   CIStatusSuccess,
				Required: true,
			},
		},
	)

	require.Equal(t, CIStatusFailure, status)
}

func TestOverallCIStatus_failedCheckWithoutBranchProtection(t *testing.T) {
	statuses, err := toCIJobStatuses(
		nil,
		[]*queryCheckStatus{
			{
				Name:       "ci/test",
				Status:     githubv4.CheckStatusStateCompleted,
				Conclusion: githubv4.CheckConclusionStateFailure,
			},
		},
		nil,
	)
	require.NoError(t, err)

	assert.Equal(t, CIStatusFailure, overallCIStatus(githubv4.StatusStateFailure, statuses))
}

func TestOverallCIStatus_failedRollupState(t *testing.T) {
	for _, state := range []githubv4.StatusState{githubv4.StatusStateFailure, githubv4.StatusStateError} {
		t.Run(string(state), func(t *testing.T) {
			status := overallCIStatus(
				state,
				[]*CIJobStatus{{Name: "required_check", Status: CIStatusSuccess, Required: true}},
			)

			assert.Equal(t, CIStatusFailure, status)
		})
	}
}

func TestOverallCIStatus_optionalPendingChecksAreHonored(t *testing.T) {
	status := overallCIStatus(
		githubv4.StatusStateSuccess,
		[]*CIJobStatus{
			{
				Name:     "optional_check",
				Status:   CIStatusPending,
				Required: false,
			},
			{
				Name:     "required_check",
				Status:   CIStatusSuccess,
				Required: true,
			},
		},
	)

	require.Equal(t, CIStatusPending, status)
}

func TestOverallCIStatus_failurePrecedesPending(t *testing.T) {
	status := overallCIStatus(
		githubv4.StatusStatePending,
		[]*CIJobStatus{
			{
				Name:     "optional_check",
				Status:   CIStatusPending,
				Required: false,
			},
			{
				Name:     "required_check",
				Status:   CIStatusFailure,
				Required: true,
			},
		},
	)

	require.Equal(t, CIStatusFailure, status)
}

func TestOverallCIStatus_noChecks(t *testing.T) {
	assert.Equal(t, CIStatusSuccess, overallCIStatus(githubv4.StatusStateSuccess, nil))
	assert.Equal(t, CIStatusSuccess, overallCIStatus("", nil))
}

func TestToCIJobStatuses_missingRequiredCheckIsPending(t *testing.T) {
	statuses, err := toCIJobStatuses(
		[]string{"build", "lint"},
		[]*queryCheckStatus{
			{
				Name:       "build",
				Status:     githubv4.CheckStatusStateCompleted,
				Conclusion: githubv4.CheckConclusionStateSuccess,
			},
		},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.Equal(t, &CIJobStatus{Name: "build", Status: CIStatusSuccess, Required: true}, statuses[0])
	assert.Equal(t, &CIJobStatus{Name: "lint", Status: CIStatusPending, Required: true}, statuses[1])
	assert.Equal(t, CIStatusPending, overallCIStatus(githubv4.StatusStateSuccess, statuses))
}

func TestToCIJobStatuses_duplicateRequiredContext(t *testing.T) {
	_, err := toCIJobStatuses([]string{"build", "build"}, nil, nil)
	assert.Error(t, err)
}

func TestPullRequestStatusServerErrorIsRetryable(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	s, err := clt.PullRequestStatus(context.Background(), testOwner, testRepo, 123)
	require.Error(t, err)
	assert.Nil(t, s)

	var retryableErr *goorderr.RetryableError
	assert.ErrorAs(t, err, &retryableErr)
}

func TestPullRequestStatus(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)

		_, _ = w.Write([]byte(`{"data": {"repository": {"pullRequest": {
			"mergeable": "MERGEABLE",
			"reviewDecision": "APPROVED",
			"baseRef": {"branchProtectionRule": {"requiredStatusCheckContexts": ["ci"]}},
			"commits": {"nodes": [{"commit": {
				"oid": "` + testSHA + `",
				"statusCheckRollup": {
					"state": "SUCCESS",
					"contexts": {
						"pageInfo": {"endCursor": "", "hasNextPage": false},
						"edges": [
							{"node": {"name": "ci", "conclusion": "SUCCESS", "status": "COMPLETED"}},
							{"node": {"state": "SUCCESS", "context": "license/cla"}}
						]
					}
				}
			}}]}
		}}}}`))
	})

	s, err := clt.PullRequestStatus(context.Background(), testOwner, testRepo, 1)
	require.NoError(t, err)

	assert.Equal(t, MergeableStateMergeable, s.Mergeable)
	assert.Equal(t, ReviewDecisionApproved, s.ReviewDecision)
	assert.Equal(t, CIStatusSuccess, s.CIStatus)
	assert.Equal(t, testSHA, s.Commit)
	assert.Len(t, s.Statuses, 2)
	assert.False(t, s.RequiresApprovingReviews)
	assert.False(t, s.RequiresStrictStatusChecks)
}

func TestPullRequestStatusBranchProtection(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"repository": {"pullRequest": {
			"mergeable": "MERGEABLE",
			"reviewDecision": "REVIEW_REQUIRED",
			"baseRef": {"branchProtectionRule": {
				"requiredStatusCheckContexts": [],
				"requiresApprovingReviews": true,
				"requiresStrictStatusChecks": true
			}},
			"commits": {"nodes": [{"commit": {
				"oid": "` + testSHA + `",
				"statusCheckRollup": {
					"state": "SUCCESS",
					"contexts": {
						"pageInfo": {"endCursor": "", "hasNextPage": false},
						"edges": []
					}
				}
			}}]}
		}}}}`))
	})

	s, err := clt.PullRequestStatus(context.Background(), testOwner, testRepo, 1)
	require.NoError(t, err)

	assert.Equal(t, ReviewDecisionReviewRequired, s.ReviewDecision)
	assert.True(t, s.RequiresApprovingReviews)
	assert.True(t, s.RequiresStrictStatusChecks)
}

func TestPullRequestStatusFailedOptionalCheck(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"repository": {"pullRequest": {
			"mergeable": "MERGEABLE",
			"reviewDecision": null,
			"baseRef": {"branchProtectionRule": null},
			"commits": {"nodes": [{"commit": {
				"oid": "` + testSHA + `",
				"statusCheckRollup": {
					"state": "FAILURE",
					"contexts": {
						"pageInfo": {"endCursor": "", "hasNextPage": false},
						"edges": [
							{"node": {"name": "ci/test", "conclusion": "FAILURE", "status": "COMPLETED"}}
						]
					}
				}
			}}]}
		}}}}`))
	})

	s, err := clt.PullRequestStatus(context.Background(), testOwner, testRepo, 1)
	require.NoError(t, err)

	assert.Equal(t, CIStatusFailure, s.CIStatus)
	assert.False(t, s.RequiresApprovingReviews)
	require.Len(t, s.Statuses, 1)
	assert.False(t, s.Statuses[0].Required)
}
