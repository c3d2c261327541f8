package automerge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/justmerge/internal/automerge/mocks"
	"github.com/simplesurance/justmerge/internal/githubclt"
	"github.com/simplesurance/justmerge/internal/goorderr"
)

const mergeCommit = "0a4c1c5bd1a3b28f1ee64e3c0a7c3e6ef6a1c2f3"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestExecutor(t *testing.T, clt GithubClient, opts ...ExecutorOption) *Executor {
	t.Helper()

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	return NewExecutor(clt, append([]ExecutorOption{WithBackoffInitialInterval(time.Millisecond)}, opts...)...)
}

func mockMergeCall(clt *mocks.MockGithubClient, pr *PullRequest) *gomock.Call {
	return clt.
		EXPECT().
		MergePullRequest(
			gomock.Any(),
			gomock.Eq(pr.Repository.OwnerLogin),
			gomock.Eq(pr.Repository.RepositoryName),
			gomock.Eq(pr.Number),
			gomock.Eq(pr.HeadSHA),
			gomock.Any(),
			gomock.Any(),
		)
}

func mockIsMergedCall(clt *mocks.MockGithubClient, pr *PullRequest) *gomock.Call {
	return clt.
		EXPECT().
		IsMerged(
			gomock.Any(),
			gomock.Eq(pr.Repository.OwnerLogin),
			gomock.Eq(pr.Repository.RepositoryName),
			gomock.Eq(pr.Number),
		)
}

func TestMergeSucceeds(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	pr := readyPR()

	clt.EXPECT().
		MergePullRequest(
			gomock.Any(),
			gomock.Eq(pr.Repository.OwnerLogin),
			gomock.Eq(pr.Repository.RepositoryName),
			gomock.Eq(pr.Number),
			gomock.Eq(pr.HeadSHA),
			gomock.Eq("squash"),
			gomock.Eq(pr.Title),
		).
		Return(mergeCommit, nil).
		Times(1)

	outcome := newTestExecutor(t, clt).Merge(context.Background(), pr, MergeMethodSquash)
	assert.Equal(t, OutcomeMerged, outcome.Kind)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, mergeCommit, outcome.MergeCommit)
	assert.NoError(t, outcome.Err)
	assert.False(t, outcome.Failed())
	assert.False(t, outcome.Simulated)
}

func TestMergeAlreadyMergedIsIdempotent(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	pr := readyPR()

	mockMergeCall(clt, pr).
		Return("", fmt.Errorf("%w: %w", githubclt.ErrNotMergeable, errors.New("405 Pull Request is not mergeable"))).
		Times(2)
	mockIsMergedCall(clt, pr).Return(true, nil).Times(2)

	executor := newTestExecutor(t, clt)

	for i := 0; i < 2; i++ {
		outcome := executor.Merge(context.Background(), pr, MergeMethodMerge)
		assert.Equal(t, OutcomeMerged, outcome.Kind, "call %d", i+1)
		assert.NoError(t, outcome.Err, "call %d", i+1)
	}
}

func TestMergeNotMergeableIsPermanentError(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	pr := readyPR()

	mockMergeCall(clt, pr).
		Return("", fmt.Errorf("%w: %w", githubclt.ErrNotMergeable, errors.New("405 required status check is expected"))).
		Times(1)
	mockIsMergedCall(clt, pr).Return(false, nil).Times(1)

	outcome := newTestExecutor(t, clt).Merge(context.Background(), pr, MergeMethodMerge)
	assert.Equal(t, OutcomePermanentError, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, githubclt.ErrNotMergeable)
	assert.Equal(t, 1, outcome.Attempts)
	assert.True(t, outcome.Failed())
}

func TestMergeRateLimitDuringIsMergedCheck(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	pr := readyPR()

	mockMergeCall(clt, pr).
		Return("", fmt.Errorf("%w: %w", githubclt.ErrNotMergeable, errors.New("405"))).
		Times(1)
	mockIsMergedCall(clt, pr).
		Return(false, goorderr.NewRateLimitError(errors.New("403 API rate limit exceeded"), time.Now().Add(time.Hour))).
		Times(1)

	outcome := newTestExecutor(t, clt).Merge(context.Background(), pr, MergeMethodMerge)
	assert.Equal(t, OutcomeRateLimited, outcome.Kind)
}

func TestMergeHeadModifiedIsConflict(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	pr := readyPR()

	mockMergeCall(clt, pr).
		Return("", fmt.Errorf("%w: %w", githubclt.ErrHeadModified, errors.New("409 Head branch was modified"))).
		Times(1)

	outcome := newTestExecutor(t, clt).Merge(context.Background(), pr, MergeMethodMerge)
	assert.Equal(t, OutcomeConflict, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, githubclt.ErrHeadModified)
	assert.False(t, outcome.Failed())
}

func TestMergeRateLimitIsNotRetried(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	pr := readyPR()

	mockMergeCall(clt, pr).
		Return("", goorderr.NewRateLimitError(errors.New("403 API rate limit exceeded"), time.Now().Add(time.Hour))).
		Times(1)

	outcome := newTestExecutor(t, clt).Merge(context.Background(), pr, MergeMethodMerge)
	assert.Equal(t, OutcomeRateLimited, outcome.Kind)
	assert.Equal(t, 1, outcome.Attempts)

	var rateLimitErr *goorderr.RateLimitError
	assert.ErrorAs(t, outcome.Err, &rateLimitErr)
	assert.False(t, outcome.Failed())
}

func TestMergeTransientErrorIsRetried(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	pr := readyPR()

	gomock.InOrder(
		mockMergeCall(clt, pr).
			Return("", goorderr.NewRetryableAnytimeError(errors.New("502 Bad Gateway"))).
			Times(1),
		mockMergeCall(clt, pr).
			Return(mergeCommit, nil).
			Times(1),
	)

	outcome := newTestExecutor(t, clt).Merge(context.Background(), pr, MergeMethodMerge)
	assert.Equal(t, OutcomeMerged, outcome.Kind)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, mergeCommit, outcome.MergeCommit)
}

func TestMergeTransientErrorRetriesExhausted(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	pr := readyPR()

	mockMergeCall(clt, pr).
		Return("", goorderr.NewRetryableAnytimeError(errors.New("503 Service Unavailable"))).
		Times(DefMaxAttempts)

	outcome := newTestExecutor(t, clt).Merge(context.Background(), pr, MergeMethodMerge)
	assert.Equal(t, OutcomeTransientError, outcome.Kind)
	assert.Equal(t, DefMaxAttempts, outcome.Attempts)
	assert.True(t, outcome.Failed())
}

func TestMergeMaxAttemptsOption(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	pr := readyPR()

	mockMergeCall(clt, pr).
		Return("", goorderr.NewRetryableAnytimeError(errors.New("503 Service Unavailable"))).
		Times(5)

	outcome := newTestExecutor(t, clt, WithMaxAttempts(5)).Merge(context.Background(), pr, MergeMethodMerge)
	assert.Equal(t, OutcomeTransientError, outcome.Kind)
	assert.Equal(t, 5, outcome.Attempts)
}

func TestMergeUnclassifiedErrorIsPermanent(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	pr := readyPR()

	mockMergeCall(clt, pr).
		Return("", errors.New("422 Validation Failed")).
		Times(1)

	outcome := newTestExecutor(t, clt).Merge(context.Background(), pr, MergeMethodMerge)
	assert.Equal(t, OutcomePermanentError, outcome.Kind)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestMergeCallTimeoutIsTransient(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	pr := readyPR()

	mockMergeCall(clt, pr).
		DoAndReturn(func(ctx context.Context, _, _ string, _ int, _, _, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}).
		Times(2)

	outcome := newTestExecutor(t, clt, WithCallTimeout(10*time.Millisecond), WithMaxAttempts(2)).
		Merge(context.Background(), pr, MergeMethodMerge)
	assert.Equal(t, OutcomeTransientError, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
	assert.Equal(t, 2, outcome.Attempts)
}

func TestMergeIsNotAbortedByCancellation(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	pr := readyPR()

	ctx, cancelFn := context.WithCancel(context.Background())
	cancelFn()

	mockMergeCall(clt, pr).
		DoAndReturn(func(ctx context.Context, _, _ string, _ int, _, _, _ string) (string, error) {
			require.NoError(t, ctx.Err())
			return mergeCommit, nil
		}).
		Times(1)

	outcome := newTestExecutor(t, clt).Merge(ctx, pr, MergeMethodMerge)
	assert.Equal(t, OutcomeMerged, outcome.Kind)
}

func TestDryMergerDoesNotCallGithub(t *testing.T) {
	merger := NewDryMerger(zaptest.NewLogger(t))

	outcome := merger.Merge(context.Background(), readyPR(), MergeMethodRebase)
	assert.Equal(t, OutcomeMerged, outcome.Kind)
	assert.True(t, outcome.Simulated)
	assert.Equal(t, "merged (simulated)", outcome.String())
}
