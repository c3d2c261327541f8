package automerge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/justmerge/internal/githubclt"
	"github.com/simplesurance/justmerge/internal/goorderr"
	"github.com/simplesurance/justmerge/internal/logfields"
)

//go:generate mockgen -destination mocks/githubclient.go -package mocks . GithubClient

// GithubClient is the subset of the GitHub API used to read and merge pull
// requests.
type GithubClient interface {
	ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) githubclt.PRIterator
	PullRequestStatus(ctx context.Context, owner, repo string, prNumber int) (*githubclt.PullRequestStatus, error)
	MergePullRequest(ctx context.Context, owner, repo string, prNumber int, headSHA, method, commitTitle string) (string, error)
	IsMerged(ctx context.Context, owner, repo string, prNumber int) (bool, error)
}

// Merger merges pull requests.
type Merger interface {
	Merge(ctx context.Context, pr *PullRequest, method MergeMethod) *MergeOutcome
}

const DefMergeCallTimeout = 30 * time.Second

// Executor merges pull requests via the GitHub API.
type Executor struct {
	clt         GithubClient
	logger      *zap.Logger
	retryer     *retryer
	callTimeout time.Duration
}

type ExecutorOption func(*Executor)

// WithMaxAttempts sets how often a merge is tried when it fails with a
// temporary error.
func WithMaxAttempts(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.retryer.maxAttempts = n
		}
	}
}

// WithCallTimeout sets the timeout for a single GitHub API call.
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithBackoffInitialInterval sets the wait time before the first retry, it
// grows exponentially with every further one.
func WithBackoffInitialInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.retryer.backoffInitialInterval = d
	}
}

func NewExecutor(clt GithubClient, opts ...ExecutorOption) *Executor {
	logger := zap.L().Named(loggerName).Named("executor")

	e := Executor{
		clt:         clt,
		logger:      logger,
		retryer:     newRetryer(logger),
		callTimeout: DefMergeCallTimeout,
	}

	for _, opt := range opts {
		opt(&e)
	}

	return &e
}

// Merge merges the pull request at it's HeadSHA.
// Temporary errors are retried, rate-limit errors are not.
// Merging a pull request that was already merged results in OutcomeMerged.
//
// Cancelling ctx does not abort a merge, the GitHub API calls use a context
// with the values but not the cancellation of ctx.
func (e *Executor) Merge(ctx context.Context, pr *PullRequest, method MergeMethod) *MergeOutcome {
	ctx = context.WithoutCancel(ctx)
	logger := e.logger.With(pr.LogFields...).With(logfields.Commit(pr.HeadSHA))

	var mergeCommit string
	attempts, err := e.retryer.Run(ctx, func(ctx context.Context) error {
		ctx, cancelFn := context.WithTimeout(ctx, e.callTimeout)
		defer cancelFn()

		sha, err := e.clt.MergePullRequest(
			ctx,
			pr.Repository.OwnerLogin,
			pr.Repository.RepositoryName,
			pr.Number,
			pr.HeadSHA,
			string(method),
			pr.Title,
		)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return goorderr.NewRetryableAnytimeError(err)
			}

			return err
		}

		mergeCommit = sha
		return nil
	}, pr.LogFields)

	outcome := &MergeOutcome{Attempts: attempts, MergeCommit: mergeCommit}
	outcome.Kind, outcome.Err = e.classify(ctx, pr, err)

	logger = logger.With(
		logFieldOutcome(outcome.Kind),
		zap.Int("attempts", attempts),
	)

	switch outcome.Kind {
	case OutcomeMerged:
		logger.Info("pull request merged", logfields.Event("pull_request_merged"))
	case OutcomeConflict:
		logger.Info(
			"pull request changed after evaluation, not merged",
			logfields.Event("pull_request_merge_conflict"),
			zap.Error(outcome.Err),
		)
	default:
		logger.Warn(
			"merging pull request failed",
			logfields.Event("pull_request_merge_failed"),
			zap.Error(outcome.Err),
		)
	}

	return outcome
}

func (e *Executor) classify(ctx context.Context, pr *PullRequest, err error) (OutcomeKind, error) {
	var rateLimitErr *goorderr.RateLimitError
	var retryErr *goorderr.RetryableError

	switch {
	case err == nil:
		return OutcomeMerged, nil

	case errors.As(err, &rateLimitErr):
		return OutcomeRateLimited, err

	case errors.Is(err, githubclt.ErrHeadModified):
		return OutcomeConflict, err

	case errors.Is(err, githubclt.ErrNotMergeable):
		merged, isMergedErr := e.isMerged(ctx, pr)
		if isMergedErr != nil {
			if errors.As(isMergedErr, &rateLimitErr) {
				return OutcomeRateLimited, isMergedErr
			}

			return OutcomePermanentError, fmt.Errorf("%w, checking if pull request was merged failed: %w", err, isMergedErr)
		}

		if merged {
			e.logger.Debug(
				"merge was refused, pull request is already merged",
				append(pr.LogFields, logfields.Event("pull_request_already_merged"))...,
			)
			return OutcomeMerged, nil
		}

		return OutcomePermanentError, err

	case errors.As(err, &retryErr):
		return OutcomeTransientError, err

	default:
		return OutcomePermanentError, err
	}
}

func (e *Executor) isMerged(ctx context.Context, pr *PullRequest) (bool, error) {
	var merged bool

	_, err := e.retryer.Run(ctx, func(ctx context.Context) error {
		ctx, cancelFn := context.WithTimeout(ctx, e.callTimeout)
		defer cancelFn()

		var err error
		merged, err = e.clt.IsMerged(ctx, pr.Repository.OwnerLogin, pr.Repository.RepositoryName, pr.Number)
		if errors.Is(err, context.DeadlineExceeded) {
			return goorderr.NewRetryableAnytimeError(err)
		}

		return err
	}, pr.LogFields)

	return merged, err
}
