package automerge

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/justmerge/internal/goorderr"
	"github.com/simplesurance/justmerge/internal/logfields"
	"github.com/simplesurance/justmerge/internal/routines"
)

const DefEvaluationConcurrency = 4

// Runner evaluates the open pull requests of repositories and merges the
// ones that are ready.
type Runner struct {
	provider Provider
	merger   Merger
	policy   *Policy
	logger   *zap.Logger

	now             func() time.Time
	evalConcurrency int
}

type RunnerOption func(*Runner)

// WithClock sets the function that returns the current time. It is used
// to determine the age of pull requests.
func WithClock(fn func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = fn
	}
}

// WithEvaluationConcurrency sets how many pull requests are evaluated in
// parallel.
func WithEvaluationConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.evalConcurrency = n
		}
	}
}

func NewRunner(provider Provider, merger Merger, policy *Policy, opts ...RunnerOption) *Runner {
	r := Runner{
		provider:        provider,
		merger:          merger,
		policy:          policy,
		logger:          zap.L().Named(loggerName).Named("runner"),
		now:             time.Now,
		evalConcurrency: DefEvaluationConcurrency,
	}

	for _, opt := range opts {
		opt(&r)
	}

	return &r
}

// Run processes the repositories one after the other.
// For each repository the open pull requests are retrieved and evaluated,
// the ones with a Merge verdict are merged one at a time, oldest first.
//
// When the rate limit is exceeded, the run is halted. No further merges are
// attempted and remaining repositories are not processed.
// Cancelling ctx also halts the run, a merge that is in progress is
// finished.
func (r *Runner) Run(ctx context.Context, repos []Repository) *RunResult {
	result := RunResult{StartTime: r.now()}

	r.logger.Info(
		"run started",
		logfields.Event("run_started"),
		zap.Int("repositories", len(repos)),
	)

	for i, repo := range repos {
		if !result.Halted() && ctx.Err() != nil {
			result.halt(HaltReasonCancelled, ctx.Err())
		}

		if result.Halted() {
			result.NotProcessed = append(result.NotProcessed, repos[i:]...)
			break
		}

		r.processRepository(ctx, repo, &result)
	}

	result.EndTime = r.now()
	metrics.RunFinished(&result)

	stats := result.Stats()
	logF := append(
		stats.LogFields(),
		logfields.Event("run_finished"),
		zap.Duration("run_duration", result.EndTime.Sub(result.StartTime)),
	)

	if result.Halted() {
		r.logger.Warn(
			"run halted",
			append(logF,
				zap.String("halt_reason", string(result.HaltReason)),
				zap.Int("repositories_not_processed", len(result.NotProcessed)),
				zap.Error(result.HaltErr),
			)...,
		)
	} else {
		r.logger.Info("run finished", logF...)
	}

	return &result
}

func isRateLimitErr(err error) bool {
	var rateLimitErr *goorderr.RateLimitError
	return errors.As(err, &rateLimitErr)
}

func (r *Runner) processRepository(ctx context.Context, repo Repository, result *RunResult) {
	logger := r.logger.With(repo.LogFields()...)

	prs, err := r.provider.ListOpenPullRequests(ctx, repo)
	if err != nil {
		switch {
		case isRateLimitErr(err):
			result.halt(HaltReasonRateLimited, err)
			result.NotProcessed = append(result.NotProcessed, repo)
		case ctx.Err() != nil:
			result.halt(HaltReasonCancelled, err)
			result.NotProcessed = append(result.NotProcessed, repo)
		default:
			result.RepositoryErrors = append(result.RepositoryErrors, &RepositoryError{Repository: repo, Err: err})
		}

		logger.Error(
			"retrieving open pull requests failed",
			logfields.Event("pull_request_retrieval_failed"),
			zap.Error(err),
		)

		return
	}

	slices.SortStableFunc(prs, func(a, b *PullRequest) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.Number, b.Number)
	})

	verdicts := r.evaluate(prs)
	rules := r.policy.RulesFor(repo)

	var merged bool
	for i, pr := range prs {
		d := &Disposition{
			Repository: repo,
			Number:     pr.Number,
			Title:      pr.Title,
			URL:        pr.URL,
			Author:     pr.Author,
			Verdict:    verdicts[i],
		}
		result.Dispositions = append(result.Dispositions, d)

		r.processPullRequest(ctx, pr, d, rules, merged, result)
		if d.Outcome != nil && d.Outcome.Kind == OutcomeMerged {
			merged = true
		}

		metrics.VerdictInc(repo, d.Verdict)
		if d.Outcome != nil {
			metrics.MergeOutcomeInc(repo, d.Outcome)
		}
	}
}

func (r *Runner) processPullRequest(
	ctx context.Context,
	pr *PullRequest,
	d *Disposition,
	rules *Rules,
	mergedBefore bool,
	result *RunResult,
) {
	logger := r.logger.With(pr.LogFields...)

	if d.Verdict.Decision != DecisionMerge {
		logger.Debug(
			"pull request is not ready to be merged",
			append(logFieldVerdict(d.Verdict), logfields.Event("pull_request_not_ready"))...,
		)
		return
	}

	if !result.Halted() && ctx.Err() != nil {
		result.halt(HaltReasonCancelled, ctx.Err())
	}

	if result.Halted() {
		logger.Info(
			"pull request is ready to be merged, not merging, run was halted",
			logfields.Event("pull_request_merge_not_attempted"),
			zap.String("halt_reason", string(result.HaltReason)),
		)
		return
	}

	if mergedBefore && rules.onlyOne(pr) {
		d.Verdict = Defer(ReasonMergeLimitReached)
		logger.Info(
			"pull request is ready to be merged, not merging, only 1 merge per run is allowed for the repository",
			append(logFieldVerdict(d.Verdict), logfields.Event("pull_request_merge_limit_reached"))...,
		)
		return
	}

	logger.Info(
		"pull request is ready to be merged",
		logfields.Event("pull_request_ready"),
		logfields.Commit(pr.HeadSHA),
	)

	d.Outcome = r.merger.Merge(ctx, pr, rules.MergeMethod)
	if d.Outcome.Kind == OutcomeRateLimited {
		result.halt(HaltReasonRateLimited, d.Outcome.Err)
	}
}

// evaluate evaluates the pull requests in parallel, the returned verdicts
// have the same order then prs.
func (r *Runner) evaluate(prs []*PullRequest) []Verdict {
	now := r.now()
	verdicts := make([]Verdict, len(prs))

	pool := routines.NewPool(r.evalConcurrency)
	for i, pr := range prs {
		i, pr := i, pr
		pool.Queue(func() {
			verdicts[i] = Evaluate(pr, r.policy, now)
		})
	}
	pool.Wait()

	return verdicts
}
