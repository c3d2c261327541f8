package automerge

import (
	"context"
	"fmt"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/justmerge/internal/logfields"
)

// Provider returns the open pull requests of a repository.
// The returned state must be current, it must not be served from a cache.
type Provider interface {
	ListOpenPullRequests(ctx context.Context, repo Repository) ([]*PullRequest, error)
}

// GithubProvider retrieves pull requests from GitHub.
// The list of open pull requests is fetched via the REST API, the mergeable
// state, review decision and CI status of each pull request via the GraphQL
// API.
type GithubProvider struct {
	clt     GithubClient
	logger  *zap.Logger
	retryer *retryer
}

func NewGithubProvider(clt GithubClient) *GithubProvider {
	logger := zap.L().Named(loggerName).Named("provider")

	return &GithubProvider{
		clt:     clt,
		logger:  logger,
		retryer: newRetryer(logger),
	}
}

// ListOpenPullRequests returns the open pull requests of repo, ordered by
// their creation time, oldest first.
// If the status of a pull request can not be retrieved, it is returned
// without, Evaluate defers it. Rate-limit errors are always returned.
func (p *GithubProvider) ListOpenPullRequests(ctx context.Context, repo Repository) ([]*PullRequest, error) {
	var result []*PullRequest

	logger := p.logger.With(repo.LogFields()...)

	it := p.clt.ListPullRequests(ctx, repo.OwnerLogin, repo.RepositoryName, "open", "created", "asc")
	for {
		var ghPR *github.PullRequest

		_, err := p.retryer.Run(ctx, func(context.Context) error {
			var err error
			ghPR, err = it.Next()
			return err
		}, repo.LogFields())
		if err != nil {
			return nil, fmt.Errorf("listing pull requests failed: %w", err)
		}

		if ghPR == nil { // iteration finished, no more results
			break
		}

		pr, err := NewPullRequestFromGithub(repo, ghPR)
		if err != nil {
			logger.Warn(
				"ignoring pull request, incomplete pull request information",
				logfields.Event("pull_request_ignored"),
				logfields.PullRequest(ghPR.GetNumber()),
				zap.Error(err),
			)

			continue
		}

		if err := p.setStatus(ctx, pr); err != nil {
			if isRateLimitErr(err) {
				return nil, err
			}

			logger.Warn(
				"retrieving pull request status failed, status is unknown",
				append(pr.LogFields, logfields.Event("pull_request_status_retrieval_failed"), zap.Error(err))...,
			)
		}

		result = append(result, pr)
	}

	logger.Debug(
		"retrieved open pull requests",
		logfields.Event("pull_requests_retrieved"),
		zap.Int("count", len(result)),
	)

	return result, nil
}

func (p *GithubProvider) setStatus(ctx context.Context, pr *PullRequest) error {
	_, err := p.retryer.Run(ctx, func(ctx context.Context) error {
		status, err := p.clt.PullRequestStatus(ctx, pr.Repository.OwnerLogin, pr.Repository.RepositoryName, pr.Number)
		if err != nil {
			return err
		}

		pr.SetStatus(status)
		return nil
	}, pr.LogFields)
	if err != nil {
		return fmt.Errorf("retrieving status of %s failed: %w", pr, err)
	}

	return nil
}
