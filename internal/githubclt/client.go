// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/justmerge/internal/goorderr"
	"github.com/simplesurance/justmerge/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

var (
	// ErrHeadModified is returned when a pull request can not be merged
	// because it's head commit differs from the expected one.
	ErrHeadModified = errors.New("pull request head was modified")
	// ErrNotMergeable is returned when GitHub refuses to merge a pull
	// request. This is also the response for pull requests that are
	// already merged.
	ErrNotMergeable = errors.New("pull request is not mergeable")
)

// New returns a new github api client.
// If timeout is 0, DefaultHTTPClientTimeout is used.
func New(oauthAPItoken string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultHTTPClientTimeout
	}

	httpClient := newHTTPClient(oauthAPItoken, timeout)
	return &Client{
		restClt:    github.NewClient(httpClient),
		graphQLClt: githubv4.NewClient(httpClient),
		logger:     zap.L().Named(loggerName),
	}
}

// NewEnterprise returns a new github api client for a GitHub Enterprise
// Server instance. baseURL is the URL of the instance, e.g.
// https://github.example.com/.
// If timeout is 0, DefaultHTTPClientTimeout is used.
func NewEnterprise(oauthAPItoken string, timeout time.Duration, baseURL string) (*Client, error) {
	if timeout == 0 {
		timeout = DefaultHTTPClientTimeout
	}

	httpClient := newHTTPClient(oauthAPItoken, timeout)

	restClt, err := github.NewClient(httpClient).WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, err
	}

	graphQLURL, err := url.JoinPath(baseURL, "api/graphql")
	if err != nil {
		return nil, err
	}

	return &Client{
		restClt:    restClt,
		graphQLClt: githubv4.NewEnterpriseClient(graphQLURL, httpClient),
		logger:     zap.L().Named(loggerName),
	}, nil
}

func newHTTPClient(apiToken string, timeout time.Duration) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: timeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = timeout

	return tc
}

// Client is an github API client.
// Methods return a goorderr.RetryableError when an operation can be retried
// and a goorderr.RateLimitError when the API ratelimit is exceeded.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger
}

// MergePullRequest merges a pull request with the given merge method
// (merge, squash or rebase).
// The merge is only done if the head commit of the pull request is headSHA,
// otherwise an error wrapping ErrHeadModified is returned.
// If GitHub refuses to merge the pull request, an error wrapping
// ErrNotMergeable is returned.
// On success the SHA of the merge commit is returned.
func (clt *Client) MergePullRequest(ctx context.Context, owner, repo string, prNumber int, headSHA, method, commitTitle string) (string, error) {
	if headSHA == "" {
		// without a SHA github merges whatever the branch points to
		return "", errors.New("head sha is empty")
	}

	res, _, err := clt.restClt.PullRequests.Merge(ctx, owner, repo, prNumber, "", &github.PullRequestOptions{
		SHA:         headSHA,
		MergeMethod: method,
		CommitTitle: commitTitle,
	})
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response != nil {
			switch respErr.Response.StatusCode {
			case http.StatusConflict:
				return "", fmt.Errorf("%w: %w", ErrHeadModified, err)
			case http.StatusMethodNotAllowed:
				return "", fmt.Errorf("%w: %w", ErrNotMergeable, err)
			}
		}

		return "", clt.wrapRetryableErrors(err)
	}

	if !res.GetMerged() {
		return "", fmt.Errorf("%w: %s", ErrNotMergeable, res.GetMessage())
	}

	clt.logger.Debug(
		"pull request merged",
		logfields.Event("github_pull_request_merged"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(prNumber),
		logfields.Commit(headSHA),
		zap.String("github.merge_commit", res.GetSHA()),
	)

	return res.GetSHA(), nil
}

// IsMerged returns true if the pull request has been merged.
func (clt *Client) IsMerged(ctx context.Context, owner, repo string, prNumber int) (bool, error) {
	merged, _, err := clt.restClt.PullRequests.IsMerged(ctx, owner, repo, prNumber)
	if err != nil {
		return false, clt.wrapRetryableErrors(err)
	}

	return merged, nil
}

type PRIterator interface {
	Next() (*github.PullRequest, error)
}

type PRIter struct {
	clt *Client

	ctx   context.Context
	owner string
	repo  string

	state         string
	sortBy        string
	sortDirection string

	unseen []*github.PullRequest

	nextPage int
	finished bool
}

// Next returns the next pullRequest.
// When the last result was returned a nil PullRequest is returned.
func (it *PRIter) Next() (*github.PullRequest, error) {
	if len(it.unseen) > 0 {
		result := it.unseen[0]
		it.unseen = it.unseen[1:]

		return result, nil
	}

	if it.finished {
		return nil, nil
	}

	prs, resp, err := it.clt.restClt.PullRequests.List(it.ctx, it.owner, it.repo, &github.PullRequestListOptions{
		State:     it.state,
		Sort:      it.sortBy,
		Direction: it.sortDirection,
		ListOptions: github.ListOptions{
			Page:    it.nextPage,
			PerPage: 100,
		},
	})
	if err != nil {
		return nil, it.clt.wrapRetryableErrors(err)
	}

	if resp.NextPage == 0 || len(prs) == 0 {
		it.finished = true
	} else {
		it.nextPage = resp.NextPage
	}

	it.unseen = prs

	return it.Next()
}

// ListPullRequests returns an iterator for receiving all pull requests.
// The parameters state, sort, sortDirection expect the same values then their
// pendants in the struct github.PullRequestListOptions.
func (clt *Client) ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) PRIterator { // interface is returned to make the method mockable
	return &PRIter{
		clt:           clt,
		ctx:           ctx,
		owner:         owner,
		repo:          repo,
		state:         state,
		sortBy:        sort,
		sortDirection: sortDirection,
		nextPage:      1,
	}
}

func (clt *Client) wrapRetryableErrors(err error) error {
	var rateLimitErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse
	var urlErr *url.Error

	switch {
	case err == nil:
		return nil

	case errors.As(err, &rateLimitErr):
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", rateLimitErr.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", rateLimitErr.Rate.Reset.Time),
		)

		return goorderr.NewRateLimitError(err, rateLimitErr.Rate.Reset.Time)

	case errors.As(err, &abuseErr):
		var reset time.Time
		if abuseErr.RetryAfter != nil {
			reset = time.Now().Add(*abuseErr.RetryAfter)
		}

		clt.logger.Info(
			"secondary rate limit exceeded",
			logfields.Event("github_api_secondary_rate_limit_exceeded"),
			zap.Time("github_api_rate_limit_reset_time", reset),
		)

		return goorderr.NewRateLimitError(err, reset)

	case errors.As(err, &respErr):
		if respErr.Response != nil && respErr.Response.StatusCode >= 500 && respErr.Response.StatusCode < 600 {
			return goorderr.NewRetryableAnytimeError(err)
		}

	case errors.Is(err, context.DeadlineExceeded):
		return goorderr.NewRetryableAnytimeError(err)

	case errors.As(err, &urlErr):
		// transport errors, connection resets, client timeouts
		return goorderr.NewRetryableAnytimeError(err)
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return goorderr.NewRetryableAnytimeError(err)
	}

	// the graphql API reports exceeded limits as query error with a 200
	// status code
	if strings.Contains(err.Error(), "API rate limit exceeded") {
		return goorderr.NewRateLimitError(err, time.Time{})
	}

	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return goorderr.NewRetryableAnytimeError(err)
	}

	if errcode == http.StatusTooManyRequests {
		return goorderr.NewRateLimitError(err, time.Time{})
	}

	return err
}
