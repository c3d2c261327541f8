package githubclt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/justmerge/internal/goorderr"
)

const (
	testOwner = "testman"
	testRepo  = "repo"
	testSHA   = "8ad9dec4298f6b8f020997373cf4fe22005f2c06"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	restClt := github.NewClient(srv.Client())
	baseURL, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	restClt.BaseURL = baseURL

	return &Client{
		restClt:    restClt,
		graphQLClt: githubv4.NewEnterpriseClient(srv.URL+"/graphql", srv.Client()),
		logger:     zap.L(),
	}
}

func mergePath(prNumber int) string {
	return fmt.Sprintf("/repos/%s/%s/pulls/%d/merge", testOwner, testRepo, prNumber)
}

func TestMergePullRequestSendsHeadSHA(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, mergePath(1), r.URL.Path)

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testSHA, req["sha"])
		assert.Equal(t, "squash", req["merge_method"])
		assert.Equal(t, "Update dependency x", req["commit_title"])

		_, _ = fmt.Fprint(w, `{"sha": "abc", "merged": true, "message": "Pull Request successfully merged"}`)
	})

	sha, err := clt.MergePullRequest(context.Background(), testOwner, testRepo, 1, testSHA, "squash", "Update dependency x")
	require.NoError(t, err)
	assert.Equal(t, "abc", sha)
}

func TestMergePullRequestHeadModified(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = fmt.Fprint(w, `{"message": "Head branch was modified. Review and try the merge again."}`)
	})

	_, err := clt.MergePullRequest(context.Background(), testOwner, testRepo, 1, testSHA, "merge", "title")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHeadModified)
}

func TestMergePullRequestNotMergeable(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = fmt.Fprint(w, `{"message": "Pull Request is not mergeable"}`)
	})

	_, err := clt.MergePullRequest(context.Background(), testOwner, testRepo, 1, testSHA, "merge", "title")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotMergeable)
}

func TestMergePullRequestRateLimited(t *testing.T) {
	reset := time.Now().Add(time.Hour).Truncate(time.Second)

	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
		_, _ = fmt.Fprint(w, `{"message": "API rate limit exceeded for user ID 1."}`)
	})

	_, err := clt.MergePullRequest(context.Background(), testOwner, testRepo, 1, testSHA, "merge", "title")
	require.Error(t, err)

	var rateErr *goorderr.RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.True(t, reset.Equal(rateErr.Reset), "reset time: %s, expected: %s", rateErr.Reset, reset)

	var retryErr *goorderr.RetryableError
	assert.False(t, errors.As(err, &retryErr))
}

func TestMergePullRequestServerErrorIsRetryable(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := clt.MergePullRequest(context.Background(), testOwner, testRepo, 1, testSHA, "merge", "title")
	require.Error(t, err)

	var retryErr *goorderr.RetryableError
	assert.ErrorAs(t, err, &retryErr)
}

func TestMergePullRequestEmptySHA(t *testing.T) {
	clt := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("merge request was sent without a head sha")
	})

	_, err := clt.MergePullRequest(context.Background(), testOwner, testRepo, 1, "", "merge", "title")
	require.Error(t, err)
}

func TestIsMerged(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)

		if r.URL.Path == mergePath(1) {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		w.WriteHeader(http.StatusNotFound)
	})

	merged, err := clt.IsMerged(context.Background(), testOwner, testRepo, 1)
	require.NoError(t, err)
	assert.True(t, merged)

	merged, err = clt.IsMerged(context.Background(), testOwner, testRepo, 2)
	require.NoError(t, err)
	assert.False(t, merged)
}

func TestListPullRequestsPaginates(t *testing.T) {
	var srvURL string

	clt := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		assert.Equal(t, "created", r.URL.Query().Get("sort"))
		assert.Equal(t, "asc", r.URL.Query().Get("direction"))

		switch r.URL.Query().Get("page") {
		case "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s%s?page=2>; rel="next", <%s%s?page=2>; rel="last"`, srvURL, r.URL.Path, srvURL, r.URL.Path))
			_, _ = fmt.Fprint(w, `[{"number": 1}, {"number": 2}]`)
		case "2":
			_, _ = fmt.Fprint(w, `[{"number": 3}]`)
		default:
			t.Errorf("unexpected page requested: %q", r.URL.RawQuery)
		}
	})
	srvURL = clt.restClt.BaseURL.Scheme + "://" + clt.restClt.BaseURL.Host

	it := clt.ListPullRequests(context.Background(), testOwner, testRepo, "open", "created", "asc")

	var numbers []int
	for {
		pr, err := it.Next()
		require.NoError(t, err)
		if pr == nil {
			break
		}

		numbers = append(numbers, pr.GetNumber())
	}

	assert.Equal(t, []int{1, 2, 3}, numbers)
}
