package automerge

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/justmerge/internal/githubclt"
	"github.com/simplesurance/justmerge/internal/logfields"
)

// MergeableState describes if a pull request can be merged into it's base
// branch without conflicts.
type MergeableState string

const (
	MergeableStateMergeable   MergeableState = "mergeable"
	MergeableStateConflicting MergeableState = "conflicting"
	// MergeableStateUnknown is reported while GitHub is still computing
	// the state.
	MergeableStateUnknown MergeableState = "unknown"
)

// CheckStatus is the status of a single or the aggregation of multiple CI
// checks.
type CheckStatus string

const (
	CheckStatusPending CheckStatus = "pending"
	CheckStatusSuccess CheckStatus = "success"
	CheckStatusFailure CheckStatus = "failure"
)

type ReviewDecision string

const (
	ReviewDecisionApproved         ReviewDecision = "approved"
	ReviewDecisionChangesRequested ReviewDecision = "changes_requested"
	// ReviewDecisionReviewRequired is reported when the branch protection
	// rule of the base branch requires an approving review that was not
	// submitted yet.
	ReviewDecisionReviewRequired ReviewDecision = "review_required"
	ReviewDecisionNone           ReviewDecision = "none"
)

// BranchProtection are the settings of the protection rule of the pull
// request's base branch. They are used when the corresponding [Rules] value
// is not set.
type BranchProtection struct {
	RequiresApprovingReviews bool
	// RequiresUpToDateBranch is true when the branch must be up to date
	// with the base branch before merging.
	RequiresUpToDateBranch bool
}

// CheckRun is the result of a CI job that reported a status for the head
// commit of a pull request.
type CheckRun struct {
	Name   string
	Status CheckStatus
}

// PullRequest is a snapshot of the state of a GitHub pull request.
type PullRequest struct {
	Repository Repository
	Number     int

	Author     string
	Title      string
	URL        string
	BaseBranch string
	HeadBranch string
	// HeadSHA is the commit that was evaluated, only this commit is
	// merged.
	HeadSHA string
	Labels  []string

	CreatedAt time.Time
	UpdatedAt time.Time

	Mergeable      MergeableState
	CheckStatus    CheckStatus
	Checks         []*CheckRun
	ReviewDecision ReviewDecision
	Draft          bool
	Locked         bool

	BranchProtection BranchProtection

	LogFields []zap.Field
}

// NewPullRequestFromGithub creates a PullRequest from the information
// returned by the GitHub REST pull request endpoints.
// Mergeable state, check status and review decision are not part of the
// REST response, they are set to values that are not recognized by Evaluate
// until [PullRequest.SetStatus] is called.
func NewPullRequestFromGithub(repo Repository, ghPR *github.PullRequest) (*PullRequest, error) {
	if ghPR == nil {
		return nil, errors.New("github pull request is nil")
	}

	nr := ghPR.GetNumber()
	if nr <= 0 {
		return nil, fmt.Errorf("number is %d, must be >0", nr)
	}

	headSHA := ghPR.GetHead().GetSHA()
	if headSHA == "" {
		return nil, errors.New("head sha is empty")
	}

	labels := make([]string, 0, len(ghPR.Labels))
	for _, label := range ghPR.Labels {
		labels = append(labels, label.GetName())
	}

	logF := append(
		repo.LogFields(),
		logfields.PullRequest(nr),
		logfields.Branch(ghPR.GetHead().GetRef()),
		logfields.BaseBranch(ghPR.GetBase().GetRef()),
		logfields.Author(ghPR.GetUser().GetLogin()),
	)

	return &PullRequest{
		Repository: repo,
		Number:     nr,
		Author:     ghPR.GetUser().GetLogin(),
		Title:      ghPR.GetTitle(),
		URL:        ghPR.GetHTMLURL(),
		BaseBranch: ghPR.GetBase().GetRef(),
		HeadBranch: ghPR.GetHead().GetRef(),
		HeadSHA:    headSHA,
		Labels:     labels,
		CreatedAt:  ghPR.GetCreatedAt().Time,
		UpdatedAt:  ghPR.GetUpdatedAt().Time,
		Draft:      ghPR.GetDraft(),
		Locked:     ghPR.GetLocked(),
		// capacity is limited to let appends copy the slice
		LogFields: slices.Clip(logF),
	}, nil
}

// SetStatus sets the mergeable state, the CI status, the review decision and
// the branch protection settings.
// If the status was retrieved for a newer commit than the one in the
// pull-request snapshot, HeadSHA is updated, the statuses always belong to
// HeadSHA.
func (p *PullRequest) SetStatus(status *githubclt.PullRequestStatus) {
	if status.Commit != "" {
		p.HeadSHA = status.Commit
	}

	p.Mergeable = toMergeableState(status.Mergeable)
	p.CheckStatus = toCheckStatus(status.CIStatus)
	p.ReviewDecision = toReviewDecision(status.ReviewDecision)
	p.BranchProtection = BranchProtection{
		RequiresApprovingReviews: status.RequiresApprovingReviews,
		RequiresUpToDateBranch:   status.RequiresStrictStatusChecks,
	}

	p.Checks = make([]*CheckRun, 0, len(status.Statuses))
	for _, s := range status.Statuses {
		p.Checks = append(p.Checks, &CheckRun{Name: s.Name, Status: toCheckStatus(s.Status)})
	}
}

// Age returns how long ago the pull request was created.
func (p *PullRequest) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

func (p *PullRequest) String() string {
	return fmt.Sprintf("%s#%d", p.Repository, p.Number)
}

// jqInput returns the representation of the pull request that jq filter
// queries are evaluated against.
func (p *PullRequest) jqInput() map[string]any {
	labels := make([]any, 0, len(p.Labels))
	for _, l := range p.Labels {
		labels = append(labels, l)
	}

	checks := make([]any, 0, len(p.Checks))
	for _, c := range p.Checks {
		checks = append(checks, map[string]any{
			"name":   c.Name,
			"status": string(c.Status),
		})
	}

	return map[string]any{
		"repository":      p.Repository.String(),
		"number":          p.Number,
		"author":          p.Author,
		"title":           p.Title,
		"url":             p.URL,
		"base_branch":     p.BaseBranch,
		"head_branch":     p.HeadBranch,
		"head_sha":        p.HeadSHA,
		"labels":          labels,
		"created_at":      p.CreatedAt.Format(time.RFC3339),
		"updated_at":      p.UpdatedAt.Format(time.RFC3339),
		"mergeable":       string(p.Mergeable),
		"check_status":    string(p.CheckStatus),
		"checks":          checks,
		"review_decision": string(p.ReviewDecision),
		"draft":           p.Draft,
		"locked":          p.Locked,
	}
}

func toMergeableState(s githubclt.MergeableState) MergeableState {
	switch s {
	case githubclt.MergeableStateMergeable:
		return MergeableStateMergeable
	case githubclt.MergeableStateConflicting:
		return MergeableStateConflicting
	case githubclt.MergeableStateUnknown:
		return MergeableStateUnknown
	default:
		return MergeableState(s)
	}
}

func toCheckStatus(s githubclt.CIStatus) CheckStatus {
	switch s {
	case githubclt.CIStatusSuccess:
		return CheckStatusSuccess
	case githubclt.CIStatusPending:
		return CheckStatusPending
	case githubclt.CIStatusFailure:
		return CheckStatusFailure
	default:
		return CheckStatus(s)
	}
}

func toReviewDecision(d githubclt.ReviewDecision) ReviewDecision {
	switch d {
	case githubclt.ReviewDecisionApproved:
		return ReviewDecisionApproved
	case githubclt.ReviewDecisionChangesRequested:
		return ReviewDecisionChangesRequested
	case githubclt.ReviewDecisionReviewRequired:
		return ReviewDecisionReviewRequired
	case "":
		return ReviewDecisionNone
	default:
		return ReviewDecision(d)
	}
}
