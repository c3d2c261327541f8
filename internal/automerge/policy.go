package automerge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/itchyny/gojq"
)

type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

func (m MergeMethod) Validate() error {
	switch m {
	case MergeMethodMerge, MergeMethodSquash, MergeMethodRebase:
		return nil
	default:
		return fmt.Errorf("unsupported merge method: %q, must be one of: merge, squash, rebase", m)
	}
}

var (
	DefaultInclusiveAuthors = []string{"pyup", "renovate"}
	DefaultExclusionLabels  = []string{"dontmerge", "bors-dont-merge"}
)

// Rules are the conditions a pull request must meet to be merged.
type Rules struct {
	// InclusiveAuthors are the GitHub logins of authors whose pull
	// requests can be merged. Comparison is case-insensitive, a "[bot]"
	// suffix of the pull request author is ignored.
	InclusiveAuthors []string
	// ExclusionLabels prevent merging pull requests that have one of
	// them.
	ExclusionLabels []string
	// RequiredChecks are names of check runs or commit statuses that must
	// have succeeded, additionally to the ones required by the branch
	// protection rules.
	RequiredChecks []string
	MinAge         time.Duration
	// RequireApproval defines if pull requests must have an approving
	// review. If it is nil, approval is required when the branch
	// protection rule of the base branch requires it.
	RequireApproval *bool
	MergeMethod     MergeMethod
	// OnlyOne limits merges to 1 per repository and run.
	// This is needed for repositories that require branches to be
	// up to date before merging, every merge makes the remaining pull
	// requests outdated.
	// If it is nil, it is enabled when the branch protection rule of the
	// base branch requires up to date branches.
	OnlyOne *bool
	// FilterQuery is an optional jq expression. It is evaluated with a
	// JSON representation of the pull request, only pull requests for
	// that it returns true are merged.
	FilterQuery string
}

// DefaultRules returns the rules that are used when no other were
// configured.
func DefaultRules() *Rules {
	return &Rules{
		InclusiveAuthors: append([]string(nil), DefaultInclusiveAuthors...),
		ExclusionLabels:  append([]string(nil), DefaultExclusionLabels...),
		MergeMethod:      MergeMethodMerge,
	}
}

func (r *Rules) clone() *Rules {
	result := *r
	result.InclusiveAuthors = append([]string(nil), r.InclusiveAuthors...)
	result.ExclusionLabels = append([]string(nil), r.ExclusionLabels...)
	result.RequiredChecks = append([]string(nil), r.RequiredChecks...)
	result.RequireApproval = cloneBoolPtr(r.RequireApproval)
	result.OnlyOne = cloneBoolPtr(r.OnlyOne)

	return &result
}

func cloneBoolPtr(b *bool) *bool {
	if b == nil {
		return nil
	}

	v := *b
	return &v
}

// requiresApproval returns if an approving review is required to merge pr.
func (r *Rules) requiresApproval(pr *PullRequest) bool {
	if r.RequireApproval != nil {
		return *r.RequireApproval
	}

	return pr.BranchProtection.RequiresApprovingReviews
}

// onlyOne returns if no other pull request of the repository may be merged
// after pr.
func (r *Rules) onlyOne(pr *PullRequest) bool {
	if r.OnlyOne != nil {
		return *r.OnlyOne
	}

	return pr.BranchProtection.RequiresUpToDateBranch
}

type compiledRules struct {
	*Rules
	authors        map[string]struct{}
	labels         map[string]struct{}
	requiredChecks map[string]struct{}
	filter         *gojq.Code
}

func compileRules(rules *Rules) (*compiledRules, error) {
	if rules == nil {
		return nil, errors.New("rules are nil")
	}

	if err := rules.MergeMethod.Validate(); err != nil {
		return nil, err
	}

	if rules.MinAge < 0 {
		return nil, fmt.Errorf("min age is %s, must be >=0", rules.MinAge)
	}

	result := compiledRules{
		Rules:          rules.clone(),
		authors:        toLowerStrSet(rules.InclusiveAuthors),
		labels:         toLowerStrSet(rules.ExclusionLabels),
		requiredChecks: toStrSet(rules.RequiredChecks),
	}

	if rules.FilterQuery != "" {
		query, err := gojq.Parse(rules.FilterQuery)
		if err != nil {
			return nil, fmt.Errorf("parsing filter query failed: %w", err)
		}

		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("compiling filter query failed: %w", err)
		}

		result.filter = code
	}

	return &result, nil
}

// Policy contains the default rules and rules for specific repositories.
// It is not modified after creation.
type Policy struct {
	defaults  *compiledRules
	overrides map[Repository]*compiledRules
}

// NewPolicy creates a policy. The rules are copied, modifying them
// afterwards does not change the policy.
func NewPolicy(defaults *Rules, overrides map[Repository]*Rules) (*Policy, error) {
	def, err := compileRules(defaults)
	if err != nil {
		return nil, fmt.Errorf("default rules: %w", err)
	}

	result := Policy{
		defaults:  def,
		overrides: make(map[Repository]*compiledRules, len(overrides)),
	}

	for repo, rules := range overrides {
		r, err := compileRules(rules)
		if err != nil {
			return nil, fmt.Errorf("rules for %s: %w", repo, err)
		}

		result.overrides[repo] = r
	}

	return &result, nil
}

func mustNewPolicy(defaults *Rules, overrides map[Repository]*Rules) *Policy {
	p, err := NewPolicy(defaults, overrides)
	if err != nil {
		panic(err)
	}

	return p
}

var defaultPolicy = mustNewPolicy(DefaultRules(), nil)

func (p *Policy) rulesFor(repo Repository) *compiledRules {
	if p == nil {
		return defaultPolicy.defaults
	}

	if r, exist := p.overrides[repo]; exist {
		return r
	}

	return p.defaults
}

// RulesFor returns a copy of the rules that apply to pull requests of the
// repository.
func (p *Policy) RulesFor(repo Repository) *Rules {
	return p.rulesFor(repo).clone()
}

func (r *compiledRules) isInclusiveAuthor(login string) bool {
	login = strings.ToLower(login)
	if _, exist := r.authors[login]; exist {
		return true
	}

	if trimmed := strings.TrimSuffix(login, "[bot]"); trimmed != login {
		_, exist := r.authors[trimmed]
		return exist
	}

	return false
}

func (r *compiledRules) hasExclusionLabel(labels []string) bool {
	for _, l := range labels {
		if _, exist := r.labels[strings.ToLower(l)]; exist {
			return true
		}
	}

	return false
}
