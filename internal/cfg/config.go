package cfg

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/simplesurance/justmerge/internal/automerge"
)

// Config is the content of the configuration file.
// Durations are strings in the format accepted by time.ParseDuration.
// GithubURL is the URL of a GitHub Enterprise Server instance, if it is empty
// github.com is used.
type Config struct {
	LogFormat             string `toml:"log_format" default:"logfmt"`
	LogTimeKey            string `toml:"log_time_key" default:"time"`
	LogLevel              string `toml:"log_level" default:"info"`
	GithubAPIToken        string `toml:"github_api_token"`
	GithubURL             string `toml:"github_url"`
	SecretsFile           string `toml:"secrets_file" default:".env"`
	HTTPTimeout           string `toml:"http_timeout" default:"1m"`
	MergeCallTimeout      string `toml:"merge_call_timeout" default:"30s"`
	MergeMaxAttempts      int    `toml:"merge_max_attempts" default:"3"`
	EvaluationConcurrency int    `toml:"evaluation_concurrency" default:"4"`
	MetricsTextfile       string `toml:"metrics_textfile"`
	SummaryFormat         string `toml:"summary_format" default:"text"`

	Defaults     RuleSettings  `toml:"defaults"`
	Repositories []*Repository `toml:"repository"`
}

// RuleSettings are the merge rules in the configuration file.
// Unset fields are nil, they keep the value they inherit.
type RuleSettings struct {
	InclusionUsers   *[]string `toml:"inclusion_users"`
	ExclusionLabels  *[]string `toml:"exclusion_labels"`
	RequiredChecks   *[]string `toml:"required_checks"`
	MinAge           *string   `toml:"min_age"`
	RequiresApproval *bool     `toml:"requires_approval"`
	MergeMethod      *string   `toml:"merge_method"`
	OnlyOne          *bool     `toml:"only_one"`
	FilterQuery      *string   `toml:"filter_query"`
}

type Repository struct {
	Owner          string `toml:"owner"`
	RepositoryName string `toml:"repository"`
	RuleSettings
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// Validate returns an error if the configuration contains invalid values.
func (c *Config) Validate() error {
	var errs []error

	switch c.LogFormat {
	case "logfmt", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: unsupported value %q, must be one of: logfmt, console, json", c.LogFormat))
	}

	switch c.SummaryFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("summary_format: unsupported value %q, must be one of: text, json", c.SummaryFormat))
	}

	if c.GithubURL != "" {
		if u, err := url.Parse(c.GithubURL); err != nil {
			errs = append(errs, fmt.Errorf("github_url: %w", err))
		} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("github_url: %q is not an absolute http or https url", c.GithubURL))
		}
	}

	if _, err := parsePositiveDuration(c.HTTPTimeout); err != nil {
		errs = append(errs, fmt.Errorf("http_timeout: %w", err))
	}

	if _, err := parsePositiveDuration(c.MergeCallTimeout); err != nil {
		errs = append(errs, fmt.Errorf("merge_call_timeout: %w", err))
	}

	if c.MergeMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("merge_max_attempts: is %d, must be >0", c.MergeMaxAttempts))
	}

	if c.EvaluationConcurrency < 1 {
		errs = append(errs, fmt.Errorf("evaluation_concurrency: is %d, must be >0", c.EvaluationConcurrency))
	}

	if len(c.Repositories) == 0 {
		errs = append(errs, errors.New("no repository is configured"))
	}

	seen := make(map[automerge.Repository]struct{}, len(c.Repositories))
	for i, repo := range c.Repositories {
		if repo.Owner == "" || repo.RepositoryName == "" {
			errs = append(errs, fmt.Errorf("repository %d: owner and repository must be set", i+1))
			continue
		}

		r := repo.automergeRepository()
		if _, exist := seen[r]; exist {
			errs = append(errs, fmt.Errorf("repository %s is configured multiple times", r))
		}
		seen[r] = struct{}{}
	}

	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// HTTPTimeoutDuration returns http_timeout as time.Duration.
// It must only be called after Validate succeeded.
func (c *Config) HTTPTimeoutDuration() time.Duration {
	d, _ := parsePositiveDuration(c.HTTPTimeout)
	return d
}

// MergeCallTimeoutDuration returns merge_call_timeout as time.Duration.
// It must only be called after Validate succeeded.
func (c *Config) MergeCallTimeoutDuration() time.Duration {
	d, _ := parsePositiveDuration(c.MergeCallTimeout)
	return d
}

// AutomergeRepositories returns the configured repositories in the order they are
// defined in the configuration file.
func (c *Config) AutomergeRepositories() []automerge.Repository {
	result := make([]automerge.Repository, 0, len(c.Repositories))
	for _, repo := range c.Repositories {
		result = append(result, repo.automergeRepository())
	}

	return result
}

// Policy creates the merge policy from the configuration.
// The rules in the defaults section are applied to automerge.DefaultRules,
// the rules of a repository section are applied to the result.
func (c *Config) Policy() (*automerge.Policy, error) {
	defaults := automerge.DefaultRules()
	if err := c.Defaults.apply(defaults); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}

	overrides := make(map[automerge.Repository]*automerge.Rules, len(c.Repositories))
	for _, repo := range c.Repositories {
		r := repo.automergeRepository()

		if repo.RuleSettings.isEmpty() {
			continue
		}

		rules := automerge.DefaultRules()
		if err := c.Defaults.apply(rules); err != nil {
			return nil, fmt.Errorf("defaults: %w", err)
		}

		if err := repo.RuleSettings.apply(rules); err != nil {
			return nil, fmt.Errorf("repository %s: %w", r, err)
		}

		overrides[r] = rules
	}

	return automerge.NewPolicy(defaults, overrides)
}

func (r *Repository) automergeRepository() automerge.Repository {
	return automerge.Repository{
		OwnerLogin:     r.Owner,
		RepositoryName: r.RepositoryName,
	}
}

func (s *RuleSettings) isEmpty() bool {
	return *s == RuleSettings{}
}

func (s *RuleSettings) apply(rules *automerge.Rules) error {
	if s.InclusionUsers != nil {
		rules.InclusiveAuthors = append([]string(nil), *s.InclusionUsers...)
	}

	if s.ExclusionLabels != nil {
		rules.ExclusionLabels = append([]string(nil), *s.ExclusionLabels...)
	}

	if s.RequiredChecks != nil {
		rules.RequiredChecks = append([]string(nil), *s.RequiredChecks...)
	}

	if s.MinAge != nil {
		d, err := time.ParseDuration(*s.MinAge)
		if err != nil {
			return fmt.Errorf("min_age: %w", err)
		}

		rules.MinAge = d
	}

	if s.RequiresApproval != nil {
		v := *s.RequiresApproval
		rules.RequireApproval = &v
	}

	if s.MergeMethod != nil {
		rules.MergeMethod = automerge.MergeMethod(*s.MergeMethod)
	}

	if s.OnlyOne != nil {
		v := *s.OnlyOne
		rules.OnlyOne = &v
	}

	if s.FilterQuery != nil {
		rules.FilterQuery = *s.FilterQuery
	}

	return nil
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}

	if d <= 0 {
		return 0, fmt.Errorf("is %s, must be >0", d)
	}

	return d, nil
}
