package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/simplesurance/justmerge/internal/automerge"
)

type jsonPullRequest struct {
	Repository  string `json:"repository"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Author      string `json:"author"`
	Verdict     string `json:"verdict"`
	Reason      string `json:"reason,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
	MergeCommit string `json:"merge_commit,omitempty"`
	Simulated   bool   `json:"simulated,omitempty"`
	Error       string `json:"error,omitempty"`
}

type jsonRepositoryError struct {
	Repository string `json:"repository"`
	Error      string `json:"error"`
}

type jsonStats struct {
	Seen             uint `json:"seen"`
	Merged           uint `json:"merged"`
	Skipped          uint `json:"skipped"`
	Deferred         uint `json:"deferred"`
	Conflicts        uint `json:"conflicts"`
	Failed           uint `json:"failed"`
	NotAttempted     uint `json:"not_attempted"`
	RepositoryErrors uint `json:"repository_errors"`
}

type jsonSummary struct {
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Halted           bool                   `json:"halted"`
	HaltReason       string                 `json:"halt_reason,omitempty"`
	HaltError        string                 `json:"halt_error,omitempty"`
	ExitCode         int                    `json:"exit_code"`
	PullRequests     []*jsonPullRequest     `json:"pull_requests"`
	RepositoryErrors []*jsonRepositoryError `json:"repository_errors"`
	NotProcessed     []string               `json:"not_processed"`
	Stats            jsonStats              `json:"stats"`
}

func toJSONSummary(result *automerge.RunResult) *jsonSummary {
	stats := result.Stats()

	summary := jsonSummary{
		StartTime:        result.StartTime,
		EndTime:          result.EndTime,
		Halted:           result.Halted(),
		HaltReason:       string(result.HaltReason),
		ExitCode:         result.ExitCode(),
		PullRequests:     make([]*jsonPullRequest, 0, len(result.Dispositions)),
		RepositoryErrors: make([]*jsonRepositoryError, 0, len(result.RepositoryErrors)),
		NotProcessed:     make([]string, 0, len(result.NotProcessed)),
		Stats:            jsonStats(stats),
	}

	if result.HaltErr != nil {
		summary.HaltError = result.HaltErr.Error()
	}

	for _, d := range result.Dispositions {
		pr := jsonPullRequest{
			Repository: d.Repository.String(),
			Number:     d.Number,
			Title:      d.Title,
			URL:        d.URL,
			Author:     d.Author,
			Verdict:    d.Verdict.Decision.String(),
			Reason:     d.Verdict.Reason,
		}

		if d.Outcome != nil {
			pr.Outcome = d.Outcome.Kind.String()
			pr.Attempts = d.Outcome.Attempts
			pr.MergeCommit = d.Outcome.MergeCommit
			pr.Simulated = d.Outcome.Simulated
			if d.Outcome.Err != nil {
				pr.Error = d.Outcome.Err.Error()
			}
		}

		summary.PullRequests = append(summary.PullRequests, &pr)
	}

	for _, e := range result.RepositoryErrors {
		summary.RepositoryErrors = append(summary.RepositoryErrors, &jsonRepositoryError{
			Repository: e.Repository.String(),
			Error:      e.Err.Error(),
		})
	}

	for _, repo := range result.NotProcessed {
		summary.NotProcessed = append(summary.NotProcessed, repo.String())
	}

	return &summary
}

// WriteJSON writes the summary as JSON document to w.
func WriteJSON(w io.Writer, result *automerge.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(toJSONSummary(result))
}
