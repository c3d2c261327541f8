package automerge

import (
	"time"

	"go.uber.org/zap"
)

// Process exit codes derived from a RunResult.
const (
	ExitCodeOK       = 0
	ExitCodeHalted   = 2
	ExitCodeFailures = 3
)

type HaltReason string

const (
	HaltReasonNone        HaltReason = ""
	HaltReasonRateLimited HaltReason = "rate-limited"
	HaltReasonCancelled   HaltReason = "cancelled"
)

// Disposition is the result of processing a pull request in a run.
type Disposition struct {
	Repository Repository
	Number     int
	Title      string
	URL        string
	Author     string
	Verdict    Verdict
	// Outcome is nil if no merge was attempted.
	Outcome *MergeOutcome
}

// NotAttempted returns true if the pull request was eligible for merging
// but no merge was attempted because the run was halted.
func (d *Disposition) NotAttempted() bool {
	return d.Verdict.Decision == DecisionMerge && d.Outcome == nil
}

// RepositoryError is an error that prevented processing a repository.
type RepositoryError struct {
	Repository Repository
	Err        error
}

// RunResult is the result of processing a list of repositories.
type RunResult struct {
	StartTime time.Time
	EndTime   time.Time

	// Dispositions is ordered by repository and for each repository by
	// the age of the pull requests, oldest first.
	Dispositions     []*Disposition
	RepositoryErrors []*RepositoryError
	// NotProcessed are the repositories that were not processed because
	// the run was halted.
	NotProcessed []Repository

	HaltReason HaltReason
	HaltErr    error
}

func (r *RunResult) Halted() bool {
	return r.HaltReason != HaltReasonNone
}

func (r *RunResult) halt(reason HaltReason, err error) {
	if r.Halted() {
		return
	}

	r.HaltReason = reason
	r.HaltErr = err
}

// ExitCode returns ExitCodeHalted if the run was halted, ExitCodeFailures
// if merging a pull request failed or a repository could not be processed
// and ExitCodeOK otherwise.
func (r *RunResult) ExitCode() int {
	if r.Halted() {
		return ExitCodeHalted
	}

	stats := r.Stats()
	if stats.Failed > 0 || stats.RepositoryErrors > 0 {
		return ExitCodeFailures
	}

	return ExitCodeOK
}

// RunStats are counters of a RunResult.
type RunStats struct {
	Seen             uint
	Merged           uint
	Skipped          uint
	Deferred         uint
	Conflicts        uint
	Failed           uint
	NotAttempted     uint
	RepositoryErrors uint
}

func (r *RunResult) Stats() RunStats {
	stats := RunStats{RepositoryErrors: uint(len(r.RepositoryErrors))}

	for _, d := range r.Dispositions {
		stats.Seen++

		switch d.Verdict.Decision {
		case DecisionSkip:
			stats.Skipped++
			continue
		case DecisionDefer:
			stats.Deferred++
			continue
		}

		if d.Outcome == nil {
			stats.NotAttempted++
			continue
		}

		switch {
		case d.Outcome.Kind == OutcomeMerged:
			stats.Merged++
		case d.Outcome.Kind == OutcomeConflict:
			stats.Conflicts++
		case d.Outcome.Failed():
			stats.Failed++
		}
	}

	return stats
}

func (s *RunStats) LogFields() []zap.Field {
	return []zap.Field{
		zap.Uint("run.seen", s.Seen),
		zap.Uint("run.merged", s.Merged),
		zap.Uint("run.skipped", s.Skipped),
		zap.Uint("run.deferred", s.Deferred),
		zap.Uint("run.conflicts", s.Conflicts),
		zap.Uint("run.failed", s.Failed),
		zap.Uint("run.not_attempted", s.NotAttempted),
		zap.Uint("run.repository_errors", s.RepositoryErrors),
	}
}
