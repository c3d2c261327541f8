package automerge

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/justmerge/internal/logfields"
)

// DryMerger is a Merger that does not do any changes on github.
// All merges are simulated and always succeed.
type DryMerger struct {
	logger *zap.Logger
}

func NewDryMerger(logger *zap.Logger) *DryMerger {
	return &DryMerger{
		logger: logger.Named("dry_merger"),
	}
}

func (m *DryMerger) Merge(_ context.Context, pr *PullRequest, method MergeMethod) *MergeOutcome {
	m.logger.Info(
		"simulated merging pull request, no changes were made on github",
		append(
			pr.LogFields,
			logfields.Event("pull_request_merge_simulated"),
			logfields.Commit(pr.HeadSHA),
			zap.String("merge_method", string(method)),
		)...,
	)

	return &MergeOutcome{
		Kind:      OutcomeMerged,
		Simulated: true,
	}
}
