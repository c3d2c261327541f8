package automerge

import (
	"go.uber.org/zap"

	"github.com/simplesurance/justmerge/internal/logfields"
)

const loggerName = "automerge"

func logFieldVerdict(v Verdict) []zap.Field {
	return []zap.Field{
		zap.String("verdict", v.Decision.String()),
		logfields.Reason(v.Reason),
	}
}

func logFieldOutcome(k OutcomeKind) zap.Field {
	return zap.String("merge_outcome", k.String())
}
