package automerge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/justmerge/internal/logfields"
)

const metricNamespace = "justmerge"

const (
	verdictsMetricName      = "verdicts_total"
	mergeOutcomesMetricName = "merge_outcomes_total"
	runDurationMetricName   = "run_duration_seconds"
	runHaltedMetricName     = "run_halted"
	lastRunMetricName       = "last_run_timestamp_seconds"
)

const (
	repositoryLabel = "repository"
	decisionLabel   = "decision"
	reasonLabel     = "reason"
	outcomeLabel    = "outcome"
)

type metricCollector struct {
	verdicts      *prometheus.CounterVec
	mergeOutcomes *prometheus.CounterVec
	runDuration   prometheus.Gauge
	runHalted     prometheus.Gauge
	lastRun       prometheus.Gauge
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		verdicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      verdictsMetricName,
				Help:      "count of evaluated pull requests by verdict",
			},
			[]string{repositoryLabel, decisionLabel, reasonLabel},
		),
		mergeOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      mergeOutcomesMetricName,
				Help:      "count of merge operations by outcome",
			},
			[]string{repositoryLabel, outcomeLabel},
		),
		runDuration: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      runDurationMetricName,
				Help:      "duration of the last run",
			},
		),
		runHalted: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      runHaltedMetricName,
				Help:      "1 if the last run was halted before all repositories were processed",
			},
		),
		lastRun: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      lastRunMetricName,
				Help:      "unix timestamp when the last run finished",
			},
		),
	}
}

// logGetMetricFailed logs via the global logger that is retrieved on each
// call, the collector is created before main replaces it.
func (m *metricCollector) logGetMetricFailed(metricName string, err error) {
	zap.L().Named(loggerName).Named("metrics").Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

func (m *metricCollector) VerdictInc(repo Repository, v Verdict) {
	cnt, err := m.verdicts.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		decisionLabel:   v.Decision.String(),
		reasonLabel:     v.Reason,
	})
	if err != nil {
		m.logGetMetricFailed(verdictsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) MergeOutcomeInc(repo Repository, o *MergeOutcome) {
	cnt, err := m.mergeOutcomes.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		outcomeLabel:    o.Kind.String(),
	})
	if err != nil {
		m.logGetMetricFailed(mergeOutcomesMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) RunFinished(result *RunResult) {
	m.runDuration.Set(result.EndTime.Sub(result.StartTime).Seconds())
	m.lastRun.Set(float64(result.EndTime.Unix()))

	if result.Halted() {
		m.runHalted.Set(1)
	} else {
		m.runHalted.Set(0)
	}
}
