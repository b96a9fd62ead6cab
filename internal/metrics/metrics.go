package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the Prometheus instruments for the triage pipeline.
type Metrics struct {
	TipsIngested    *prometheus.CounterVec
	TipsDuplicate   prometheus.Counter
	TipsCompleted   *prometheus.CounterVec
	TipsBlocked     prometheus.Counter
	StageDuration   *prometheus.HistogramVec
	StageFailures   *prometheus.CounterVec
	OracleCalls     *prometheus.CounterVec
	OracleRetries   prometheus.Counter
	QueueDepth      prometheus.Gauge
	ActiveTips      prometheus.Gauge
	WarrantUpdates  prometheus.Counter
	StreamClients   prometheus.Gauge
	InjectionFlags  prometheus.Counter
	BreakerState    *prometheus.GaugeVec
}

// New registers the pipeline metrics on reg. Tests pass a fresh registry;
// main passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TipsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tipline_tips_ingested_total",
			Help: "Tips accepted for triage, by source.",
		}, []string{"source"}),
		TipsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_tips_duplicate_total",
			Help: "Submissions recognized as duplicates of an existing tip.",
		}),
		TipsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tipline_tips_completed_total",
			Help: "Tips that reached a final tier, by tier.",
		}, []string{"tier"}),
		TipsBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_tips_blocked_total",
			Help: "Tips hard-stopped before enrichment finished.",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tipline_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tipline_stage_failures_total",
			Help: "Stage executions that ended in agent_error, by stage.",
		}, []string{"stage"}),
		OracleCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tipline_oracle_calls_total",
			Help: "Model invocations, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		OracleRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_oracle_retries_total",
			Help: "Model invocation attempts beyond the first.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tipline_queue_depth",
			Help: "Jobs waiting in the intake queue.",
		}),
		ActiveTips: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tipline_active_tips",
			Help: "Tips currently being processed by the pipeline.",
		}),
		WarrantUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_warrant_updates_total",
			Help: "Human warrant actions accepted on tip files.",
		}),
		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tipline_stream_clients",
			Help: "Open SSE connections.",
		}),
		InjectionFlags: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_injection_findings_total",
			Help: "Prompt-injection patterns detected in tip content.",
		}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tipline_breaker_state",
			Help: "Circuit breaker state per upstream (0 closed, 1 half-open, 2 open).",
		}, []string{"upstream"}),
	}
}

// RecordStage observes one stage execution.
func (m *Metrics) RecordStage(stage string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if failed {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordOracle counts one model invocation outcome.
func (m *Metrics) RecordOracle(stage, outcome string, retries int) {
	if m == nil {
		return
	}
	m.OracleCalls.WithLabelValues(stage, outcome).Inc()
	if retries > 0 {
		m.OracleRetries.Add(float64(retries))
	}
}

// RecordCompletion counts a finished tip.
func (m *Metrics) RecordCompletion(tier string) {
	if m == nil {
		return
	}
	m.TipsCompleted.WithLabelValues(tier).Inc()
}

// RecordIngest counts an accepted submission.
func (m *Metrics) RecordIngest(source string) {
	if m == nil {
		return
	}
	m.TipsIngested.WithLabelValues(source).Inc()
}
