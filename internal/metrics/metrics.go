// Package metrics exposes Prometheus counters and histograms for the
// Execution Pipeline's decisions, the Executor's exit codes, and the
// Chat Channel's outbound latency, grounded on the teacher's
// internal/escrow/metrics.go struct-of-collectors + promauto.NewMetrics
// pattern.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the broker registers.
type Metrics struct {
	DecisionsTotal     *prometheus.CounterVec
	PipelineStageSecs  *prometheus.HistogramVec
	ExecutorExitCodes  *prometheus.CounterVec
	ExecutorDurationS  *prometheus.HistogramVec
	ChatSendDurationS  *prometheus.HistogramVec
	PendingApprovals   *prometheus.GaugeVec
	RateLimitRejected  *prometheus.CounterVec
	TrustAutoApprovals *prometheus.CounterVec
	GrantConsumptions  *prometheus.CounterVec
}

// New builds and registers the collector set against the default
// registry, matching the teacher's own promauto usage. Call once per
// process.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer builds the collector set against reg, so tests can
// use a scratch prometheus.NewRegistry() instead of colliding on the
// process-wide default when multiple Metrics instances are constructed
// in the same binary.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bouncer_decisions_total",
				Help: "Total number of terminal pipeline decisions by status and decision type.",
			},
			[]string{"status", "decision_type"},
		),
		PipelineStageSecs: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bouncer_pipeline_stage_duration_seconds",
				Help:    "Time spent in each Execution Pipeline stage.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		ExecutorExitCodes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bouncer_executor_exit_codes_total",
				Help: "Executor invocations by exit code bucket (zero, nonzero, timeout).",
			},
			[]string{"bucket"},
		),
		ExecutorDurationS: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bouncer_executor_duration_seconds",
				Help:    "Wall-clock time of executed AWS CLI invocations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 60},
			},
			[]string{"backend"},
		),
		ChatSendDurationS: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bouncer_chat_send_duration_seconds",
				Help:    "Latency of outbound chat-channel operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		PendingApprovals: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bouncer_pending_approvals",
				Help: "Current number of requests awaiting chat approval, by source.",
			},
			[]string{"source"},
		),
		RateLimitRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bouncer_rate_limit_rejections_total",
				Help: "Requests rejected by the per-source rate limiter or pending-count cap.",
			},
			[]string{"reason"},
		),
		TrustAutoApprovals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bouncer_trust_auto_approvals_total",
				Help: "Commands auto-approved under an active trust session.",
			},
			[]string{"trust_scope"},
		),
		GrantConsumptions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bouncer_grant_consumptions_total",
				Help: "Commands executed by consuming a grant session.",
			},
			[]string{"source"},
		),
	}
}

// Handler returns the /metrics HTTP handler the server wires in when
// config.MetricsConfig.Enabled is true.
func Handler() http.Handler {
	return promhttp.Handler()
}
