package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	cyclesTotal       *prometheus.CounterVec
	promptTokensTotal *prometheus.CounterVec
	cycleDuration     *prometheus.HistogramVec
	brainRequests     *prometheus.CounterVec
	brainDuration     *prometheus.HistogramVec
	jobsTotal         *prometheus.CounterVec
	relayedTotal      *prometheus.CounterVec
	handoffsTotal     *prometheus.CounterVec
	activeSessions    *prometheus.GaugeVec
}

// NewPrometheusRecorder creates a recorder registered with reg. A nil reg
// uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		cyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omegaclaw_cycles_total",
				Help: "Total number of script cycles by job and parsed action",
			},
			[]string{"job_id", "action"},
		),
		promptTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omegaclaw_prompt_tokens_total",
				Help: "Total number of prompt tokens sent per job",
			},
			[]string{"job_id"},
		),
		cycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "omegaclaw_cycle_duration_seconds",
				Help:    "Duration of the brain round trip of a cycle",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		brainRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omegaclaw_brain_requests_total",
				Help: "Total number of brain calls by backend and status",
			},
			[]string{"backend", "status"},
		),
		brainDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "omegaclaw_brain_request_duration_seconds",
				Help:    "Duration of brain calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omegaclaw_jobs_total",
				Help: "Total number of job status transitions",
			},
			[]string{"status"},
		),
		relayedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omegaclaw_relayed_total",
				Help: "Total number of messages relayed to users",
			},
			[]string{"kind"},
		),
		handoffsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omegaclaw_handoffs_total",
				Help: "Total number of usage-limit handoffs",
			},
			[]string{"from", "to"},
		),
		activeSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "omegaclaw_active_sessions",
				Help: "Number of tracked job sessions by state",
			},
			[]string{"state"},
		),
	}
}

// ObserveCycle records one script cycle.
func (p *PrometheusRecorder) ObserveCycle(jobID, action string, promptTokens int, duration time.Duration) {
	p.cyclesTotal.WithLabelValues(jobID, action).Inc()
	p.promptTokensTotal.WithLabelValues(jobID).Add(float64(promptTokens))
	p.cycleDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// ObserveBrain records one backend call.
func (p *PrometheusRecorder) ObserveBrain(backend string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.brainRequests.WithLabelValues(backend, status).Inc()
	p.brainDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// IncJob counts a job status transition.
func (p *PrometheusRecorder) IncJob(status string) {
	p.jobsTotal.WithLabelValues(status).Inc()
}

// IncRelayed counts a relayed message.
func (p *PrometheusRecorder) IncRelayed(kind string) {
	p.relayedTotal.WithLabelValues(kind).Inc()
}

// IncHandoff counts a usage-limit handoff.
func (p *PrometheusRecorder) IncHandoff(from, to string) {
	p.handoffsTotal.WithLabelValues(from, to).Inc()
}

// SetActiveSessions sets the session gauge for state.
func (p *PrometheusRecorder) SetActiveSessions(state string, n int) {
	p.activeSessions.WithLabelValues(state).Set(float64(n))
}
