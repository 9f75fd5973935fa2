// internal/metrics/metrics.go
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zabbix_assistant"

// maxLabelLen is the maximum length for a metric label value
const maxLabelLen = 64

// Metrics holds the assistant's Prometheus instrumentation. A nil *Metrics is
// valid and records nothing, so components can run without a registry in tests.
type Metrics struct {
	pipelineRuns       *prometheus.CounterVec
	pipelineDuration   prometheus.Histogram
	completionErrors   *prometheus.CounterVec
	completionDuration prometheus.Histogram
	probeResults       *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	jobsInFlight       prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Response pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		pipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of a response pipeline run",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		completionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "completion_errors_total",
				Help:      "Completion upstream failures by kind",
			},
			[]string{"kind"},
		),
		completionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Latency of completion upstream calls",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		probeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_results_total",
				Help:      "Zabbix connectivity probes by result",
			},
			[]string{"result"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP API requests by route and status code",
			},
			[]string{"route", "code"},
		),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Pipeline jobs currently executing",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.pipelineRuns,
			m.pipelineDuration,
			m.completionErrors,
			m.completionDuration,
			m.probeResults,
			m.httpRequests,
			m.jobsInFlight,
		)
	}
	return m
}

// PipelineRun records one finished pipeline run.
func (m *Metrics) PipelineRun(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(sanitizeLabel(outcome)).Inc()
	m.pipelineDuration.Observe(seconds)
}

// CompletionCall records the latency of one upstream call and, if it failed, its kind.
func (m *Metrics) CompletionCall(seconds float64, errKind string) {
	if m == nil {
		return
	}
	m.completionDuration.Observe(seconds)
	if errKind != "" {
		m.completionErrors.WithLabelValues(sanitizeLabel(errKind)).Inc()
	}
}

// ProbeResult counts a connectivity probe.
func (m *Metrics) ProbeResult(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.probeResults.WithLabelValues(result).Inc()
}

// HTTPRequest counts an API request.
func (m *Metrics) HTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(sanitizeLabel(route), code).Inc()
}

// JobStarted and JobFinished track the in-flight gauge.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
}

// sanitizeLabel ensures a label value is safe for Prometheus
func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}
