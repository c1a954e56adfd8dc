package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for orchestration activity. A nil
// *Metrics records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	modelCalls   prometheus.Histogram
	modelLatency *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	toolLatency  *prometheus.HistogramVec
	repairs      *prometheus.CounterVec
}

// MustNewMetrics registers the collectors on reg and panics on conflicts.
// Tests should pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promo",
			Subsystem: "agent",
			Name:      "requests_total",
			Help:      "Orchestrated conversations by outcome.",
		}, []string{"outcome"}),
		modelCalls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "promo",
			Subsystem: "agent",
			Name:      "model_calls_per_request",
			Help:      "Model calls made while answering one conversation.",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10, 15},
		}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "promo",
			Subsystem: "agent",
			Name:      "model_call_duration_seconds",
			Help:      "Latency of language model calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promo",
			Subsystem: "agent",
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "promo",
			Subsystem: "agent",
			Name:      "tool_duration_seconds",
			Help:      "Latency of tool invocations.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"tool"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promo",
			Subsystem: "agent",
			Name:      "repairs_total",
			Help:      "Image requests completed by the orchestrator, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.requests, m.modelCalls, m.modelLatency, m.toolCalls, m.toolLatency, m.repairs)
	return m
}

func (m *Metrics) observeRequest(modelCalls int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.modelCalls.Observe(float64(modelCalls))
}

func (m *Metrics) observeModel(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.modelLatency.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) observeTool(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) observeRepair(outcome string) {
	if m == nil {
		return
	}
	m.repairs.WithLabelValues(outcome).Inc()
}
