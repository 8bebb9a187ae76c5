package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const tracerName = "kubepulse/agent"

// Metrics holds the agent's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	turnsTotal   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kubepulse",
			Name:      "steps_total",
			Help:      "Graph step invocations by step and outcome.",
		}, []string{"step", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kubepulse",
			Name:      "step_duration_seconds",
			Help:      "Time spent in each graph step.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"step"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kubepulse",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kubepulse",
			Name:      "tool_duration_seconds",
			Help:      "Time spent in each tool invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"tool"}),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kubepulse",
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.stepsTotal, m.stepDuration, m.toolCalls, m.toolDuration, m.turnsTotal)
	return m
}

func outcome(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

func (m *Metrics) observeStep(step string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(step, outcome(err != nil)).Inc()
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) observeTool(tool string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome(failed)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) observeTurn(label string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(label).Inc()
}
