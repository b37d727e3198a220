package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors, registered against a
// dedicated registry so /metrics never picks up default-registerer noise
// from an embedding process.
type Metrics struct {
	Registry       *prometheus.Registry
	TurnsTotal     prometheus.Counter
	ToolCallsTotal *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	TurnLatency    prometheus.Histogram
}

// NewMetrics builds and registers the gateway's metric collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentd",
			Name:      "turns_total",
			Help:      "Total number of completed SendMessage turns.",
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentd",
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations, by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentd",
			Name:      "provider_errors_total",
			Help:      "Total number of turns that ended in a provider error, by provider.",
		}, []string{"provider"}),
		TurnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentd",
			Name:      "turn_latency_seconds",
			Help:      "SendMessage turn duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(m.TurnsTotal, m.ToolCallsTotal, m.ProviderErrors, m.TurnLatency)
	return m
}
