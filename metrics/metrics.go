// Package metrics exposes Prometheus instruments for rebalance cycles and negotiations.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/becomeliminal/yieldmind/engine"
)

const namespace = "yieldmind"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	cycles        *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	rounds        prometheus.Histogram
	toolCalls     *prometheus.CounterVec
	rebalances    *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	tokens        *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Labels: result (rebalanced, skipped, not_configured, error)
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "total",
			Help:      "Completed rebalance cycles by result",
		}, []string{"result"}),

		// Labels: outcome (accepted, exhausted_rounds, oracle_unreachable, no_tool_activity)
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "negotiation",
			Name:      "outcomes_total",
			Help:      "Negotiation terminal states",
		}, []string{"outcome"}),

		rounds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "negotiation",
			Name:      "rounds",
			Help:      "Oracle requests sent per negotiation",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),

		// Labels: tool, status (ok, error)
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "negotiation",
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched during negotiations",
		}, []string{"tool", "status"}),

		// Labels: direction (input, output)
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "negotiation",
			Name:      "tokens_total",
			Help:      "Oracle tokens consumed",
		}, []string{"direction"}),

		// Labels: target
		rebalances: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "rebalances_total",
			Help:      "Executed rebalances by target protocol",
		}, []string{"target"}),

		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall time of one rebalance cycle",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
}

// ObserveOutcome records a negotiation's terminal state.
func (m *Metrics) ObserveOutcome(o *engine.Outcome) {
	if m == nil || o == nil {
		return
	}
	m.outcomes.WithLabelValues(string(o.Status)).Inc()
	m.rounds.Observe(float64(o.Rounds))
	m.tokens.WithLabelValues("input").Add(float64(o.Tokens.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(o.Tokens.OutputTokens))
}

// ObserveRebalance records an executed rebalance.
func (m *Metrics) ObserveRebalance(target string) {
	if m == nil {
		return
	}
	m.rebalances.WithLabelValues(target).Inc()
}

// Log implements engine.AuditLogger by counting tool calls.
func (m *Metrics) Log(_ context.Context, entry *engine.AuditEntry) {
	if m == nil || entry == nil {
		return
	}
	status := "ok"
	if entry.Error != nil {
		status = "error"
	}
	m.toolCalls.WithLabelValues(entry.ToolName, status).Inc()
}
