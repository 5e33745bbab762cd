package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type StrategyMetrics struct {
	executions      *prometheus.CounterVec
	skips           prometheus.Counter
	failures        *prometheus.CounterVec
	triggerSweeps   prometheus.Counter
	triggersFired   prometheus.Counter
	quoteFailures   *prometheus.CounterVec
	pendingCallback prometheus.Gauge
}

var (
	strategyOnce     sync.Once
	strategyRegistry *StrategyMetrics
)

func Strategy() *StrategyMetrics {
	strategyOnce.Do(func() {
		strategyRegistry = &StrategyMetrics{
			executions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "strategy_executions_total",
				Help: "Count of strategy invocations by outcome.",
			}, []string{"outcome"}),
			skips: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "strategy_skips_total",
				Help: "Count of executions skipped because conditions were unmet.",
			}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "strategy_failures_total",
				Help: "Count of recoverable execution failures by kind.",
			}, []string{"kind"}),
			triggerSweeps: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "strategy_trigger_sweeps_total",
				Help: "Count of scheduler sweep passes.",
			}),
			triggersFired: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "strategy_triggers_fired_total",
				Help: "Count of triggers executed by the sweep loop.",
			}),
			quoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "strategy_quote_failures_total",
				Help: "Count of router quote failures by venue.",
			}, []string{"venue"}),
			pendingCallback: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "strategy_pending_callbacks",
				Help: "Number of callbacks awaiting resolution.",
			}),
		}
		prometheus.MustRegister(
			strategyRegistry.executions,
			strategyRegistry.skips,
			strategyRegistry.failures,
			strategyRegistry.triggerSweeps,
			strategyRegistry.triggersFired,
			strategyRegistry.quoteFailures,
			strategyRegistry.pendingCallback,
		)
	})
	return strategyRegistry
}

func (m *StrategyMetrics) ObserveExecution(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.executions.WithLabelValues(outcome).Inc()
}

func (m *StrategyMetrics) ObserveSkip() {
	if m == nil {
		return
	}
	m.skips.Inc()
}

func (m *StrategyMetrics) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *StrategyMetrics) ObserveSweep(fired int) {
	if m == nil {
		return
	}
	m.triggerSweeps.Inc()
	m.triggersFired.Add(float64(fired))
}

func (m *StrategyMetrics) ObserveQuoteFailure(venue string) {
	if m == nil {
		return
	}
	if venue == "" {
		venue = "unknown"
	}
	m.quoteFailures.WithLabelValues(venue).Inc()
}

func (m *StrategyMetrics) SetPendingCallbacks(count int) {
	if m == nil {
		return
	}
	m.pendingCallback.Set(float64(count))
}
