package rotation

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// OutcomeNoop labels a step that found its work already done.
const OutcomeNoop = "noop"

// Metrics records step outcomes. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the step metrics on reg, or on a fresh registry when
// reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgrotate_step_total",
				Help: "Total number of rotation steps by outcome",
			},
			[]string{"step", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgrotate_step_duration_seconds",
				Help:    "Duration of rotation steps in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"step"},
		),
	}
}

// Observe records one step execution.
func (m *Metrics) Observe(step Step, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(string(step), outcome).Inc()
	m.duration.WithLabelValues(string(step)).Observe(elapsed.Seconds())
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// StepCounter returns the step counter for testing.
func (m *Metrics) StepCounter() *prometheus.CounterVec {
	return m.steps
}

// Push sends the metrics to a Pushgateway, grouped by secret.
func (m *Metrics) Push(ctx context.Context, url, secretID string) error {
	if m == nil || url == "" {
		return nil
	}
	return push.New(url, "pgrotate").
		Gatherer(m.registry).
		Grouping("secret_id", secretID).
		PushContext(ctx)
}
