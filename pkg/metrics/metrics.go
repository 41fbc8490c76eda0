// Package metrics holds the Prometheus collectors for sessions, steps,
// decisions and runs. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "operator"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsProvisioned  *prometheus.CounterVec
	SessionsReleased     *prometheus.CounterVec
	SessionsActive       prometheus.Gauge
	ProvisioningDuration *prometheus.HistogramVec

	// Step metrics
	StepsTotal   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec

	// Decision metrics
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration prometheus.Histogram

	// Run metrics
	RunsStarted  prometheus.Counter
	RunsFinished *prometheus.CounterVec
	RunsActive   prometheus.Gauge
	RunsWaiting  prometheus.Gauge
}

// New creates the collectors on a fresh registry, so several instances can
// coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsProvisioned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_provisioned_total",
				Help:      "Browser sessions provisioned, by outcome.",
			},
			[]string{"outcome"},
		),
		SessionsReleased: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_released_total",
				Help:      "Browser sessions released, by outcome of the teardown.",
			},
			[]string{"outcome"},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Browser sessions currently held by the registry.",
			},
		),
		ProvisioningDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_provisioning_duration_seconds",
				Help:      "Time to provision and connect a browser session.",
				Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 40},
			},
			[]string{"outcome"},
		),

		StepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Executed steps, by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Step execution duration in seconds.",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Decision engine calls, by outcome.",
			},
			[]string{"outcome"},
		),
		DecisionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_duration_seconds",
				Help:      "Decision engine latency in seconds.",
				Buckets:   []float64{.25, .5, 1, 2, 4, 8, 16, 32},
			},
		),

		RunsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Runs started.",
			},
		),
		RunsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Runs terminated, by outcome (completed or an error kind).",
			},
			[]string{"outcome"},
		),
		RunsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Runs that have not terminated.",
			},
		),
		RunsWaiting: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_awaiting_user_input",
				Help:      "Runs suspended until a human resumes them.",
			},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// ObserveProvisioning records one provisioning attempt.
func (m *Metrics) ObserveProvisioning(d time.Duration, err error) {
	if m == nil {
		return
	}
	o := outcome(err)
	m.SessionsProvisioned.WithLabelValues(o).Inc()
	m.ProvisioningDuration.WithLabelValues(o).Observe(d.Seconds())
	if err == nil {
		m.SessionsActive.Inc()
	}
}

// ObserveRelease records one session teardown.
func (m *Metrics) ObserveRelease(err error) {
	if m == nil {
		return
	}
	m.SessionsReleased.WithLabelValues(outcome(err)).Inc()
	m.SessionsActive.Dec()
}

// ObserveStep records one executed step.
func (m *Metrics) ObserveStep(tool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(tool, outcome(err)).Inc()
	m.StepDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveDecision records one decision engine call.
func (m *Metrics) ObserveDecision(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(outcome(err)).Inc()
	m.DecisionDuration.Observe(d.Seconds())
}

// RunStarted records a run entering the loop.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
	m.RunsActive.Inc()
}

// RunFinished records a run terminating. outcome is "completed" or an error kind.
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(outcome).Inc()
	m.RunsActive.Dec()
}

// SetWaiting adjusts the number of runs awaiting user input.
func (m *Metrics) SetWaiting(waiting bool) {
	if m == nil {
		return
	}
	if waiting {
		m.RunsWaiting.Inc()
	} else {
		m.RunsWaiting.Dec()
	}
}
