// Package metrics exposes Prometheus instrumentation for the control
// loop. All methods are nil-receiver safe so engines can run without a
// metrics sink in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry and instruments for every engine.
type Metrics struct {
	registry *prometheus.Registry

	signalsPolled     *prometheus.CounterVec
	patternsMatched   *prometheus.CounterVec
	triggerExecutions *prometheus.CounterVec
	activeExperiments prometheus.Gauge
	evolutionVerdicts *prometheus.CounterVec
	loopIterations    *prometheus.CounterVec
	phaseDuration     *prometheus.HistogramVec
	confidenceScore   prometheus.Histogram
}

// New builds a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.signalsPolled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil", Name: "signals_polled_total",
		Help: "Signals received from adapters, by source.",
	}, []string{"source"})
	m.patternsMatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil", Name: "patterns_matched_total",
		Help: "Pattern firings, by pattern id.",
	}, []string{"pattern"})
	m.triggerExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil", Name: "trigger_executions_total",
		Help: "Trigger action executions, by trigger id and outcome.",
	}, []string{"trigger", "outcome"})
	m.activeExperiments = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vigil", Name: "active_experiments",
		Help: "Config experiments currently under observation.",
	})
	m.evolutionVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil", Name: "evolution_verdicts_total",
		Help: "Evaluated experiments, by verdict.",
	}, []string{"verdict"})
	m.loopIterations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil", Name: "loop_iterations_total",
		Help: "Completed loop iterations, by outcome.",
	}, []string{"outcome"})
	m.phaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vigil", Name: "phase_duration_seconds",
		Help:    "Duration of each loop phase.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})
	m.confidenceScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vigil", Name: "confidence_score",
		Help:    "Distribution of computed confidence scores.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	m.registry.MustRegister(
		m.signalsPolled, m.patternsMatched, m.triggerExecutions,
		m.activeExperiments, m.evolutionVerdicts, m.loopIterations,
		m.phaseDuration, m.confidenceScore,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SignalPolled(source string) {
	if m == nil {
		return
	}
	m.signalsPolled.WithLabelValues(source).Inc()
}

func (m *Metrics) PatternMatched(pattern string) {
	if m == nil {
		return
	}
	m.patternsMatched.WithLabelValues(pattern).Inc()
}

func (m *Metrics) TriggerExecuted(trigger string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.triggerExecutions.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) SetActiveExperiments(n int) {
	if m == nil {
		return
	}
	m.activeExperiments.Set(float64(n))
}

func (m *Metrics) EvolutionVerdict(verdict string) {
	if m == nil {
		return
	}
	m.evolutionVerdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) IterationDone(failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.loopIterations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PhaseObserved(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) ConfidenceObserved(score int) {
	if m == nil {
		return
	}
	m.confidenceScore.Observe(float64(score))
}
