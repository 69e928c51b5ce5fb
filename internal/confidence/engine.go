package confidence

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"vigil/internal/config"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/signal"
)

// Engine gathers weighted confidence samples and produces a bounded
// score with a gating decision. Sources lacking fresh data are excluded
// from the blend; too few valid sources suppresses the score to a
// conservative ceiling instead of extrapolating.
type Engine struct {
	store   *config.Store
	health  HealthSource    // optional
	bench   BenchmarkSource // optional
	history *History
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// sparseCeiling caps the score when fewer than min_signals valid
// sources are present.
const sparseCeiling = 50

// NewEngine builds an engine. health and bench may be nil when the
// surrounding system has no reader for them; those sources are then
// reported as missing in the reasoning.
func NewEngine(store *config.Store, health HealthSource, bench BenchmarkSource, history *History, m *metrics.Metrics) *Engine {
	if history == nil {
		history = NewHistory(nil)
	}
	return &Engine{
		store:   store,
		health:  health,
		bench:   bench,
		history: history,
		metrics: m,
		log:     logging.For(logging.CategoryConfidence),
		now:     time.Now,
	}
}

// History exposes the rolling outcome store so the orchestrator's
// monitor phase can record results.
func (e *Engine) History() *History { return e.history }

// Calculate scores a task. The returned reasoning lists every source in
// a fixed order (tests, lint, build, history, benchmark, heuristic)
// followed by the recommendation, so two runs over the same inputs read
// identically.
func (e *Engine) Calculate(task Task) Result {
	now := e.now()
	cfg := e.store.Snapshot().Confidence
	maxAge := cfg.MaxSignalAge.Std()

	var (
		samples   []Sample
		reasoning []string
	)

	appendSample := func(s Sample, detail string) {
		samples = append(samples, s)
		reasoning = append(reasoning, fmt.Sprintf("%s: %.0f (weight %.1f) %s", s.Source, s.Value, s.Weight, detail))
	}
	appendSkip := func(source, why string) {
		reasoning = append(reasoning, fmt.Sprintf("%s: excluded (%s)", source, why))
	}

	// Tests: pass rate blended with coverage.
	if e.health != nil {
		if r, ok := e.health.LatestTests(); ok {
			if age := now.Sub(r.At); age > maxAge {
				appendSkip("tests", fmt.Sprintf("stale, age %s > %s", age.Round(time.Second), maxAge))
			} else {
				value := clamp(r.PassRate*0.7 + r.Coverage*0.3)
				appendSample(Sample{
					Source: "tests", Value: value, Weight: cfg.Weights.Tests, Timestamp: r.At,
					Metadata: map[string]string{
						"pass_rate": fmt.Sprintf("%.1f", r.PassRate),
						"coverage":  fmt.Sprintf("%.1f", r.Coverage),
					},
				}, fmt.Sprintf("pass rate %.1f%%, coverage %.1f%%", r.PassRate, r.Coverage))
			}
		} else {
			appendSkip("tests", "no data")
		}
	} else {
		appendSkip("tests", "no source")
	}

	// Lint: penalty curve, errors cost more than warnings.
	if e.health != nil {
		if r, ok := e.health.LatestLint(); ok {
			if age := now.Sub(r.At); age > maxAge {
				appendSkip("lint", fmt.Sprintf("stale, age %s > %s", age.Round(time.Second), maxAge))
			} else {
				value := clamp(100 - float64(r.Errors)*5 - float64(r.Warnings))
				appendSample(Sample{
					Source: "lint", Value: value, Weight: cfg.Weights.Lint, Timestamp: r.At,
				}, fmt.Sprintf("%d errors, %d warnings", r.Errors, r.Warnings))
			}
		} else {
			appendSkip("lint", "no data")
		}
	} else {
		appendSkip("lint", "no source")
	}

	// Build: boolean health.
	if e.health != nil {
		if r, ok := e.health.LatestBuild(); ok {
			if age := now.Sub(r.At); age > maxAge {
				appendSkip("build", fmt.Sprintf("stale, age %s > %s", age.Round(time.Second), maxAge))
			} else {
				value := 0.0
				state := "failing"
				if r.Success {
					value = 100
					state = "passing"
				}
				appendSample(Sample{
					Source: "build", Value: value, Weight: cfg.Weights.Build, Timestamp: r.At,
				}, "build "+state)
			}
		} else {
			appendSkip("build", "no data")
		}
	} else {
		appendSkip("build", "no source")
	}

	// History: 7-day rolling success rate for this task type.
	if rate, n, ok := e.history.Rate(task.Type, now); ok {
		appendSample(Sample{
			Source: "history", Value: clamp(rate * 100), Weight: cfg.Weights.History, Timestamp: now,
			Metadata: map[string]string{"outcomes": fmt.Sprintf("%d", n)},
		}, fmt.Sprintf("%.0f%% success over %d %s outcomes", rate*100, n, task.Type))
	} else {
		appendSkip("history", "no outcomes for type "+task.Type)
	}

	// Benchmark: most recent aggregate.
	if e.bench != nil {
		if r, ok := e.bench.LatestBenchmark(); ok {
			if age := now.Sub(r.At); age > maxAge {
				appendSkip("benchmark", fmt.Sprintf("stale, age %s > %s", age.Round(time.Second), maxAge))
			} else {
				appendSample(Sample{
					Source: "benchmark", Value: clamp(r.Score), Weight: cfg.Weights.Benchmark, Timestamp: r.At,
				}, fmt.Sprintf("aggregate %.1f", r.Score))
			}
		} else {
			appendSkip("benchmark", "no data")
		}
	} else {
		appendSkip("benchmark", "no source")
	}

	// Heuristic: derived from the task itself, never stale.
	hv := HeuristicValue(task)
	appendSample(Sample{
		Source: "heuristic", Value: hv, Weight: cfg.Weights.Heuristic, Timestamp: now,
	}, fmt.Sprintf("priority %s, cost %.0f, %d files", task.Priority, task.EstimatedCost, task.FileCount))

	score := Blend(samples)
	if len(samples) < cfg.MinSignals && score > sparseCeiling {
		reasoning = append(reasoning, fmt.Sprintf(
			"only %d of %d required signals present: score capped at %d", len(samples), cfg.MinSignals, sparseCeiling))
		score = sparseCeiling
	}

	decision := Decide(score, cfg.Thresholds)
	reasoning = append(reasoning, fmt.Sprintf("score %d -> %s", score, decision))

	e.metrics.ConfidenceObserved(score)
	e.log.Debug("confidence calculated",
		zap.String("task", task.ID),
		zap.Int("score", score),
		zap.String("decision", string(decision)),
		zap.Int("signals", len(samples)))

	return Result{
		Score:        score,
		Signals:      samples,
		Decision:     decision,
		Reasoning:    reasoning,
		CalculatedAt: now,
	}
}

// Blend computes the weighted mean of the samples, rounded and clamped
// to [0,100]. Zero total weight yields zero.
func Blend(samples []Sample) int {
	var sum, weight float64
	for _, s := range samples {
		if s.Weight <= 0 {
			continue
		}
		sum += s.Value * s.Weight
		weight += s.Weight
	}
	if weight == 0 {
		return 0
	}
	score := int(math.Round(sum / weight))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// HeuristicValue derives the always-present signal from the task's own
// shape: higher priority, higher estimated cost, and wider file touch
// all push confidence down.
func HeuristicValue(task Task) float64 {
	v := 70.0

	switch task.Priority {
	case signal.PriorityCritical:
		v -= 30
	case signal.PriorityHigh:
		v -= 15
	case signal.PriorityMedium:
		v -= 5
	case signal.PriorityLow:
		v += 10
	}

	if task.EstimatedCost > 100 {
		v -= 20
	} else if task.EstimatedCost > 50 {
		v -= 10
	}

	if task.FileCount > 10 {
		v -= 15
	} else if task.FileCount > 5 {
		v -= 5
	}

	return clamp(v)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
