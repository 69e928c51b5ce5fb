// Package confidence scores how safe it is to let the loop act on a
// prospective task without a human in the way. It blends weighted
// health and history signals into a bounded score and a four-way
// decision, with a deterministic reasoning trail an operator can audit
// before trusting an auto-execute verdict.
package confidence

import (
	"time"

	"vigil/internal/config"
	"vigil/internal/signal"
)

// Task is a prospective unit of autonomous work to be scored.
type Task struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Description   string          `json:"description,omitempty"`
	Priority      signal.Priority `json:"priority"`
	EstimatedCost float64         `json:"estimated_cost"` // abstract effort units
	FileCount     int             `json:"file_count"`
}

// Sample is one weighted confidence input. Value is always in [0,100].
type Sample struct {
	Source    string            `json:"source"`
	Value     float64           `json:"value"`
	Weight    float64           `json:"weight"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Decision gates what happens with a scored task.
type Decision string

const (
	DecisionAutoExecute     Decision = "auto-execute"
	DecisionNotify          Decision = "notify"
	DecisionRequireApproval Decision = "require-approval"
	DecisionEscalate        Decision = "escalate"
)

// Result is a completed confidence calculation. Produced fresh per
// request, never mutated.
type Result struct {
	Score        int       `json:"score"`
	Signals      []Sample  `json:"signals"`
	Decision     Decision  `json:"decision"`
	Reasoning    []string  `json:"reasoning"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// TestReport is the latest test-suite health reading.
type TestReport struct {
	PassRate float64   `json:"pass_rate"` // 0-100
	Coverage float64   `json:"coverage"`  // 0-100
	At       time.Time `json:"at"`
}

// LintReport is the latest lint reading.
type LintReport struct {
	Errors   int       `json:"errors"`
	Warnings int       `json:"warnings"`
	At       time.Time `json:"at"`
}

// BuildReport is the latest build outcome.
type BuildReport struct {
	Success bool      `json:"success"`
	At      time.Time `json:"at"`
}

// BenchmarkReport is the most recent benchmark aggregate.
type BenchmarkReport struct {
	Score float64   `json:"score"` // 0-100
	At    time.Time `json:"at"`
}

// HealthSource supplies repository health readings. Implemented by the
// surrounding system (CI reader, local runner); any reading older than
// max_signal_age is excluded from the blend, never zero-filled.
type HealthSource interface {
	LatestTests() (TestReport, bool)
	LatestLint() (LintReport, bool)
	LatestBuild() (BuildReport, bool)
}

// BenchmarkSource supplies the latest benchmark aggregate score.
type BenchmarkSource interface {
	LatestBenchmark() (BenchmarkReport, bool)
}

// Decide maps a score to a decision against totally ordered thresholds.
// Pure and monotonic: a higher score never yields a weaker decision.
func Decide(score int, t config.ConfidenceThresholds) Decision {
	switch {
	case score >= t.AutoExecute:
		return DecisionAutoExecute
	case score >= t.Notify:
		return DecisionNotify
	case score >= t.RequireApproval:
		return DecisionRequireApproval
	default:
		return DecisionEscalate
	}
}
