// Package orchestrator drives the autonomous control loop: one
// sense -> analyze -> plan -> build -> verify -> deploy -> monitor ->
// learn -> evolve pass per tick, composing the signal processor,
// confidence engine, trigger engine, and config evolver with two
// external collaborators (learning engine, benchmark runner).
package orchestrator

import (
	"context"
	"time"

	"vigil/internal/confidence"
	"vigil/internal/evolve"
	"vigil/internal/signal"
)

// Status is the loop's lifecycle state.
type Status string

const (
	StatusStopped      Status = "stopped"
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusError        Status = "error"
)

// Phase names one step of a loop iteration.
type Phase string

const (
	PhaseSense   Phase = "sense"
	PhaseAnalyze Phase = "analyze"
	PhasePlan    Phase = "plan"
	PhaseBuild   Phase = "build"
	PhaseVerify  Phase = "verify"
	PhaseDeploy  Phase = "deploy"
	PhaseMonitor Phase = "monitor"
	PhaseLearn   Phase = "learn"
	PhaseEvolve  Phase = "evolve"
)

// PhaseResult records one phase of one iteration.
type PhaseResult struct {
	Phase     Phase         `json:"phase"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Summary   string        `json:"summary,omitempty"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// LoopIteration is one full pass of the loop. Retained in a bounded
// ring buffer and appended to the iterations journal.
type LoopIteration struct {
	ID          string             `json:"id"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at,omitempty"`
	Phases      []PhaseResult      `json:"phases"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Anomaly is a threshold-based observation from the analyze phase.
type Anomaly struct {
	Description string          `json:"description"`
	Severity    signal.Priority `json:"severity"`
	Count       int             `json:"count"`
}

// Analysis is the analyze phase's output: candidate tasks for the
// confidence engine plus detected anomalies.
type Analysis struct {
	Recommendations []confidence.Task `json:"recommendations"`
	Anomalies       []Anomaly         `json:"anomalies"`
}

// Learning is one insight extracted by the external learning engine.
type Learning struct {
	Topic      string  `json:"topic"`
	Detail     string  `json:"detail"`
	Confidence float64 `json:"confidence"`
}

// LearningReport is the learning engine's result shape.
type LearningReport struct {
	Learnings []Learning `json:"learnings"`
}

// LearningEngine is the external insight collaborator. The core
// consumes its shapes; the extraction heuristics are out of scope.
type LearningEngine interface {
	ExtractLearnings(ctx context.Context) (LearningReport, error)
	ProposeConfigUpdates(ctx context.Context) ([]evolve.Proposal, error)
}

// BenchmarkRunner runs a benchmark suite and returns its aggregate
// score in [0,100].
type BenchmarkRunner interface {
	Run(ctx context.Context, suiteID string) (float64, error)
}
