// Package action defines the closed set of actions the control loop can
// dispatch and the pluggable Executor seam the surrounding system
// implements. The core never performs real side effects itself: the
// default executor records intent to the journal, and a product wires
// in executors that actually spawn agents, create tasks, or deploy.
package action

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vigil/internal/journal"
	"vigil/internal/logging"
)

// Kind enumerates every action the loop may take. The set is closed:
// triggers and patterns reference these by name, never arbitrary code.
type Kind string

const (
	KindSpawnAgent      Kind = "spawn-agent"
	KindNotify          Kind = "notify"
	KindCreateTask      Kind = "create-task"
	KindTriggerWorkflow Kind = "trigger-workflow"
	KindRunBenchmark    Kind = "run-benchmark"
	KindExtractLearning Kind = "extract-learnings"
	KindEvolveConfig    Kind = "evolve-config"
	KindEscalate        Kind = "escalate"
	KindLog             Kind = "log"
)

// Valid reports whether k is a member of the closed action set.
func (k Kind) Valid() bool {
	switch k {
	case KindSpawnAgent, KindNotify, KindCreateTask, KindTriggerWorkflow,
		KindRunBenchmark, KindExtractLearning, KindEvolveConfig,
		KindEscalate, KindLog:
		return true
	}
	return false
}

// Request describes one action dispatch.
type Request struct {
	ID     string         `json:"id"`
	Kind   Kind           `json:"kind"`
	Origin string         `json:"origin"` // pattern/trigger/phase that asked
	Reason string         `json:"reason"`
	Params map[string]any `json:"params,omitempty"`
	At     time.Time      `json:"at"`
}

// Result is the outcome of an executed action.
type Result struct {
	Status   string        `json:"status"` // ok | error
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Executor performs actions. Implementations must be safe for
// concurrent use; the signal processor and trigger engine dispatch from
// independent timers.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// NewRequest stamps a request with an ID and timestamp.
func NewRequest(kind Kind, origin, reason string, params map[string]any) Request {
	return Request{
		ID:     uuid.NewString(),
		Kind:   kind,
		Origin: origin,
		Reason: reason,
		Params: params,
		At:     time.Now(),
	}
}

// JournalExecutor is the default executor: it records intent to an
// append-only log and emits a structured log line. Real semantics for
// spawn-agent and friends belong to the surrounding system.
type JournalExecutor struct {
	log *journal.Log
}

// NewJournalExecutor records dispatched actions to the given log.
func NewJournalExecutor(log *journal.Log) *JournalExecutor {
	return &JournalExecutor{log: log}
}

// Execute appends the request to the actions journal.
func (e *JournalExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	logger := logging.For(logging.CategoryActions)

	if !req.Kind.Valid() {
		res := Result{Status: "error", Error: "unknown action kind: " + string(req.Kind), Duration: time.Since(start)}
		logger.Warn("rejected action", zap.String("kind", string(req.Kind)), zap.String("origin", req.Origin))
		return res, nil
	}

	if e.log != nil {
		if err := e.log.Append(req); err != nil {
			logger.Warn("failed to journal action", zap.Error(err))
		}
	}

	logger.Info("action dispatched",
		zap.String("kind", string(req.Kind)),
		zap.String("origin", req.Origin),
		zap.String("reason", req.Reason))

	return Result{Status: "ok", Output: "recorded", Duration: time.Since(start)}, nil
}

// Func adapts a function to the Executor interface, handy in tests and
// for product wiring.
type Func func(ctx context.Context, req Request) (Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
