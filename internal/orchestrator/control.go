package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vigil/internal/config"
	"vigil/internal/evolve"
)

// This file is the programmatic control surface a CLI or service
// wrapper binds to.

// Pause suspends tick processing. In-flight work completes; only the
// timer is muted.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == StatusRunning || o.status == StatusError {
		o.status = StatusPaused
		o.log.Info("loop paused")
	}
}

// Resume reactivates tick processing after a pause.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == StatusPaused {
		o.status = StatusRunning
		o.log.Info("loop resumed")
	}
}

// Status returns the loop's lifecycle state.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// LastError returns the most recent iteration error, if any.
func (o *Orchestrator) LastError() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastError
}

// GetConfig returns the current configuration snapshot.
func (o *Orchestrator) GetConfig() config.Config {
	return o.cfg.Snapshot()
}

// UpdateConfig applies a partial update of dotted-path values. The
// patch is validated as a whole and rejected atomically on any bad key.
func (o *Orchestrator) UpdateConfig(changes map[string]any) error {
	if err := o.cfg.Apply(changes); err != nil {
		return err
	}
	o.log.Info("config updated", zap.Int("keys", len(changes)))
	return nil
}

// Metrics returns a point-in-time view of loop health for operators.
func (o *Orchestrator) Metrics() map[string]any {
	o.mu.RLock()
	status := o.status
	iterations := len(o.iterations)
	var last *LoopIteration
	if iterations > 0 {
		l := o.iterations[iterations-1]
		last = &l
	}
	o.mu.RUnlock()

	out := map[string]any{
		"status":             string(status),
		"iterations":         iterations,
		"board":              o.board.All(),
		"active_experiments": len(o.evolver.ActiveExperiments()),
		"triggers":           len(o.triggers.Triggers()),
	}
	if last != nil {
		out["last_iteration_id"] = last.ID
		out["last_iteration_error"] = last.Error
	}
	return out
}

// RunBenchmark runs a suite through the external benchmark runner and
// records the aggregate for the confidence engine.
func (o *Orchestrator) RunBenchmark(ctx context.Context, suiteID string) (float64, error) {
	if o.bench == nil {
		return 0, fmt.Errorf("no benchmark runner wired")
	}
	score, err := o.bench.Run(ctx, suiteID)
	if err != nil {
		return 0, fmt.Errorf("benchmark %s failed: %w", suiteID, err)
	}
	if o.benchCache != nil {
		o.benchCache.Record(score, o.now())
	}
	o.board.Set("benchmark_"+suiteID, score)
	o.log.Info("benchmark completed", zap.String("suite", suiteID), zap.Float64("score", score))
	return score, nil
}

// TriggerLearning runs the learn step on demand.
func (o *Orchestrator) TriggerLearning(ctx context.Context) (LearningReport, error) {
	if o.learning == nil {
		return LearningReport{}, fmt.Errorf("no learning engine wired")
	}
	return o.learning.ExtractLearnings(ctx)
}

// TriggerEvolution fetches proposals and applies auto-apply ones on
// demand, returning the apply results.
func (o *Orchestrator) TriggerEvolution(ctx context.Context) ([]evolve.Result, error) {
	if o.learning == nil {
		return nil, fmt.Errorf("no learning engine wired")
	}
	proposals, err := o.learning.ProposeConfigUpdates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proposals: %w", err)
	}
	var results []evolve.Result
	for _, p := range proposals {
		if p.AutoApply {
			results = append(results, o.evolver.Apply(ctx, p))
		}
	}
	results = append(results, o.evolver.CheckExperiments(ctx)...)
	return results, nil
}
