package orchestrator

import (
	"context"
	"fmt"

	"vigil/internal/action"
	"vigil/internal/confidence"
	"vigil/internal/signal"
)

// plannedTask pairs a candidate task with its confidence verdict.
type plannedTask struct {
	Task   confidence.Task
	Result confidence.Result
}

// executedTask tracks a task through build/verify/deploy.
type executedTask struct {
	Task    confidence.Task
	Success bool
}

// phaseSense polls all adapters and runs pattern matching.
func (o *Orchestrator) phaseSense(ctx context.Context, iter *LoopIteration) ([]signal.Signal, []signal.Match) {
	var (
		signals []signal.Signal
		matches []signal.Match
	)
	o.runPhase(iter, PhaseSense, func() (string, error) {
		signals = o.processor.PollAll(ctx)
		matches = o.processor.Process(ctx, signals)
		return fmt.Sprintf("%d signals, %d pattern matches", len(signals), len(matches)), nil
	})
	iter.Metrics["signals_sensed"] = float64(len(signals))
	iter.Metrics["patterns_matched"] = float64(len(matches))
	return signals, matches
}

// phaseAnalyze turns raw signals into anomalies and candidate tasks.
// Detection is threshold/heuristic based, deliberately not statistical.
func (o *Orchestrator) phaseAnalyze(ctx context.Context, iter *LoopIteration, signals []signal.Signal, matches []signal.Match) Analysis {
	var analysis Analysis
	o.runPhase(iter, PhaseAnalyze, func() (string, error) {
		var (
			criticals int
			errors    int
			topErr    signal.Priority = signal.PriorityLow
			sources             = map[string]int{}
		)
		for _, s := range signals {
			if s.Priority == signal.PriorityCritical {
				criticals++
			}
			if s.Type == signal.TypeError {
				errors++
				sources[s.Source]++
				if s.Priority.Rank() > topErr.Rank() {
					topErr = s.Priority
				}
			}
		}

		if criticals > 0 {
			analysis.Anomalies = append(analysis.Anomalies, Anomaly{
				Description: "critical-priority signals observed",
				Severity:    signal.PriorityCritical,
				Count:       criticals,
			})
		}
		if errors >= 3 {
			analysis.Anomalies = append(analysis.Anomalies, Anomaly{
				Description: "error signal burst",
				Severity:    signal.PriorityHigh,
				Count:       errors,
			})
		}
		for _, h := range o.processor.AdapterHealth() {
			if !h.Healthy || h.ErrorRate > 0.5 {
				analysis.Anomalies = append(analysis.Anomalies, Anomaly{
					Description: "adapter unhealthy: " + h.Source,
					Severity:    signal.PriorityMedium,
					Count:       1,
				})
			}
		}

		if errors > 0 {
			analysis.Recommendations = append(analysis.Recommendations, confidence.Task{
				ID:            iter.ID + "-investigate",
				Type:          "investigate-errors",
				Description:   fmt.Sprintf("%d error signals from %d sources", errors, len(sources)),
				Priority:      topErr,
				EstimatedCost: float64(10 * errors),
			})
		}
		for _, m := range matches {
			analysis.Recommendations = append(analysis.Recommendations, confidence.Task{
				ID:            iter.ID + "-pattern-" + m.PatternID,
				Type:          "pattern-response",
				Description:   "follow up on pattern " + m.PatternID,
				Priority:      signal.PriorityHigh,
				EstimatedCost: 20,
			})
		}

		return fmt.Sprintf("%d recommendations, %d anomalies",
			len(analysis.Recommendations), len(analysis.Anomalies)), nil
	})
	iter.Metrics["anomalies"] = float64(len(analysis.Anomalies))
	return analysis
}

// phasePlan scores each candidate with the confidence engine. Only
// auto-execute tasks proceed; the other decisions dispatch their
// corresponding actions and stop here.
func (o *Orchestrator) phasePlan(ctx context.Context, iter *LoopIteration, analysis Analysis) []plannedTask {
	var planned []plannedTask
	o.runPhase(iter, PhasePlan, func() (string, error) {
		for _, task := range analysis.Recommendations {
			res := o.confidence.Calculate(task)
			switch res.Decision {
			case confidence.DecisionAutoExecute:
				planned = append(planned, plannedTask{Task: task, Result: res})
			case confidence.DecisionNotify:
				o.dispatch(ctx, action.KindNotify, "plan", fmt.Sprintf("task %s scored %d, notify only", task.ID, res.Score))
			case confidence.DecisionRequireApproval:
				o.dispatch(ctx, action.KindCreateTask, "plan", fmt.Sprintf("task %s scored %d, approval required", task.ID, res.Score))
			case confidence.DecisionEscalate:
				o.dispatch(ctx, action.KindEscalate, "plan", fmt.Sprintf("task %s scored %d, escalating", task.ID, res.Score))
			}
		}
		return fmt.Sprintf("%d of %d tasks cleared for auto-execution",
			len(planned), len(analysis.Recommendations)), nil
	})
	iter.Metrics["tasks_planned"] = float64(len(planned))
	return planned
}

// phaseBuild hands each cleared task to an agent via the executor.
func (o *Orchestrator) phaseBuild(ctx context.Context, iter *LoopIteration, planned []plannedTask) []executedTask {
	var built []executedTask
	o.runPhase(iter, PhaseBuild, func() (string, error) {
		for _, p := range planned {
			req := action.NewRequest(action.KindSpawnAgent, "build",
				"auto-executing task "+p.Task.ID,
				map[string]any{"task_id": p.Task.ID, "task_type": p.Task.Type, "score": p.Result.Score})
			res, err := o.executor.Execute(ctx, req)
			ok := err == nil && res.Status != "error"
			built = append(built, executedTask{Task: p.Task, Success: ok})
		}
		return fmt.Sprintf("%d tasks handed to agents", len(built)), nil
	})
	return built
}

// phaseVerify checks loop output health via the benchmark runner when
// one is wired; without it, build success stands.
func (o *Orchestrator) phaseVerify(ctx context.Context, iter *LoopIteration, built []executedTask) []executedTask {
	o.runPhase(iter, PhaseVerify, func() (string, error) {
		if o.bench == nil {
			return "no benchmark runner wired, build results stand", nil
		}
		score, err := o.bench.Run(ctx, "core")
		if err != nil {
			return "", fmt.Errorf("benchmark run failed: %w", err)
		}
		if o.benchCache != nil {
			o.benchCache.Record(score, o.now())
		}
		iter.Metrics["benchmark_score"] = score
		if score < 50 {
			for i := range built {
				built[i].Success = false
			}
			return fmt.Sprintf("benchmark %.1f below floor, tasks marked failed", score), nil
		}
		return fmt.Sprintf("benchmark %.1f", score), nil
	})
	return built
}

// phaseDeploy records the gating decision and hands off deployment to
// the surrounding system. Real rollout mechanics are out of scope; the
// decision and its confidence trail are what this core owns.
func (o *Orchestrator) phaseDeploy(ctx context.Context, iter *LoopIteration, verified []executedTask) {
	o.runPhase(iter, PhaseDeploy, func() (string, error) {
		deployed := 0
		for _, t := range verified {
			if !t.Success {
				continue
			}
			o.dispatch(ctx, action.KindTriggerWorkflow, "deploy", "deploy verified task "+t.Task.ID)
			deployed++
		}
		return fmt.Sprintf("%d deployments handed off", deployed), nil
	})
}

// phaseMonitor publishes system metrics to the board, mirrors them into
// the trigger engine, and records task outcomes for the rolling
// confidence history.
func (o *Orchestrator) phaseMonitor(ctx context.Context, iter *LoopIteration, signals []signal.Signal, matches []signal.Match, verified []executedTask) {
	o.runPhase(iter, PhaseMonitor, func() (string, error) {
		o.boardSense(signals, matches, len(verified))
		now := o.now()
		for _, t := range verified {
			o.confidence.History().Record(t.Task.Type, t.Success, now)
		}
		return fmt.Sprintf("%d outcomes recorded", len(verified)), nil
	})
}

// boardSense refreshes the scoreboard and threshold-trigger metrics
// from this tick's observations.
func (o *Orchestrator) boardSense(signals []signal.Signal, matches []signal.Match, executed int) {
	errs := 0
	for _, s := range signals {
		if s.Type == signal.TypeError {
			errs++
		}
	}
	o.board.Set("signals_per_tick", float64(len(signals)))
	o.board.Set("error_signals_per_tick", float64(errs))
	o.board.Set("pattern_matches_per_tick", float64(len(matches)))
	o.board.Set("tasks_executed_per_tick", float64(executed))
	for name, value := range o.board.All() {
		o.triggers.UpdateMetric(name, value)
	}
}

// phaseLearn consults the external learning engine. Runs every tick.
func (o *Orchestrator) phaseLearn(ctx context.Context, iter *LoopIteration) {
	o.runPhase(iter, PhaseLearn, func() (string, error) {
		if o.learning == nil {
			return "no learning engine wired", nil
		}
		report, err := o.learning.ExtractLearnings(ctx)
		if err != nil {
			return "", fmt.Errorf("learning extraction failed: %w", err)
		}
		iter.Metrics["learnings"] = float64(len(report.Learnings))
		return fmt.Sprintf("%d learnings extracted", len(report.Learnings)), nil
	})
}

// phaseEvolve applies auto-apply proposals from the learning engine and
// sweeps experiments whose observation period has elapsed. Runs every
// tick.
func (o *Orchestrator) phaseEvolve(ctx context.Context, iter *LoopIteration) {
	o.runPhase(iter, PhaseEvolve, func() (string, error) {
		applied, evaluated := 0, 0

		if o.learning != nil {
			proposals, err := o.learning.ProposeConfigUpdates(ctx)
			if err != nil {
				o.log.Warn("config proposal fetch failed")
			} else {
				for _, p := range proposals {
					if !p.AutoApply {
						o.dispatch(ctx, action.KindNotify, "evolve",
							"proposal "+p.ID+" for "+p.Target+" awaits manual apply")
						continue
					}
					if res := o.evolver.Apply(ctx, p); res.Applied {
						applied++
					}
				}
			}
		}

		evaluated = len(o.evolver.CheckExperiments(ctx))
		iter.Metrics["experiments_applied"] = float64(applied)
		iter.Metrics["experiments_evaluated"] = float64(evaluated)
		return fmt.Sprintf("%d proposals applied, %d experiments evaluated", applied, evaluated), nil
	})
}

// dispatch fires an action through the executor, logging failures. The
// loop treats dispatch as at-most-once.
func (o *Orchestrator) dispatch(ctx context.Context, kind action.Kind, origin, reason string) {
	req := action.NewRequest(kind, "loop:"+origin, reason, nil)
	if _, err := o.executor.Execute(ctx, req); err != nil {
		o.log.Warn("action dispatch failed")
	}
}
