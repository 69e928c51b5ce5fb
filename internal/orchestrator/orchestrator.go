package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vigil/internal/action"
	"vigil/internal/confidence"
	"vigil/internal/config"
	"vigil/internal/evolve"
	"vigil/internal/journal"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/signal"
	"vigil/internal/trigger"
)

// Orchestrator composes the four engines and drives one loop iteration
// per tick. Engines are explicit instances passed in at construction;
// there is no hidden global state.
type Orchestrator struct {
	mu sync.RWMutex

	cfg        *config.Store
	processor  *signal.Processor
	confidence *confidence.Engine
	triggers   *trigger.Engine
	evolver    *evolve.Evolver
	executor   action.Executor

	learning LearningEngine  // optional collaborator
	bench    BenchmarkRunner // optional collaborator

	board      *Board
	benchCache *BenchmarkCache
	journal    *journal.Log // iterations log
	metrics    *metrics.Metrics
	log        *zap.Logger

	status     Status
	iterations []LoopIteration // bounded ring, newest last
	lastError  string

	cancel   context.CancelFunc
	done     chan struct{}
	tickBusy atomic.Bool

	now func() time.Time // test seam
}

// Deps carries everything the orchestrator composes.
type Deps struct {
	Config     *config.Store
	Processor  *signal.Processor
	Confidence *confidence.Engine
	Triggers   *trigger.Engine
	Evolver    *evolve.Evolver
	Executor   action.Executor
	Learning   LearningEngine  // may be nil
	Benchmarks BenchmarkRunner // may be nil
	Board      *Board
	BenchCache *BenchmarkCache
	Journal    *journal.Log // may be nil
	Metrics    *metrics.Metrics
}

// New wires an orchestrator from its dependencies.
func New(d Deps) *Orchestrator {
	board := d.Board
	if board == nil {
		board = NewBoard()
	}
	return &Orchestrator{
		cfg:        d.Config,
		processor:  d.Processor,
		confidence: d.Confidence,
		triggers:   d.Triggers,
		evolver:    d.Evolver,
		executor:   d.Executor,
		learning:   d.Learning,
		bench:      d.Benchmarks,
		board:      board,
		benchCache: d.BenchCache,
		journal:    d.Journal,
		metrics:    d.Metrics,
		log:        logging.For(logging.CategoryLoop),
		status:     StatusStopped,
		now:        time.Now,
	}
}

// Start launches the tick loop and the trigger engine's independent
// timer. Idempotent while running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.status != StatusStopped {
		o.mu.Unlock()
		return fmt.Errorf("cannot start from status %s", o.status)
	}
	o.status = StatusInitializing

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	done := o.done
	interval := o.cfg.Snapshot().Loop.SenseInterval.Std()
	o.mu.Unlock()

	o.triggers.Start(ctx)

	o.mu.Lock()
	o.status = StatusRunning
	o.mu.Unlock()
	o.log.Info("loop started", zap.Duration("sense_interval", interval))

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.mu.RLock()
				paused := o.status == StatusPaused
				o.mu.RUnlock()
				if paused {
					continue
				}
				o.Tick(ctx)
			}
		}
	}()
	return nil
}

// Stop cancels the timers, lets the in-flight iteration drain, and
// stops the trigger engine.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.status == StatusStopped {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	done := o.done
	o.cancel = nil
	o.done = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	// Wait for an in-flight tick so journal writes finish cleanly.
	for !o.tickBusy.CompareAndSwap(false, true) {
		time.Sleep(10 * time.Millisecond)
	}
	o.tickBusy.Store(false)

	o.triggers.Stop()

	o.mu.Lock()
	o.status = StatusStopped
	o.mu.Unlock()
	o.log.Info("loop stopped")
}

// Tick runs one full iteration now. Overlapping ticks are skipped, so
// the loop never runs concurrently with itself.
func (o *Orchestrator) Tick(ctx context.Context) *LoopIteration {
	if !o.tickBusy.CompareAndSwap(false, true) {
		o.log.Debug("skipping overlapping loop tick")
		return nil
	}
	defer o.tickBusy.Store(false)

	iter := o.runIteration(ctx)

	o.mu.Lock()
	limit := o.cfg.Snapshot().Loop.IterationHistory
	o.iterations = append(o.iterations, *iter)
	if len(o.iterations) > limit {
		o.iterations = o.iterations[len(o.iterations)-limit:]
	}
	if iter.Error != "" {
		o.status = StatusError
		o.lastError = iter.Error
	} else if o.status == StatusError || o.status == StatusRunning {
		// A clean pass clears a previous error; the loop is resilient,
		// not halted, on individual tick failures.
		o.status = StatusRunning
	}
	o.mu.Unlock()

	o.metrics.IterationDone(iter.Error != "")
	if o.journal != nil {
		if err := o.journal.Append(iter); err != nil {
			o.log.Warn("failed to journal iteration", zap.Error(err))
		}
	}
	return iter
}

// Iterations returns a copy of the retained iteration history, newest
// last.
func (o *Orchestrator) Iterations() []LoopIteration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]LoopIteration, len(o.iterations))
	copy(out, o.iterations)
	return out
}

// runIteration executes the phase sequence for one tick. Any panic or
// phase error is recorded on the iteration; the loop itself never dies.
func (o *Orchestrator) runIteration(ctx context.Context) (iter *LoopIteration) {
	iter = &LoopIteration{
		ID:        uuid.NewString(),
		StartedAt: o.now(),
		Metrics:   make(map[string]float64),
	}
	defer func() {
		if r := recover(); r != nil {
			iter.Error = fmt.Sprintf("panic in loop iteration: %v", r)
			o.log.Error("loop iteration panicked", zap.Any("panic", r))
		}
		iter.CompletedAt = o.now()
	}()

	signals, matches := o.phaseSense(ctx, iter)
	analysis := o.phaseAnalyze(ctx, iter, signals, matches)

	// Cheap ticks are the common case: skip the heavy middle phases
	// when there is nothing to act on.
	busy := len(signals) > 0 && (len(analysis.Recommendations) > 0 || len(analysis.Anomalies) > 0)
	if busy {
		planned := o.phasePlan(ctx, iter, analysis)
		built := o.phaseBuild(ctx, iter, planned)
		verified := o.phaseVerify(ctx, iter, built)
		o.phaseDeploy(ctx, iter, verified)
		o.phaseMonitor(ctx, iter, signals, matches, verified)
	} else {
		for _, p := range []Phase{PhasePlan, PhaseBuild, PhaseVerify, PhaseDeploy, PhaseMonitor} {
			iter.Phases = append(iter.Phases, PhaseResult{Phase: p, StartedAt: o.now(), Skipped: true})
		}
		o.boardSense(signals, matches, 0)
	}

	// Learn and evolve run on every tick regardless of what the earlier
	// phases produced.
	o.phaseLearn(ctx, iter)
	o.phaseEvolve(ctx, iter)

	for _, p := range iter.Phases {
		if p.Error != "" && iter.Error == "" {
			iter.Error = fmt.Sprintf("phase %s: %s", p.Phase, p.Error)
		}
	}
	return iter
}

// runPhase times a phase body and records its result on the iteration.
// A phase error is captured, never propagated: source-isolated failures
// stay isolated.
func (o *Orchestrator) runPhase(iter *LoopIteration, phase Phase, body func() (string, error)) {
	start := o.now()
	summary, err := body()
	res := PhaseResult{
		Phase:     phase,
		StartedAt: start,
		Duration:  o.now().Sub(start),
		Summary:   summary,
	}
	if err != nil {
		res.Error = err.Error()
		o.log.Warn("phase failed", zap.String("phase", string(phase)), zap.Error(err))
	}
	iter.Phases = append(iter.Phases, res)
	o.metrics.PhaseObserved(string(phase), res.Duration)
}
