package signal

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vigil/internal/action"
	"vigil/internal/config"
	"vigil/internal/journal"
	"vigil/internal/logging"
	"vigil/internal/metrics"
)

// Processor polls registered adapters, buffers signals, evaluates
// patterns in ascending priority order, and dispatches matched actions.
// All signals, matched or not, are appended to the signals journal.
//
// The buffer is bounded to twice the configured batch size with oldest
// eviction, so memory stays flat regardless of adapter volume.
type Processor struct {
	mu        sync.Mutex
	store     *config.Store
	adapters  []Adapter
	patterns  map[string]*Pattern
	buffer    []Signal
	lastFired map[string]time.Time

	executor action.Executor
	journal  *journal.Log
	metrics  *metrics.Metrics
	log      *zap.Logger

	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	tickBusy atomic.Bool

	now func() time.Time // test seam
}

// NewProcessor builds a processor. journal may be nil in tests.
func NewProcessor(store *config.Store, executor action.Executor, jl *journal.Log, m *metrics.Metrics) *Processor {
	return &Processor{
		store:     store,
		patterns:  make(map[string]*Pattern),
		lastFired: make(map[string]time.Time),
		executor:  executor,
		journal:   jl,
		metrics:   m,
		log:       logging.For(logging.CategorySignals),
		now:       time.Now,
	}
}

// RegisterAdapter adds a source to the poll fan-out.
func (p *Processor) RegisterAdapter(a Adapter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adapters = append(p.adapters, a)
	p.log.Info("adapter registered", zap.String("source", a.Source()))
}

// AdapterHealth reports health for every registered adapter.
func (p *Processor) AdapterHealth() []AdapterHealth {
	p.mu.Lock()
	adapters := make([]Adapter, len(p.adapters))
	copy(adapters, p.adapters)
	p.mu.Unlock()

	out := make([]AdapterHealth, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, a.Health())
	}
	return out
}

// AddPattern compiles and registers a pattern.
func (p *Processor) AddPattern(pat Pattern) error {
	if err := pat.Compile(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.patterns[pat.ID] = &pat
	return nil
}

// RemovePattern drops a pattern and its cooldown state.
func (p *Processor) RemovePattern(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.patterns, id)
	delete(p.lastFired, id)
}

// SetPatternEnabled toggles a pattern without resetting its cooldown.
func (p *Processor) SetPatternEnabled(id string, enabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pat, ok := p.patterns[id]
	if ok {
		pat.Enabled = enabled
	}
	return ok
}

// SetPatterns replaces the pattern set wholesale, as after a hot
// reload. Cooldown clocks survive for pattern IDs that persist.
func (p *Processor) SetPatterns(patterns []Pattern) error {
	compiled := make(map[string]*Pattern, len(patterns))
	for i := range patterns {
		pat := patterns[i]
		if err := pat.Compile(); err != nil {
			return err
		}
		compiled[pat.ID] = &pat
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.patterns = compiled
	for id := range p.lastFired {
		if _, ok := compiled[id]; !ok {
			delete(p.lastFired, id)
		}
	}
	return nil
}

// Patterns returns a copy of the registered patterns.
func (p *Processor) Patterns() []Pattern {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Pattern, 0, len(p.patterns))
	for _, pat := range p.patterns {
		out = append(out, *pat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Start launches the polling loop. Ticks that arrive while a previous
// tick is still running are skipped, never overlapped.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.store.Snapshot().Signals.PollInterval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Tick(ctx)
			}
		}
	}()
	p.log.Info("signal processor started")
}

// Stop cancels the polling loop and waits for any in-flight tick to
// finish so journal writes are never cut mid-line.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	cancel()
	<-done
	p.log.Info("signal processor stopped")
}

// Tick runs one poll-and-process pass. Safe to call directly; the
// orchestrator's sense phase does so on its own timer.
func (p *Processor) Tick(ctx context.Context) []Match {
	if !p.tickBusy.CompareAndSwap(false, true) {
		p.log.Debug("skipping overlapping signal tick")
		return nil
	}
	defer p.tickBusy.Store(false)

	signals := p.PollAll(ctx)
	return p.Process(ctx, signals)
}

// PollAll polls every adapter concurrently with a bounded fan-out and a
// per-adapter timeout. One slow or failing source never aborts the
// batch; its error is logged and the rest of the poll proceeds.
func (p *Processor) PollAll(ctx context.Context) []Signal {
	p.mu.Lock()
	adapters := make([]Adapter, len(p.adapters))
	copy(adapters, p.adapters)
	cfg := p.store.Snapshot().Signals
	p.mu.Unlock()

	var (
		collectMu sync.Mutex
		collected []Signal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.PollConcurrency)
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			pollCtx, cancel := context.WithTimeout(gctx, cfg.AdapterTimeout.Std())
			defer cancel()

			sigs, err := a.Poll(pollCtx)
			if err != nil {
				p.log.Warn("adapter poll failed",
					zap.String("source", a.Source()), zap.Error(err))
				return nil // isolated: never abort the batch
			}
			for i := range sigs {
				p.metrics.SignalPolled(sigs[i].Source)
			}
			collectMu.Lock()
			collected = append(collected, sigs...)
			collectMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return collected
}

// Process buffers new signals, evaluates patterns, dispatches matched
// actions, and journals every signal. Pattern evaluation order is
// deterministic: ascending priority, then ID.
func (p *Processor) Process(ctx context.Context, signals []Signal) []Match {
	now := p.now()

	p.mu.Lock()

	cfg := p.store.Snapshot().Signals
	p.buffer = append(p.buffer, signals...)
	if max := cfg.BatchSize * 2; len(p.buffer) > max {
		p.buffer = p.buffer[len(p.buffer)-max:]
	}

	ordered := make([]*Pattern, 0, len(p.patterns))
	for _, pat := range p.patterns {
		ordered = append(ordered, pat)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	var matches []Match
	for _, pat := range ordered {
		if !pat.Enabled || pat.cond == nil {
			continue
		}
		cooldown := pat.Cooldown.Std()
		if last, ok := p.lastFired[pat.ID]; ok && now.Sub(last) < cooldown {
			continue
		}

		// Each pattern only sees its own cooldown window of the buffer.
		cutoff := now.Add(-cooldown)
		var window []Signal
		for _, sig := range p.buffer {
			if !sig.Timestamp.Before(cutoff) {
				window = append(window, sig)
			}
		}

		matched, ok := pat.cond.Evaluate(window)
		if !ok {
			continue
		}

		// Reset the cooldown clock before the action runs so an action
		// that emits new signals cannot re-trigger the same pattern.
		p.lastFired[pat.ID] = now

		matchedIDs := make(map[string]bool, len(matched))
		for i := range matched {
			matched[i].Processed = true
			matchedIDs[matched[i].ID] = true
		}
		for i := range p.buffer {
			if matchedIDs[p.buffer[i].ID] {
				p.buffer[i].Processed = true
			}
		}
		for i := range signals {
			if matchedIDs[signals[i].ID] {
				signals[i].Processed = true
			}
		}

		matches = append(matches, Match{
			PatternID:      pat.ID,
			MatchedSignals: matched,
			MatchedAt:      now,
			Action:         pat.Action,
		})
		p.metrics.PatternMatched(pat.ID)
	}
	p.mu.Unlock()

	// Dispatch outside the lock: actions may emit signals that re-enter
	// Process, and the cooldown reset above already guards re-firing.
	for _, m := range matches {
		req := action.NewRequest(m.Action, "pattern:"+m.PatternID,
			m.PatternID+" matched "+strconv.Itoa(len(m.MatchedSignals))+" signals", nil)
		if _, err := p.executor.Execute(ctx, req); err != nil {
			// At-most-once: a failed dispatch is logged, the matched
			// signals stay processed.
			p.log.Warn("action dispatch failed",
				zap.String("pattern", m.PatternID),
				zap.String("action", string(m.Action)),
				zap.Error(err))
		}
		p.log.Info("pattern matched",
			zap.String("pattern", m.PatternID),
			zap.String("action", string(m.Action)),
			zap.Int("signals", len(m.MatchedSignals)))
	}

	// Persist every signal from this batch. A signal that fails to
	// append aborts only its own write.
	if p.journal != nil {
		for i := range signals {
			if err := p.journal.Append(signals[i]); err != nil {
				p.log.Warn("failed to journal signal",
					zap.String("id", signals[i].ID), zap.Error(err))
			}
		}
	}

	return matches
}

// BufferLen reports the current buffer occupancy.
func (p *Processor) BufferLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}
