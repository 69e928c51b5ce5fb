package trigger

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"vigil/internal/action"
	"vigil/internal/config"
	"vigil/internal/journal"
	"vigil/internal/logging"
	"vigil/internal/metrics"
)

// metricValue is the latest reading of a named metric.
type metricValue struct {
	value float64
	at    time.Time
}

// thresholdState tracks continuous-truth gating per trigger. The since
// clock resets when the condition stops holding; fired prevents
// re-firing within one continuous-truth episode.
type thresholdState struct {
	since time.Time
	fired bool
}

// Engine evaluates triggers on its own timer, independent of the main
// loop. A check tick that arrives while the previous one is still
// running is skipped, never overlapped; individual trigger executions
// never overlap for the same trigger.
type Engine struct {
	mu           sync.Mutex
	store        *config.Store
	executor     action.Executor
	journal      *journal.Log
	metrics      *metrics.Metrics
	log          *zap.Logger
	triggers     map[string]*Trigger
	schedules    map[string]cron.Schedule
	lastCronFire map[string]time.Time // minute-truncated fire dedupe
	metricVals   map[string]metricValue
	thresholds   map[string]*thresholdState
	inflight     map[string]bool

	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	tickBusy atomic.Bool

	now func() time.Time // test seam
}

// NewEngine builds a trigger engine. journal may be nil in tests.
func NewEngine(store *config.Store, executor action.Executor, jl *journal.Log, m *metrics.Metrics) *Engine {
	return &Engine{
		store:        store,
		executor:     executor,
		journal:      jl,
		metrics:      m,
		log:          logging.For(logging.CategoryTriggers),
		triggers:     make(map[string]*Trigger),
		schedules:    make(map[string]cron.Schedule),
		lastCronFire: make(map[string]time.Time),
		metricVals:   make(map[string]metricValue),
		thresholds:   make(map[string]*thresholdState),
		inflight:     make(map[string]bool),
		now:          time.Now,
	}
}

// Add validates and registers a trigger, filling defaults from config.
func (e *Engine) Add(t Trigger) (Trigger, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	def := e.store.Snapshot().Triggers.DefaultRetry
	if t.Retry.MaxAttempts == 0 {
		t.Retry.MaxAttempts = def.MaxAttempts
	}
	if t.Retry.Delay == 0 {
		t.Retry.Delay = def.Delay
	}
	if t.Retry.Backoff == "" {
		t.Retry.Backoff = BackoffKind(def.Backoff)
	}

	sched, err := t.validate()
	if err != nil {
		return Trigger{}, err
	}

	now := e.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggers[t.ID] = &t
	if sched != nil {
		e.schedules[t.ID] = sched
	}
	e.log.Info("trigger added",
		zap.String("id", t.ID),
		zap.String("kind", string(t.Condition.Kind)),
		zap.String("action", string(t.Action)))
	return t, nil
}

// Remove deletes a trigger and all its evaluation state.
func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.triggers[id]
	delete(e.triggers, id)
	delete(e.schedules, id)
	delete(e.lastCronFire, id)
	delete(e.thresholds, id)
	return ok
}

// SetEnabled toggles a trigger.
func (e *Engine) SetEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.triggers[id]
	if ok {
		t.Enabled = enabled
		t.UpdatedAt = e.now()
	}
	return ok
}

// Triggers returns a copy of the registered triggers.
func (e *Engine) Triggers() []Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Trigger, 0, len(e.triggers))
	for _, t := range e.triggers {
		out = append(out, *t)
	}
	return out
}

// UpdateMetric records the latest value of a named metric, feeding
// threshold triggers.
func (e *Engine) UpdateMetric(name string, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metricVals[name] = metricValue{value: value, at: e.now()}
}

// Start launches the check timer.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.store.Snapshot().Triggers.CheckInterval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !e.tickBusy.CompareAndSwap(false, true) {
					e.log.Debug("skipping overlapping trigger check")
					continue
				}
				e.Check(ctx)
				e.tickBusy.Store(false)
			}
		}
	}()
	e.log.Info("trigger engine started")
}

// Stop cancels the check timer and waits for the in-flight check.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()

	cancel()
	<-done
	e.log.Info("trigger engine stopped")
}

// Check evaluates every scheduled and threshold trigger once and
// executes those that fire. Event triggers are evaluated only via
// OnEvent.
func (e *Engine) Check(ctx context.Context) []Execution {
	now := e.now()

	e.mu.Lock()
	var due []*Trigger
	for _, t := range e.triggers {
		if !t.Enabled {
			continue
		}
		switch t.Condition.Kind {
		case KindScheduled:
			if e.cronDueLocked(t, now) {
				due = append(due, t)
			}
		case KindThreshold:
			if e.thresholdDueLocked(t, now) {
				due = append(due, t)
			}
		}
	}
	e.mu.Unlock()

	var executions []Execution
	for _, t := range due {
		if exec, ok := e.execute(ctx, t); ok {
			executions = append(executions, exec)
		}
	}
	return executions
}

// cronDueLocked reports whether a scheduled trigger's cron matches the
// current minute and has not already fired for it. Firing is recorded
// here so sub-minute check intervals cannot double-fire. Caller holds mu.
func (e *Engine) cronDueLocked(t *Trigger, now time.Time) bool {
	sched, ok := e.schedules[t.ID]
	if !ok {
		return false
	}
	minute := now.Truncate(time.Minute)
	if e.lastCronFire[t.ID].Equal(minute) {
		return false
	}
	// The schedule matches this minute iff the next activation strictly
	// after (minute - 1s) is the minute itself.
	if !sched.Next(minute.Add(-time.Second)).Equal(minute) {
		return false
	}
	e.lastCronFire[t.ID] = minute
	return true
}

// thresholdDueLocked evaluates a threshold condition. A missing metric
// resolves to false (conservative default). The since clock starts when
// the condition begins to hold and resets when it stops; a trigger
// fires once per continuous-truth episode, after the configured
// duration of uninterrupted truth. Caller holds mu.
func (e *Engine) thresholdDueLocked(t *Trigger, now time.Time) bool {
	mv, ok := e.metricVals[t.Condition.Metric]
	if !ok {
		return false
	}

	state := e.thresholds[t.ID]
	if state == nil {
		state = &thresholdState{}
		e.thresholds[t.ID] = state
	}

	holding := t.Condition.Operator.Compare(mv.value, t.Condition.Value)
	if !holding {
		state.since = time.Time{}
		state.fired = false
		return false
	}

	if state.since.IsZero() {
		state.since = now
	}
	if state.fired {
		return false
	}
	if d := t.Condition.Duration.Std(); d > 0 && now.Sub(state.since) < d {
		return false
	}
	state.fired = true
	return true
}

// OnEvent evaluates event triggers inline against an observed event and
// executes every match. Called synchronously by whatever observes the
// event; safe to call concurrently with Check.
func (e *Engine) OnEvent(ctx context.Context, eventType, source string, payload map[string]any) []Execution {
	e.mu.Lock()
	var matched []*Trigger
	for _, t := range e.triggers {
		if !t.Enabled || t.Condition.Kind != KindEvent {
			continue
		}
		if t.Condition.EventType != eventType {
			continue
		}
		if t.Condition.EventSource != "" && t.Condition.EventSource != source {
			continue
		}
		if !payloadMatches(t.Condition.PayloadFilters, payload) {
			continue
		}
		matched = append(matched, t)
	}
	e.mu.Unlock()

	var executions []Execution
	for _, t := range matched {
		if exec, ok := e.execute(ctx, t); ok {
			executions = append(executions, exec)
		}
	}
	return executions
}

// payloadMatches requires every filter key to be present and equal.
func payloadMatches(filters map[string]any, payload map[string]any) bool {
	for k, want := range filters {
		got, ok := payload[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// execute runs a trigger's action with retry and records exactly one
// execution. Returns ok=false when the trigger was already executing
// (same-trigger evaluations never overlap).
func (e *Engine) execute(ctx context.Context, t *Trigger) (Execution, bool) {
	e.mu.Lock()
	if e.inflight[t.ID] {
		e.mu.Unlock()
		e.log.Debug("trigger already executing, skipping", zap.String("id", t.ID))
		return Execution{}, false
	}
	e.inflight[t.ID] = true
	trig := *t
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, t.ID)
		e.mu.Unlock()
	}()

	start := e.now()
	exec := Execution{TriggerID: trig.ID, ExecutedAt: start}

	delays := newBackOff(trig.Retry)
	var lastErr error
attempts:
	for attempt := 1; attempt <= trig.Retry.MaxAttempts; attempt++ {
		exec.RetryCount = attempt

		req := action.NewRequest(trig.Action, "trigger:"+trig.ID,
			fmt.Sprintf("%s condition fired", trig.Condition.Kind), trig.Params)
		res, err := e.executor.Execute(ctx, req)
		if err == nil && res.Status != "error" {
			exec.Success = true
			exec.Result = res.Output
			lastErr = nil
			break
		}
		if err == nil {
			err = fmt.Errorf("action reported error: %s", res.Error)
		}
		lastErr = err
		e.log.Warn("trigger action attempt failed",
			zap.String("id", trig.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == trig.Retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = fmt.Errorf("retry aborted: %w", ctx.Err())
			break attempts
		case <-time.After(delays.NextBackOff()):
		}
	}

	if lastErr != nil {
		exec.Error = lastErr.Error()
	}
	exec.Duration = e.now().Sub(start)

	e.metrics.TriggerExecuted(trig.ID, exec.Success)
	if e.journal != nil {
		if err := e.journal.Append(exec); err != nil {
			e.log.Warn("failed to journal execution", zap.Error(err))
		}
	}
	e.log.Info("trigger executed",
		zap.String("id", trig.ID),
		zap.Bool("success", exec.Success),
		zap.Int("attempts", exec.RetryCount))

	return exec, true
}

// newBackOff builds the retry pacing for a policy: linear is
// delay*attempt, exponential is delay*2^(attempt-1).
func newBackOff(p RetryPolicy) backoff.BackOff {
	if p.Backoff == BackoffLinear {
		return &linearBackOff{delay: p.Delay.Std()}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay.Std()
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// linearBackOff implements backoff.BackOff with delay*n pacing.
type linearBackOff struct {
	delay time.Duration
	n     int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.n++
	return l.delay * time.Duration(l.n)
}

func (l *linearBackOff) Reset() { l.n = 0 }
