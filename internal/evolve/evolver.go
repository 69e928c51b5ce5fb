package evolve

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vigil/internal/config"
	"vigil/internal/journal"
	"vigil/internal/logging"
	"vigil/internal/metrics"
)

// state is the single JSON document the evolver persists, rewritten
// atomically on every change.
type state struct {
	Active    map[string]Experiment `json:"active"` // keyed by target
	Results   []Result              `json:"results"`
	Snapshots map[string]Snapshot   `json:"snapshots"`
}

// Evolver owns the experiment lifecycle. All operations on one evolver
// are serialized: evaluations of the same target can never overlap.
type Evolver struct {
	mu        sync.Mutex
	cfg       *config.Store
	values    ValueStore
	sampler   MetricSampler
	state     state
	statePath string
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// New builds an evolver. statePath may be empty to skip persistence
// (tests). Prior state is loaded if present; a corrupt state file is
// logged and abandoned rather than crashing the reader.
func New(cfg *config.Store, values ValueStore, sampler MetricSampler, statePath string, m *metrics.Metrics) *Evolver {
	e := &Evolver{
		cfg:       cfg,
		values:    values,
		sampler:   sampler,
		statePath: statePath,
		metrics:   m,
		log:       logging.For(logging.CategoryEvolution),
		now:       time.Now,
	}
	e.state = state{
		Active:    make(map[string]Experiment),
		Snapshots: make(map[string]Snapshot),
	}

	if statePath != "" {
		var loaded state
		if err := journal.LoadDoc(statePath, &loaded); err != nil {
			if !os.IsNotExist(err) {
				e.log.Warn("discarding unreadable evolution state", zap.Error(err))
			}
		} else {
			if loaded.Active == nil {
				loaded.Active = make(map[string]Experiment)
			}
			if loaded.Snapshots == nil {
				loaded.Snapshots = make(map[string]Snapshot)
			}
			e.state = loaded
		}
	}
	e.metrics.SetActiveExperiments(len(e.state.Active))
	return e
}

// Apply starts an experiment for a proposal. Rejections (too many
// concurrent experiments, target already under experiment, bad target)
// come back as a Result with Applied=false, not an error: the loop
// records them and moves on.
func (e *Evolver) Apply(ctx context.Context, p Proposal) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	maxActive := e.cfg.Snapshot().Evolution.MaxConcurrentExperiments
	if len(e.state.Active) >= maxActive {
		return e.rejectLocked(p, fmt.Sprintf("rejected: %d experiments already active (max %d)", len(e.state.Active), maxActive))
	}
	if open, busy := e.state.Active[p.Target]; busy {
		return e.rejectLocked(p, fmt.Sprintf("rejected: target %s already under experiment %s", p.Target, open.Proposal.ID))
	}

	prev, err := e.values.Get(p.Target)
	if err != nil {
		return e.rejectLocked(p, "rejected: "+err.Error())
	}
	if err := e.values.Set(p.Target, p.ProposedValue); err != nil {
		return e.rejectLocked(p, "rejected: "+err.Error())
	}

	snap := Snapshot{ID: uuid.NewString(), Target: p.Target, Value: prev, TakenAt: now}
	e.state.Snapshots[snap.ID] = snap

	baseline := e.sample(ctx, metricNames(p))

	observation := e.cfg.Snapshot().Evolution.ObservationPeriod.Std()
	e.state.Active[p.Target] = Experiment{
		Proposal:            p,
		SnapshotID:          snap.ID,
		AppliedAt:           now,
		PreviousValue:       prev,
		BaselineMetrics:     baseline,
		EvaluationScheduled: now.Add(observation),
	}
	e.persistLocked()
	e.metrics.SetActiveExperiments(len(e.state.Active))

	e.log.Info("experiment started",
		zap.String("proposal", p.ID),
		zap.String("target", p.Target),
		zap.Any("from", prev),
		zap.Any("to", p.ProposedValue),
		zap.Time("evaluate_at", now.Add(observation)))

	return Result{
		ProposalID: p.ID,
		Applied:    true,
		AppliedAt:  now,
		Notes:      fmt.Sprintf("experiment open, evaluation scheduled in %s", observation),
	}
}

// rejectLocked records and returns a rejection. Caller holds mu.
func (e *Evolver) rejectLocked(p Proposal, notes string) Result {
	e.log.Warn("proposal rejected", zap.String("proposal", p.ID), zap.String("target", p.Target), zap.String("notes", notes))
	return Result{ProposalID: p.ID, Applied: false, Notes: notes}
}

// Evaluate closes the experiment for a proposal: re-captures metrics,
// computes impact against baseline, and keeps or rolls back.
func (e *Evolver) Evaluate(ctx context.Context, proposalID string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for target, exp := range e.state.Active {
		if exp.Proposal.ID == proposalID {
			return e.evaluateLocked(ctx, target, exp), nil
		}
	}
	return Result{}, fmt.Errorf("no active experiment for proposal %s", proposalID)
}

// CheckExperiments evaluates every experiment whose observation period
// has elapsed. Called from the loop's evolve phase and usable as a
// standalone sweep.
func (e *Evolver) CheckExperiments(ctx context.Context) []Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var due []string
	for target, exp := range e.state.Active {
		if !now.Before(exp.EvaluationScheduled) {
			due = append(due, target)
		}
	}

	var results []Result
	for _, target := range due {
		exp, ok := e.state.Active[target]
		if !ok {
			continue
		}
		results = append(results, e.evaluateLocked(ctx, target, exp))
	}
	return results
}

// evaluateLocked computes the verdict and closes the experiment.
// Caller holds mu.
func (e *Evolver) evaluateLocked(ctx context.Context, target string, exp Experiment) Result {
	now := e.now()
	evoCfg := e.cfg.Snapshot().Evolution
	after := e.sample(ctx, metricNames(exp.Proposal))

	var impacts []MetricImpact
	improved := false
	regressed := false
	for _, want := range exp.Proposal.ExpectedImpact {
		before := exp.BaselineMetrics[want.Metric]
		current, measured := after[want.Metric]
		if !measured {
			continue
		}
		pct := improvementPct(before, current, want)
		impacts = append(impacts, MetricImpact{
			Metric: want.Metric, Before: before, After: current, ImprovementPct: pct,
		})
		if pct > 0 {
			improved = true
		}
		if pct < evoCfg.RegressionTolerancePct {
			regressed = true
		}
	}

	verdict := VerdictRollback
	notes := "no measurable improvement"
	if improved && !regressed {
		verdict = VerdictKeep
		notes = "improved without regression"
	} else if regressed {
		notes = fmt.Sprintf("regression beyond %.1f%% tolerance", evoCfg.RegressionTolerancePct)
	}

	if verdict == VerdictRollback {
		if evoCfg.AutoRollback {
			if err := e.values.Set(target, exp.PreviousValue); err != nil {
				notes += "; rollback failed: " + err.Error()
				e.log.Error("rollback failed", zap.String("target", target), zap.Error(err))
			} else {
				notes += "; previous value restored"
			}
		} else {
			notes += "; auto_rollback disabled, value left in place"
		}
	}

	res := Result{
		ProposalID:   exp.Proposal.ID,
		Applied:      true,
		ActualImpact: impacts,
		Verdict:      verdict,
		AppliedAt:    exp.AppliedAt,
		EvaluatedAt:  now,
		Notes:        notes,
	}

	delete(e.state.Active, target)
	e.state.Results = append(e.state.Results, res)
	e.persistLocked()
	e.metrics.SetActiveExperiments(len(e.state.Active))
	e.metrics.EvolutionVerdict(string(verdict))

	e.log.Info("experiment evaluated",
		zap.String("proposal", exp.Proposal.ID),
		zap.String("target", target),
		zap.String("verdict", string(verdict)),
		zap.String("notes", notes))

	return res
}

// RollbackToSnapshot restores a target to a preserved value.
func (e *Evolver) RollbackToSnapshot(snapshotID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, ok := e.state.Snapshots[snapshotID]
	if !ok {
		return false
	}
	if err := e.values.Set(snap.Target, snap.Value); err != nil {
		e.log.Error("snapshot rollback failed", zap.String("snapshot", snapshotID), zap.Error(err))
		return false
	}
	e.log.Info("rolled back to snapshot", zap.String("snapshot", snapshotID), zap.String("target", snap.Target))
	return true
}

// ActiveExperiments returns the open experiments.
func (e *Evolver) ActiveExperiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Experiment, 0, len(e.state.Active))
	for _, exp := range e.state.Active {
		out = append(out, exp)
	}
	return out
}

// Results returns the permanent evolution history.
func (e *Evolver) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Result, len(e.state.Results))
	copy(out, e.state.Results)
	return out
}

// sample captures metrics, tolerating a nil sampler or sampling error:
// an experiment with no readings simply measures no impact.
func (e *Evolver) sample(ctx context.Context, names []string) map[string]float64 {
	if e.sampler == nil || len(names) == 0 {
		return map[string]float64{}
	}
	vals, err := e.sampler.Sample(ctx, names)
	if err != nil {
		e.log.Warn("metric capture failed", zap.Error(err))
		return map[string]float64{}
	}
	return vals
}

// persistLocked rewrites the state document. Caller holds mu.
func (e *Evolver) persistLocked() {
	if e.statePath == "" {
		return
	}
	if err := journal.SaveDoc(e.statePath, e.state); err != nil {
		e.log.Error("failed to persist evolution state", zap.Error(err))
	}
}

func metricNames(p Proposal) []string {
	names := make([]string, 0, len(p.ExpectedImpact))
	for _, ei := range p.ExpectedImpact {
		names = append(names, ei.Metric)
	}
	return names
}

// improvementPct signs the percent change so positive always means the
// metric moved the way the proposal expected.
func improvementPct(before, after float64, want ExpectedImpact) float64 {
	dir := 1.0
	if want.ExpectedValue < want.CurrentValue {
		dir = -1
	}
	if before == 0 {
		if after == before {
			return 0
		}
		return math.Copysign(100, dir*(after-before))
	}
	return (after - before) / math.Abs(before) * 100 * dir
}
