// Package evolve applies configuration changes as tracked, reversible
// experiments. Each experiment snapshots the previous value, captures
// baseline metrics, waits out an observation period, then re-captures
// and either keeps the change or rolls it back. One live value per
// target at a time: this is a shadow experiment, not an A/B split.
package evolve

import (
	"context"
	"time"
)

// ExpectedImpact states how a proposal expects one metric to move.
type ExpectedImpact struct {
	Metric        string  `json:"metric"`
	CurrentValue  float64 `json:"current_value"`
	ExpectedValue float64 `json:"expected_value"`
}

// Proposal is a proposed configuration change.
type Proposal struct {
	ID             string           `json:"id"`
	Target         string           `json:"target"` // dotted config path
	CurrentValue   any              `json:"current_value,omitempty"`
	ProposedValue  any              `json:"proposed_value"`
	ExpectedImpact []ExpectedImpact `json:"expected_impact"`
	AutoApply      bool             `json:"auto_apply"`
}

// Snapshot preserves a target's value before an experiment touched it.
type Snapshot struct {
	ID      string    `json:"id"`
	Target  string    `json:"target"`
	Value   any       `json:"value"`
	TakenAt time.Time `json:"taken_at"`
}

// Experiment is an open, in-observation application of a proposal.
// Exactly one may exist per target; it is removed on evaluation.
type Experiment struct {
	Proposal            Proposal           `json:"proposal"`
	SnapshotID          string             `json:"snapshot_id"`
	AppliedAt           time.Time          `json:"applied_at"`
	PreviousValue       any                `json:"previous_value"`
	BaselineMetrics     map[string]float64 `json:"baseline_metrics"`
	EvaluationScheduled time.Time          `json:"evaluation_scheduled"`
}

// Verdict is the outcome of an evaluated experiment.
type Verdict string

const (
	VerdictKeep     Verdict = "keep"
	VerdictRollback Verdict = "rollback"
)

// MetricImpact is the measured change of one metric, signed so that
// positive always means "moved in the expected direction".
type MetricImpact struct {
	Metric         string  `json:"metric"`
	Before         float64 `json:"before"`
	After          float64 `json:"after"`
	ImprovementPct float64 `json:"improvement_pct"`
}

// Result is the permanent record of a proposal's fate.
type Result struct {
	ProposalID   string         `json:"proposal_id"`
	Applied      bool           `json:"applied"`
	ActualImpact []MetricImpact `json:"actual_impact,omitempty"`
	Verdict      Verdict        `json:"verdict,omitempty"`
	AppliedAt    time.Time      `json:"applied_at,omitempty"`
	EvaluatedAt  time.Time      `json:"evaluated_at,omitempty"`
	Notes        string         `json:"notes,omitempty"`
}

// ValueStore reads and writes experiment targets. Implemented by
// config.Store; the evolver never cares what lives behind a target.
type ValueStore interface {
	Get(target string) (any, error)
	Set(target string, value any) error
}

// MetricSampler captures current values for named metrics, used for
// baselines and evaluations.
type MetricSampler interface {
	Sample(ctx context.Context, names []string) (map[string]float64, error)
}
