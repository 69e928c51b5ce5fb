// Package trigger owns schedule-, threshold-, and event-based triggers.
// Scheduled triggers use standard 5-field cron expressions and fire at
// most once per wall-clock minute; threshold triggers compare named
// metrics with optional continuous-duration gating; event triggers
// match inline when an event is reported. Every firing runs its action
// with retry and yields exactly one execution record.
package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"vigil/internal/action"
	"vigil/internal/config"
)

// ConditionKind discriminates the condition union.
type ConditionKind string

const (
	KindScheduled ConditionKind = "scheduled"
	KindThreshold ConditionKind = "threshold"
	KindEvent     ConditionKind = "event"
)

// Operator compares a metric value against a trigger's threshold.
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
	OpNEQ Operator = "neq"
)

// Compare applies the operator to (value, threshold).
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	case OpEQ:
		return value == threshold
	case OpNEQ:
		return value != threshold
	}
	return false
}

// Valid reports whether the operator is known.
func (o Operator) Valid() bool {
	switch o {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNEQ:
		return true
	}
	return false
}

// Condition is a tagged union over the three trigger kinds. Only the
// fields for the active kind are meaningful.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// Scheduled
	Cron string `json:"cron,omitempty"`

	// Threshold
	Metric   string          `json:"metric,omitempty"`
	Operator Operator        `json:"operator,omitempty"`
	Value    float64         `json:"value,omitempty"`
	Duration config.Duration `json:"duration,omitempty"` // continuous truth required before firing

	// Event
	EventType      string         `json:"event_type,omitempty"`
	EventSource    string         `json:"event_source,omitempty"`
	PayloadFilters map[string]any `json:"payload_filters,omitempty"`
}

// BackoffKind selects the retry pacing curve.
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"      // delay * attempt
	BackoffExponential BackoffKind = "exponential" // delay * 2^(attempt-1)
)

// RetryPolicy bounds action retries for one trigger.
type RetryPolicy struct {
	MaxAttempts int             `json:"max_attempts"`
	Delay       config.Duration `json:"delay"`
	Backoff     BackoffKind     `json:"backoff"`
}

// Trigger binds a condition to an action with its retry policy.
type Trigger struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Condition Condition      `json:"condition"`
	Action    action.Kind    `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Retry     RetryPolicy    `json:"retry"`
	Enabled   bool           `json:"enabled"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Execution is the append-only record of one firing attempt sequence.
// RetryCount is the number of attempts made; it never exceeds the
// policy's MaxAttempts.
type Execution struct {
	TriggerID  string        `json:"trigger_id"`
	ExecutedAt time.Time     `json:"executed_at"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	Result     string        `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	RetryCount int           `json:"retry_count"`
}

// validate checks the trigger and parses its cron expression, returning
// the schedule for scheduled triggers.
func (t *Trigger) validate() (cron.Schedule, error) {
	if !t.Action.Valid() {
		return nil, fmt.Errorf("trigger %s: unknown action %q", t.ID, t.Action)
	}
	if t.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("trigger %s: max_attempts must be at least 1", t.ID)
	}
	switch t.Retry.Backoff {
	case BackoffLinear, BackoffExponential:
	default:
		return nil, fmt.Errorf("trigger %s: backoff must be linear or exponential", t.ID)
	}

	switch t.Condition.Kind {
	case KindScheduled:
		sched, err := cron.ParseStandard(t.Condition.Cron)
		if err != nil {
			return nil, fmt.Errorf("trigger %s: invalid cron %q: %w", t.ID, t.Condition.Cron, err)
		}
		return sched, nil
	case KindThreshold:
		if t.Condition.Metric == "" {
			return nil, fmt.Errorf("trigger %s: threshold condition requires a metric", t.ID)
		}
		if !t.Condition.Operator.Valid() {
			return nil, fmt.Errorf("trigger %s: unknown operator %q", t.ID, t.Condition.Operator)
		}
		return nil, nil
	case KindEvent:
		if t.Condition.EventType == "" {
			return nil, fmt.Errorf("trigger %s: event condition requires an event type", t.ID)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("trigger %s: unknown condition kind %q", t.ID, t.Condition.Kind)
}
