// Package signal normalizes operational events from external sources
// into a common shape, buffers them, and evaluates declarative patterns
// that dispatch actions when recent activity matches.
package signal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type classifies what kind of observation a signal carries.
type Type string

const (
	TypeError  Type = "error"
	TypeMetric Type = "metric"
	TypeEvent  Type = "event"
	TypeAlert  Type = "alert"
)

// Priority orders signals by urgency.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank maps priority to a comparable value; higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Signal is one normalized observation from an external source.
// Signals are immutable after creation except for Processed, which
// flips false->true exactly once when an action is dispatched for a
// pattern the signal contributed to.
type Signal struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Source    string         `json:"source"`
	Priority  Priority       `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Processed bool           `json:"processed"`
}

// New builds a signal stamped with an ID and the current time.
func New(t Type, source string, priority Priority, payload map[string]any, tags ...string) Signal {
	return Signal{
		ID:        uuid.NewString(),
		Type:      t,
		Source:    source,
		Priority:  priority,
		Timestamp: time.Now(),
		Payload:   payload,
		Tags:      tags,
	}
}

// HasTag reports whether the signal carries the given tag.
func (s Signal) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AdapterHealth describes an adapter's recent behavior.
type AdapterHealth struct {
	Source          string    `json:"source"`
	Healthy         bool      `json:"healthy"`
	LastPoll        time.Time `json:"last_poll"`
	LastError       string    `json:"last_error,omitempty"`
	SignalsReceived int64     `json:"signals_received"`
	ErrorRate       float64   `json:"error_rate"`
}

// Adapter normalizes one external source's raw events into Signals.
// Implementations live outside the core, one per source; the processor
// only polls them. Poll must honor ctx cancellation: a hung source is
// cut off by the processor's per-adapter timeout.
type Adapter interface {
	Source() string
	Poll(ctx context.Context) ([]Signal, error)
	Subscribe(fn func(Signal)) (unsubscribe func())
	TestConnection(ctx context.Context) bool
	Health() AdapterHealth
}
