package confidence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/internal/journal"
	"vigil/internal/logging"
)

// historyWindow is the rolling window for per-type success rates.
const historyWindow = 7 * 24 * time.Hour

// Outcome records one finished task for the rolling history.
type Outcome struct {
	TaskType string    `json:"task_type"`
	Success  bool      `json:"success"`
	At       time.Time `json:"at"`
}

// History keeps a 7-day rolling record of task outcomes per type,
// optionally backed by an append-only journal so rates survive
// restarts.
type History struct {
	mu       sync.Mutex
	outcomes []Outcome
	journal  *journal.Log
}

// NewHistory builds a history store. jl may be nil; when set, existing
// outcomes are loaded and new ones appended.
func NewHistory(jl *journal.Log) *History {
	h := &History{journal: jl}
	if jl != nil {
		loaded, err := journal.ReadAll[Outcome](jl.Path())
		if err != nil {
			logging.For(logging.CategoryConfidence).Warn("failed to load outcome history", zap.Error(err))
		}
		h.outcomes = loaded
	}
	return h
}

// Record appends one outcome.
func (h *History) Record(taskType string, success bool, at time.Time) {
	o := Outcome{TaskType: taskType, Success: success, At: at}

	h.mu.Lock()
	h.outcomes = append(h.outcomes, o)
	h.prune(at)
	h.mu.Unlock()

	if h.journal != nil {
		if err := h.journal.Append(o); err != nil {
			logging.For(logging.CategoryConfidence).Warn("failed to journal outcome", zap.Error(err))
		}
	}
}

// Rate returns the success rate in [0,1] for a task type over the
// rolling window, plus the number of outcomes observed. ok is false
// when no outcomes fall inside the window.
func (h *History) Rate(taskType string, now time.Time) (rate float64, n int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := now.Add(-historyWindow)
	succeeded := 0
	for _, o := range h.outcomes {
		if o.TaskType != taskType || o.At.Before(cutoff) {
			continue
		}
		n++
		if o.Success {
			succeeded++
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	return float64(succeeded) / float64(n), n, true
}

// prune drops outcomes older than the window. Caller holds mu.
func (h *History) prune(now time.Time) {
	cutoff := now.Add(-historyWindow)
	kept := h.outcomes[:0]
	for _, o := range h.outcomes {
		if !o.At.Before(cutoff) {
			kept = append(kept, o)
		}
	}
	h.outcomes = kept
}
