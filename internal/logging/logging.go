// Package logging provides categorized structured logging for vigil.
// Each subsystem logs through a named zap logger so operators can filter
// the loop, signal, trigger, and evolution streams independently.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a subsystem for log routing.
type Category string

const (
	CategoryLoop       Category = "loop"       // Orchestrator tick lifecycle
	CategorySignals    Category = "signals"    // Adapter polling, pattern matching
	CategoryTriggers   Category = "triggers"   // Trigger evaluation and execution
	CategoryConfidence Category = "confidence" // Confidence scoring
	CategoryEvolution  Category = "evolution"  // Config experiments
	CategoryActions    Category = "actions"    // Action dispatch
	CategoryJournal    Category = "journal"    // Persistence
)

var (
	mu    sync.RWMutex
	root  = zap.NewNop()
	named = make(map[Category]*zap.Logger)
)

// Init builds the process-wide logger. level is one of debug/info/warn/error;
// development switches to the human-readable console encoder.
func Init(level string, development bool) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	root = logger
	named = make(map[Category]*zap.Logger)
	mu.Unlock()
	return nil
}

// For returns the logger for a category. Safe before Init; logs are
// dropped until Init runs.
func For(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := named[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := named[cat]; ok {
		return l
	}
	l := root.Named(string(cat))
	named[cat] = l
	return l
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
