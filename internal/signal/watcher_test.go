package signal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"vigil/internal/config"
)

const watcherPatternsV1 = `
patterns:
  - id: first
    condition: "count(type=error) >= 1"
    action: notify
    cooldown: 1m
    enabled: true
`

const watcherPatternsV2 = `
patterns:
  - id: first
    condition: "count(type=error) >= 1"
    action: notify
    cooldown: 1m
    enabled: true
  - id: second
    condition: "count(type=alert) >= 2"
    action: escalate
    cooldown: 5m
    enabled: true
`

func waitForPatterns(t *testing.T, p *Processor, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(p.Patterns()) == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("processor has %d patterns, want %d", len(p.Patterns()), want)
}

func TestPatternWatcherReloads(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	if err := os.WriteFile(path, []byte(watcherPatternsV1), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewProcessor(config.NewStore(config.Default()), &captureExecutor{}, nil, nil)
	w, err := NewPatternWatcher(path, p)
	if err != nil {
		t.Fatalf("NewPatternWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitForPatterns(t, p, 1)

	if err := os.WriteFile(path, []byte(watcherPatternsV2), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForPatterns(t, p, 2)
}

func TestPatternWatcherKeepsSetOnBadReload(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	if err := os.WriteFile(path, []byte(watcherPatternsV1), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewProcessor(config.NewStore(config.Default()), &captureExecutor{}, nil, nil)
	w, err := NewPatternWatcher(path, p)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	waitForPatterns(t, p, 1)

	if err := os.WriteFile(path, []byte("patterns: [ {id: broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	// The bad file must not clear the running set.
	time.Sleep(800 * time.Millisecond)
	if got := len(p.Patterns()); got != 1 {
		t.Errorf("pattern set = %d after bad reload, want previous 1", got)
	}
}
