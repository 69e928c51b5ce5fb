package config

import (
	"testing"
	"time"
)

func TestStoreGetSet(t *testing.T) {
	s := NewStore(Default())

	v, err := s.Get("confidence.thresholds.auto_execute")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.(int) != 90 {
		t.Errorf("auto_execute = %v, want 90", v)
	}

	if err := s.Set("confidence.thresholds.auto_execute", 95); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.Snapshot().Confidence.Thresholds.AutoExecute; got != 95 {
		t.Errorf("auto_execute = %d after Set, want 95", got)
	}
}

func TestStoreSetDuration(t *testing.T) {
	s := NewStore(Default())

	// String form, as a YAML/JSON proposal would carry it.
	if err := s.Set("loop.sense_interval", "45s"); err != nil {
		t.Fatalf("Set string duration: %v", err)
	}
	if got := s.Snapshot().Loop.SenseInterval.Std(); got != 45*time.Second {
		t.Errorf("sense_interval = %s, want 45s", got)
	}

	// Numeric nanoseconds, as JSON round-tripping produces.
	if err := s.Set("loop.sense_interval", float64(10*time.Second)); err != nil {
		t.Fatalf("Set numeric duration: %v", err)
	}
	if got := s.Snapshot().Loop.SenseInterval.Std(); got != 10*time.Second {
		t.Errorf("sense_interval = %s, want 10s", got)
	}
}

func TestStoreSetRejectsInvalidResult(t *testing.T) {
	s := NewStore(Default())

	// Pushing notify above auto_execute breaks threshold ordering.
	err := s.Set("confidence.thresholds.notify", 99)
	if err == nil {
		t.Fatal("expected validation rejection")
	}
	if got := s.Snapshot().Confidence.Thresholds.Notify; got != 70 {
		t.Errorf("notify = %d after rejected Set, want unchanged 70", got)
	}
}

func TestStoreUnknownPath(t *testing.T) {
	s := NewStore(Default())
	if _, err := s.Get("loop.nope"); err == nil {
		t.Error("Get: expected error for unknown path")
	}
	if err := s.Set("nope.deeper", 1); err == nil {
		t.Error("Set: expected error for unknown path")
	}
	if err := s.Set("loop", 1); err == nil {
		t.Error("Set: expected error when path names a section")
	}
}

func TestStoreApplyAllOrNothing(t *testing.T) {
	s := NewStore(Default())

	err := s.Apply(map[string]any{
		"signals.batch_size":       25,
		"signals.poll_concurrency": "not-a-number",
	})
	if err == nil {
		t.Fatal("expected Apply to fail on bad value")
	}
	if got := s.Snapshot().Signals.BatchSize; got != 50 {
		t.Errorf("batch_size = %d after failed Apply, want unchanged 50", got)
	}

	if err := s.Apply(map[string]any{
		"signals.batch_size":       25,
		"signals.poll_concurrency": 8,
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	snap := s.Snapshot()
	if snap.Signals.BatchSize != 25 || snap.Signals.PollConcurrency != 8 {
		t.Errorf("signals = %+v, want batch 25, concurrency 8", snap.Signals)
	}
}

func TestStoreApplyValidatesWholePatch(t *testing.T) {
	s := NewStore(Default())
	err := s.Apply(map[string]any{
		"confidence.thresholds.auto_execute": 60,
	})
	if err == nil {
		t.Fatal("expected rejection: auto_execute below notify")
	}
}
