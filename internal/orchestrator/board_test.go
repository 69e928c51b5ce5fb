package orchestrator

import (
	"context"
	"testing"
	"time"
)

func TestBoardSample(t *testing.T) {
	b := NewBoard()
	b.Set("a", 1)
	b.Set("b", 2)

	got, err := b.Sample(context.Background(), []string{"a", "b", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["a"] != 1 || got["b"] != 2 {
		t.Errorf("Sample = %v", got)
	}
	if _, present := got["missing"]; present {
		t.Error("absent metrics must be omitted, not zero-filled")
	}

	b.Set("a", 5)
	if v, _ := b.Get("a"); v != 5 {
		t.Errorf("Get a = %f after overwrite, want 5", v)
	}
}

func TestBenchmarkCache(t *testing.T) {
	c := NewBenchmarkCache()
	if _, ok := c.LatestBenchmark(); ok {
		t.Fatal("empty cache reported a reading")
	}

	at := time.Now()
	c.Record(91.5, at)
	report, ok := c.LatestBenchmark()
	if !ok || report.Score != 91.5 || !report.At.Equal(at) {
		t.Errorf("LatestBenchmark = %+v (%v)", report, ok)
	}
}
