package confidence

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/config"
	"vigil/internal/signal"
)

// fakeHealth returns canned health readings.
type fakeHealth struct {
	tests   TestReport
	lint    LintReport
	build   BuildReport
	noTests bool
	noLint  bool
	noBuild bool
}

func (f *fakeHealth) LatestTests() (TestReport, bool) { return f.tests, !f.noTests }
func (f *fakeHealth) LatestLint() (LintReport, bool)  { return f.lint, !f.noLint }
func (f *fakeHealth) LatestBuild() (BuildReport, bool) {
	return f.build, !f.noBuild
}

type fakeBench struct {
	report BenchmarkReport
	none   bool
}

func (f *fakeBench) LatestBenchmark() (BenchmarkReport, bool) { return f.report, !f.none }

func TestBlendWeightedMean(t *testing.T) {
	// 95*2 + 90 + 100 + 80 + 70 over total weight 6 = 88.33 -> 88.
	samples := []Sample{
		{Source: "tests", Value: 95, Weight: 2},
		{Source: "lint", Value: 90, Weight: 1},
		{Source: "build", Value: 100, Weight: 1},
		{Source: "history", Value: 80, Weight: 1},
		{Source: "heuristic", Value: 70, Weight: 1},
	}
	score := Blend(samples)
	assert.Equal(t, 88, score)
	assert.Equal(t, DecisionNotify, Decide(score, config.Default().Confidence.Thresholds))
}

func TestBlendEdgeCases(t *testing.T) {
	assert.Equal(t, 0, Blend(nil))
	assert.Equal(t, 0, Blend([]Sample{{Value: 90, Weight: 0}}))
	assert.Equal(t, 100, Blend([]Sample{{Value: 250, Weight: 1}}))
	assert.Equal(t, 0, Blend([]Sample{{Value: -40, Weight: 1}}))
	// Negative weights are ignored, not subtracted.
	assert.Equal(t, 80, Blend([]Sample{
		{Value: 80, Weight: 1},
		{Value: 10, Weight: -5},
	}))
}

func TestDecideBoundaries(t *testing.T) {
	th := config.Default().Confidence.Thresholds

	cases := []struct {
		score int
		want  Decision
	}{
		{100, DecisionAutoExecute},
		{90, DecisionAutoExecute},
		{89, DecisionNotify},
		{70, DecisionNotify},
		{69, DecisionRequireApproval},
		{50, DecisionRequireApproval},
		{49, DecisionEscalate},
		{0, DecisionEscalate},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Decide(tc.score, th), "score %d", tc.score)
	}
}

func TestDecideMonotonic(t *testing.T) {
	th := config.Default().Confidence.Thresholds
	rank := map[Decision]int{
		DecisionEscalate:        0,
		DecisionRequireApproval: 1,
		DecisionNotify:          2,
		DecisionAutoExecute:     3,
	}
	prev := -1
	for score := 0; score <= 100; score++ {
		r := rank[Decide(score, th)]
		require.GreaterOrEqual(t, r, prev, "decision weakened at score %d", score)
		prev = r
	}
}

func TestHeuristicValue(t *testing.T) {
	cases := []struct {
		name string
		task Task
		want float64
	}{
		{"low priority cheap", Task{Priority: signal.PriorityLow}, 80},
		{"medium", Task{Priority: signal.PriorityMedium}, 65},
		{"high", Task{Priority: signal.PriorityHigh}, 55},
		{"critical", Task{Priority: signal.PriorityCritical}, 40},
		{"critical expensive wide", Task{Priority: signal.PriorityCritical, EstimatedCost: 150, FileCount: 12}, 5},
		{"high mid cost", Task{Priority: signal.PriorityHigh, EstimatedCost: 60, FileCount: 6}, 40},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HeuristicValue(tc.task), tc.name)
	}
}

func newTestEngine(health HealthSource, bench BenchmarkSource, history *History) *Engine {
	return NewEngine(config.NewStore(config.Default()), health, bench, history, nil)
}

func TestCalculateAllSourcesFresh(t *testing.T) {
	now := time.Now()
	health := &fakeHealth{
		tests: TestReport{PassRate: 100, Coverage: 100, At: now},
		lint:  LintReport{Errors: 0, Warnings: 0, At: now},
		build: BuildReport{Success: true, At: now},
	}
	bench := &fakeBench{report: BenchmarkReport{Score: 100, At: now}}
	history := NewHistory(nil)
	for i := 0; i < 10; i++ {
		history.Record("refactor", true, now)
	}

	e := newTestEngine(health, bench, history)
	e.now = func() time.Time { return now }

	res := e.Calculate(Task{ID: "t1", Type: "refactor", Priority: signal.PriorityLow})
	require.Len(t, res.Signals, 6, "all six sources should contribute")
	// Everything perfect except the heuristic (80 at weight 1):
	// (100*2 + 100 + 100 + 100 + 100 + 80) / 7 = 97.
	assert.Equal(t, 97, res.Score)
	assert.Equal(t, DecisionAutoExecute, res.Decision)
	assert.Contains(t, res.Reasoning[len(res.Reasoning)-1], "auto-execute")
}

func TestCalculateStaleSourceExcluded(t *testing.T) {
	now := time.Now()
	stale := now.Add(-time.Hour) // max_signal_age defaults to 10m
	health := &fakeHealth{
		tests: TestReport{PassRate: 100, Coverage: 100, At: stale},
		lint:  LintReport{At: now},
		build: BuildReport{Success: true, At: now},
	}

	e := newTestEngine(health, nil, NewHistory(nil))
	e.now = func() time.Time { return now }

	res := e.Calculate(Task{ID: "t1", Type: "refactor"})
	for _, s := range res.Signals {
		require.NotEqual(t, "tests", s.Source, "stale tests reading must be excluded, not zero-filled")
	}
	joined := strings.Join(res.Reasoning, "\n")
	assert.Contains(t, joined, "tests: excluded")
	assert.Contains(t, joined, "stale")
}

func TestCalculateSparseCapped(t *testing.T) {
	// No health, bench, or history: only the heuristic remains, which
	// for a low-priority task sits at 80, above the sparse ceiling.
	e := newTestEngine(nil, nil, NewHistory(nil))

	res := e.Calculate(Task{ID: "t1", Type: "new-type", Priority: signal.PriorityLow})
	require.Len(t, res.Signals, 1)
	assert.Equal(t, 50, res.Score, "sparse evidence must cap the score")
	assert.Equal(t, DecisionRequireApproval, res.Decision)
	assert.Contains(t, strings.Join(res.Reasoning, "\n"), "capped")
}

func TestCalculateSparseNoCapBelowCeiling(t *testing.T) {
	// A critical task's heuristic is already below the ceiling; the cap
	// must not raise it.
	e := newTestEngine(nil, nil, NewHistory(nil))
	res := e.Calculate(Task{ID: "t1", Type: "x", Priority: signal.PriorityCritical})
	assert.Equal(t, 40, res.Score)
}

func TestCalculateDeterministicReasoning(t *testing.T) {
	now := time.Now()
	health := &fakeHealth{
		tests: TestReport{PassRate: 90, Coverage: 70, At: now},
		lint:  LintReport{Errors: 1, Warnings: 3, At: now},
		build: BuildReport{Success: true, At: now},
	}
	e := newTestEngine(health, nil, NewHistory(nil))
	e.now = func() time.Time { return now }

	task := Task{ID: "t1", Type: "refactor", Priority: signal.PriorityMedium}
	a := e.Calculate(task)
	b := e.Calculate(task)
	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.Reasoning, b.Reasoning, "same inputs must read identically")
}

func TestCalculateFailingBuildDragsScore(t *testing.T) {
	now := time.Now()
	passing := &fakeHealth{
		tests: TestReport{PassRate: 100, Coverage: 100, At: now},
		lint:  LintReport{At: now},
		build: BuildReport{Success: true, At: now},
	}
	failing := &fakeHealth{
		tests: TestReport{PassRate: 100, Coverage: 100, At: now},
		lint:  LintReport{At: now},
		build: BuildReport{Success: false, At: now},
	}

	task := Task{ID: "t1", Type: "refactor", Priority: signal.PriorityLow}

	eGood := newTestEngine(passing, nil, NewHistory(nil))
	eGood.now = func() time.Time { return now }
	eBad := newTestEngine(failing, nil, NewHistory(nil))
	eBad.now = func() time.Time { return now }

	good := eGood.Calculate(task)
	bad := eBad.Calculate(task)
	assert.Greater(t, good.Score, bad.Score)
}
