package signal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"vigil/internal/action"
	"vigil/internal/config"
)

func TestParseCondition(t *testing.T) {
	cases := []struct {
		in      string
		min     int
		filters int
		wantErr bool
	}{
		{"count(type=error) >= 5", 5, 1, false},
		{"count(type=error, priority!=low) >= 3", 3, 2, false},
		{"count() >= 1", 1, 0, false},
		{"count(tag=ci, source=github) >= 2", 2, 2, false},
		{"count(type=error) > 5", 0, 0, true},     // only >= supported
		{"count(type=error) >= 0", 0, 0, true},    // threshold must be positive
		{"count(type=error) >= -1", 0, 0, true},   // threshold must be positive
		{"sum(type=error) >= 5", 0, 0, true},      // unknown aggregate
		{"count(bogus=x) >= 1", 0, 0, true},       // unknown field
		{"count(type=) >= 1", 0, 0, true},         // empty value
		{"count(type error) >= 1", 0, 0, true},    // missing operator
		{"count(type=error >= 5", 0, 0, true},     // unterminated paren
		{"count(type=error) >= five", 0, 0, true}, // non-numeric threshold
	}

	for _, tc := range cases {
		c, err := ParseCondition(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseCondition(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCondition(%q): %v", tc.in, err)
			continue
		}
		if c.MinCount() != tc.min {
			t.Errorf("ParseCondition(%q): min = %d, want %d", tc.in, c.MinCount(), tc.min)
		}
		if len(c.filters) != tc.filters {
			t.Errorf("ParseCondition(%q): %d filters, want %d", tc.in, len(c.filters), tc.filters)
		}
	}
}

func TestConditionMatchesSignal(t *testing.T) {
	c, err := ParseCondition("count(type=error, priority!=low, tag=ci) >= 1")
	if err != nil {
		t.Fatal(err)
	}

	ok := Signal{Type: TypeError, Priority: PriorityHigh, Tags: []string{"ci"}}
	if !c.MatchesSignal(ok) {
		t.Error("matching signal rejected")
	}

	cases := map[string]Signal{
		"wrong type":        {Type: TypeMetric, Priority: PriorityHigh, Tags: []string{"ci"}},
		"negated priority":  {Type: TypeError, Priority: PriorityLow, Tags: []string{"ci"}},
		"missing tag":       {Type: TypeError, Priority: PriorityHigh},
		"unrelated tag set": {Type: TypeError, Priority: PriorityHigh, Tags: []string{"deploy"}},
	}
	for name, sig := range cases {
		if c.MatchesSignal(sig) {
			t.Errorf("%s: signal should not match", name)
		}
	}
}

func TestConditionEvaluateThreshold(t *testing.T) {
	c, err := ParseCondition("count(type=error) >= 5")
	if err != nil {
		t.Fatal(err)
	}

	window := make([]Signal, 0, 5)
	for i := 0; i < 4; i++ {
		window = append(window, Signal{Type: TypeError})
	}
	if _, fired := c.Evaluate(window); fired {
		t.Error("fired at 4 matching signals, threshold is 5")
	}

	window = append(window, Signal{Type: TypeError})
	matched, fired := c.Evaluate(window)
	if !fired {
		t.Error("did not fire at exactly 5 matching signals")
	}
	if len(matched) != 5 {
		t.Errorf("matched %d signals, want 5", len(matched))
	}

	// Non-matching signals never count toward the threshold.
	diluted := append([]Signal{}, window[:4]...)
	for i := 0; i < 10; i++ {
		diluted = append(diluted, Signal{Type: TypeMetric})
	}
	if _, fired := c.Evaluate(diluted); fired {
		t.Error("non-matching signals counted toward the threshold")
	}
}

func TestPatternCompileErrors(t *testing.T) {
	base := Pattern{
		ID:        "p1",
		Condition: "count(type=error) >= 1",
		Action:    action.KindNotify,
		Cooldown:  config.Duration(time.Minute),
	}

	good := base
	if err := good.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	noID := base
	noID.ID = ""
	if err := noID.Compile(); err == nil {
		t.Error("expected error for missing id")
	}

	badAction := base
	badAction.Action = "fly"
	if err := badAction.Compile(); err == nil {
		t.Error("expected error for unknown action")
	}

	noCooldown := base
	noCooldown.Cooldown = 0
	if err := noCooldown.Compile(); err == nil {
		t.Error("expected error for zero cooldown")
	}

	badCond := base
	badCond.Condition = "whenever"
	if err := badCond.Compile(); err == nil {
		t.Error("expected error for unparseable condition")
	}
}

func TestLoadPatterns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	doc := `
version: 1
patterns:
  - id: error-burst
    condition: "count(type=error) >= 5"
    action: notify
    cooldown: 5m
    enabled: true
    priority: 1
  - id: critical-alert
    condition: "count(priority=critical) >= 1"
    action: escalate
    cooldown: 1m
    enabled: true
    priority: 0
    tags: [paging]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	patterns, err := LoadPatterns(path)
	if err != nil {
		t.Fatalf("LoadPatterns: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("loaded %d patterns, want 2", len(patterns))
	}
	if patterns[0].ID != "error-burst" || patterns[0].Cooldown.Std() != 5*time.Minute {
		t.Errorf("pattern 0 = %+v", patterns[0])
	}
	if patterns[1].Action != action.KindEscalate {
		t.Errorf("pattern 1 action = %s", patterns[1].Action)
	}
}

func TestLoadPatternsRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	doc := `
patterns:
  - id: broken
    condition: "count(nope=1) >= 1"
    action: notify
    cooldown: 1m
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPatterns(path); err == nil {
		t.Fatal("expected compile error from bad condition")
	}
}
