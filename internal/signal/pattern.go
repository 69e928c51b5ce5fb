package signal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vigil/internal/action"
	"vigil/internal/config"
)

// Pattern is a declarative rule over recent signals. Conditions are
// text, not code, so patterns can be stored in a YAML file, versioned,
// and shared across processes.
//
// Condition grammar:
//
//	count(field=value, field!=value, ...) >= N
//
// Fields: type, source, priority, tag. The counting window is the
// pattern's own cooldown period, which bounds each pattern's attention
// span to its debounce interval.
type Pattern struct {
	ID        string          `yaml:"id" json:"id"`
	Condition string          `yaml:"condition" json:"condition"`
	Action    action.Kind     `yaml:"action" json:"action"`
	Cooldown  config.Duration `yaml:"cooldown" json:"cooldown"`
	Enabled   bool            `yaml:"enabled" json:"enabled"`
	Priority  int             `yaml:"priority" json:"priority"` // ascending evaluation order
	Tags      []string        `yaml:"tags,omitempty" json:"tags,omitempty"`

	cond *Condition
}

// Compile parses the condition and validates the action. Must be called
// before the pattern is evaluated.
func (p *Pattern) Compile() error {
	if p.ID == "" {
		return fmt.Errorf("pattern requires an id")
	}
	if !p.Action.Valid() {
		return fmt.Errorf("pattern %s: unknown action %q", p.ID, p.Action)
	}
	if p.Cooldown <= 0 {
		return fmt.Errorf("pattern %s: cooldown must be positive", p.ID)
	}
	cond, err := ParseCondition(p.Condition)
	if err != nil {
		return fmt.Errorf("pattern %s: %w", p.ID, err)
	}
	p.cond = cond
	return nil
}

// Match is one pattern firing. Ephemeral: logged, never stored as an
// entity.
type Match struct {
	PatternID      string      `json:"pattern_id"`
	MatchedSignals []Signal    `json:"matched_signals"`
	MatchedAt      time.Time   `json:"matched_at"`
	Action         action.Kind `json:"action"`
}

// Condition is a parsed count predicate.
type Condition struct {
	raw     string
	filters []filter
	min     int
}

type filter struct {
	field  string // type | source | priority | tag
	value  string
	negate bool
}

// ParseCondition parses the count(...) >= N grammar.
func ParseCondition(s string) (*Condition, error) {
	raw := s
	s = strings.TrimSpace(s)

	if !strings.HasPrefix(s, "count(") {
		return nil, fmt.Errorf("condition must start with count(: %q", raw)
	}
	end := strings.Index(s, ")")
	if end < 0 {
		return nil, fmt.Errorf("unterminated count( in %q", raw)
	}
	inner := s[len("count("):end]
	rest := strings.TrimSpace(s[end+1:])

	if !strings.HasPrefix(rest, ">=") {
		return nil, fmt.Errorf("condition must compare with >= : %q", raw)
	}
	min, err := strconv.Atoi(strings.TrimSpace(rest[2:]))
	if err != nil || min < 1 {
		return nil, fmt.Errorf("count threshold must be a positive integer: %q", raw)
	}

	c := &Condition{raw: raw, min: min}
	if inner = strings.TrimSpace(inner); inner != "" {
		for _, part := range strings.Split(inner, ",") {
			f, err := parseFilter(part)
			if err != nil {
				return nil, fmt.Errorf("%w in %q", err, raw)
			}
			c.filters = append(c.filters, f)
		}
	}
	return c, nil
}

func parseFilter(s string) (filter, error) {
	s = strings.TrimSpace(s)
	negate := false
	var field, value string
	if i := strings.Index(s, "!="); i >= 0 {
		negate = true
		field, value = s[:i], s[i+2:]
	} else if i := strings.Index(s, "="); i >= 0 {
		field, value = s[:i], s[i+1:]
	} else {
		return filter{}, fmt.Errorf("filter %q needs = or !=", s)
	}

	field = strings.TrimSpace(field)
	value = strings.TrimSpace(value)
	switch field {
	case "type", "source", "priority", "tag":
	default:
		return filter{}, fmt.Errorf("unknown filter field %q", field)
	}
	if value == "" {
		return filter{}, fmt.Errorf("filter %q has an empty value", s)
	}
	return filter{field: field, value: value, negate: negate}, nil
}

// String returns the original condition text.
func (c *Condition) String() string { return c.raw }

// MinCount returns the firing threshold.
func (c *Condition) MinCount() int { return c.min }

// MatchesSignal reports whether a single signal passes every filter.
func (c *Condition) MatchesSignal(sig Signal) bool {
	for _, f := range c.filters {
		var got bool
		switch f.field {
		case "type":
			got = string(sig.Type) == f.value
		case "source":
			got = sig.Source == f.value
		case "priority":
			got = string(sig.Priority) == f.value
		case "tag":
			got = sig.HasTag(f.value)
		}
		if got == f.negate {
			return false
		}
	}
	return true
}

// Evaluate returns the matching subset of the window and whether the
// count threshold is met.
func (c *Condition) Evaluate(window []Signal) ([]Signal, bool) {
	var matched []Signal
	for _, sig := range window {
		if c.MatchesSignal(sig) {
			matched = append(matched, sig)
		}
	}
	return matched, len(matched) >= c.min
}

// patternFile is the on-disk shape of a pattern definitions file.
type patternFile struct {
	Version  int       `yaml:"version"`
	Patterns []Pattern `yaml:"patterns"`
}

// LoadPatterns reads and compiles a YAML pattern definitions file.
func LoadPatterns(path string) ([]Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse patterns file: %w", err)
	}
	for i := range pf.Patterns {
		if err := pf.Patterns[i].Compile(); err != nil {
			return nil, err
		}
	}
	return pf.Patterns, nil
}
