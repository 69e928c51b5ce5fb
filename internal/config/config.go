// Package config holds all vigil configuration: loop timing, signal
// processing, confidence weighting, trigger checking, and evolution
// guardrails. Config is loaded from YAML with VIGIL_* environment
// overrides, validated once, and then accessed through a mutex-guarded
// Store so the evolver can swap individual values at runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML parses either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("duration must be a string or integer nanoseconds")
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration document.
type Config struct {
	Name string `yaml:"name"`

	Loop       LoopConfig       `yaml:"loop"`
	Signals    SignalsConfig    `yaml:"signals"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Triggers   TriggersConfig   `yaml:"triggers"`
	Evolution  EvolutionConfig  `yaml:"evolution"`
	Journal    JournalConfig    `yaml:"journal"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LoopConfig configures the orchestrator tick loop.
type LoopConfig struct {
	SenseInterval    Duration `yaml:"sense_interval"`
	IterationHistory int      `yaml:"iteration_history"` // ring buffer size
}

// SignalsConfig configures the signal processor.
type SignalsConfig struct {
	PollInterval    Duration `yaml:"poll_interval"`
	BatchSize       int      `yaml:"batch_size"`
	AdapterTimeout  Duration `yaml:"adapter_timeout"`
	PollConcurrency int      `yaml:"poll_concurrency"`
	PatternsPath    string   `yaml:"patterns_path"`
}

// ConfidenceConfig configures the confidence engine.
type ConfidenceConfig struct {
	MaxSignalAge Duration             `yaml:"max_signal_age"`
	MinSignals   int                  `yaml:"min_signals"`
	Thresholds   ConfidenceThresholds `yaml:"thresholds"`
	Weights      ConfidenceWeights    `yaml:"weights"`
}

// ConfidenceThresholds are the decision cutoffs. They must be totally
// ordered: AutoExecute >= Notify >= RequireApproval.
type ConfidenceThresholds struct {
	AutoExecute     int `yaml:"auto_execute"`
	Notify          int `yaml:"notify"`
	RequireApproval int `yaml:"require_approval"`
}

// ConfidenceWeights weight each confidence source in the blended score.
type ConfidenceWeights struct {
	Tests     float64 `yaml:"tests"`
	Lint      float64 `yaml:"lint"`
	Build     float64 `yaml:"build"`
	History   float64 `yaml:"history"`
	Benchmark float64 `yaml:"benchmark"`
	Heuristic float64 `yaml:"heuristic"`
}

// TriggersConfig configures the trigger engine.
type TriggersConfig struct {
	CheckInterval Duration    `yaml:"check_interval"`
	DefaultRetry  RetryConfig `yaml:"default_retry"`
}

// RetryConfig is the default retry policy for triggers that omit one.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Delay       Duration `yaml:"delay"`
	Backoff     string   `yaml:"backoff"` // linear | exponential
}

// EvolutionConfig configures the config evolver.
type EvolutionConfig struct {
	ObservationPeriod        Duration `yaml:"observation_period"`
	MaxConcurrentExperiments int      `yaml:"max_concurrent_experiments"`
	AutoRollback             bool     `yaml:"auto_rollback"`
	RegressionTolerancePct   float64  `yaml:"regression_tolerance_pct"`
}

// JournalConfig configures persistence paths.
type JournalConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig configures the zap-backed category logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Name: "vigil",
		Loop: LoopConfig{
			SenseInterval:    Duration(30 * time.Second),
			IterationHistory: 100,
		},
		Signals: SignalsConfig{
			PollInterval:    Duration(15 * time.Second),
			BatchSize:       50,
			AdapterTimeout:  Duration(5 * time.Second),
			PollConcurrency: 4,
		},
		Confidence: ConfidenceConfig{
			MaxSignalAge: Duration(10 * time.Minute),
			MinSignals:   3,
			Thresholds: ConfidenceThresholds{
				AutoExecute:     90,
				Notify:          70,
				RequireApproval: 50,
			},
			Weights: ConfidenceWeights{
				Tests:     2,
				Lint:      1,
				Build:     1,
				History:   1,
				Benchmark: 1,
				Heuristic: 1,
			},
		},
		Triggers: TriggersConfig{
			CheckInterval: Duration(10 * time.Second),
			DefaultRetry: RetryConfig{
				MaxAttempts: 3,
				Delay:       Duration(time.Second),
				Backoff:     "exponential",
			},
		},
		Evolution: EvolutionConfig{
			ObservationPeriod:        Duration(30 * time.Minute),
			MaxConcurrentExperiments: 3,
			AutoRollback:             true,
			RegressionTolerancePct:   -5,
		},
		Journal: JournalConfig{Dir: ".vigil"},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: false, Listen: ":9464"},
	}
}

// Load reads a YAML config file over defaults, then applies environment
// overrides. An empty path returns defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays VIGIL_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("VIGIL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VIGIL_JOURNAL_DIR"); v != "" {
		cfg.Journal.Dir = v
	}
	if v := os.Getenv("VIGIL_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("VIGIL_SENSE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loop.SenseInterval = Duration(d)
		}
	}
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	t := c.Confidence.Thresholds
	if t.AutoExecute < t.Notify || t.Notify < t.RequireApproval {
		return fmt.Errorf("confidence thresholds must satisfy auto_execute >= notify >= require_approval (got %d/%d/%d)",
			t.AutoExecute, t.Notify, t.RequireApproval)
	}
	if c.Loop.SenseInterval <= 0 {
		return fmt.Errorf("loop.sense_interval must be positive")
	}
	if c.Loop.IterationHistory <= 0 {
		return fmt.Errorf("loop.iteration_history must be positive")
	}
	if c.Signals.BatchSize <= 0 {
		return fmt.Errorf("signals.batch_size must be positive")
	}
	if c.Signals.PollConcurrency <= 0 {
		return fmt.Errorf("signals.poll_concurrency must be positive")
	}
	if c.Evolution.MaxConcurrentExperiments <= 0 {
		return fmt.Errorf("evolution.max_concurrent_experiments must be positive")
	}
	switch c.Triggers.DefaultRetry.Backoff {
	case "linear", "exponential":
	default:
		return fmt.Errorf("triggers.default_retry.backoff must be linear or exponential, got %q",
			c.Triggers.DefaultRetry.Backoff)
	}
	return nil
}
