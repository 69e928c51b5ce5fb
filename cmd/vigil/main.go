// Command vigil runs the autonomous operations control loop: it senses
// signals from registered adapters, scores candidate work, fires
// triggers, and evolves its own configuration through tracked
// experiments.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vigil/internal/action"
	"vigil/internal/confidence"
	"vigil/internal/config"
	"vigil/internal/evolve"
	"vigil/internal/journal"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/orchestrator"
	sig "vigil/internal/signal"
	"vigil/internal/trigger"
)

const version = "0.3.0"

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "vigil - autonomous operations control loop",
	Long: `vigil senses operational signals, gates autonomous actions behind a
confidence score, fires scheduled/threshold/event triggers, and evolves
its own configuration through reversible experiments.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control loop until interrupted",
	RunE:  runLoop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize journaled loop state",
	RunE:  showStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vigil version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vigil %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(runCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// showStatus reads the journals from a past or concurrent run and
// prints a point-in-time summary.
func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	dir := cfg.Journal.Dir

	iterations, err := journal.ReadAll[orchestrator.LoopIteration](filepath.Join(dir, "iterations.jsonl"))
	if err != nil {
		return err
	}
	fmt.Printf("journal dir:      %s\n", dir)
	fmt.Printf("loop iterations:  %d\n", len(iterations))
	if n := len(iterations); n > 0 {
		last := iterations[n-1]
		fmt.Printf("last iteration:   %s at %s\n", last.ID, last.StartedAt.Format(time.RFC3339))
		if last.Error != "" {
			fmt.Printf("last error:       %s\n", last.Error)
		}
	}

	var evo struct {
		Active  map[string]evolve.Experiment `json:"active"`
		Results []evolve.Result              `json:"results"`
	}
	switch err := journal.LoadDoc(filepath.Join(dir, "evolution.json"), &evo); {
	case err == nil:
		fmt.Printf("experiments:      %d active, %d evaluated\n", len(evo.Active), len(evo.Results))
		for target, exp := range evo.Active {
			fmt.Printf("  %s -> %v (evaluate at %s)\n",
				target, exp.Proposal.ProposedValue, exp.EvaluationScheduled.Format(time.RFC3339))
		}
	case os.IsNotExist(err):
		fmt.Println("experiments:      none recorded")
	default:
		return err
	}

	executions, err := journal.ReadAll[trigger.Execution](filepath.Join(dir, "executions.jsonl"))
	if err != nil {
		return err
	}
	succeeded := 0
	for _, e := range executions {
		if e.Success {
			succeeded++
		}
	}
	fmt.Printf("trigger firings:  %d (%d succeeded)\n", len(executions), succeeded)
	return nil
}

func runLoop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	if err := logging.Init(cfg.Logging.Level, cfg.Logging.Development); err != nil {
		return err
	}
	defer logging.Sync()
	log := logging.For(logging.CategoryLoop)

	store := config.NewStore(cfg)
	m := metrics.New()

	dir := cfg.Journal.Dir
	signalsLog, err := journal.OpenLog(filepath.Join(dir, "signals.jsonl"))
	if err != nil {
		return err
	}
	executionsLog, err := journal.OpenLog(filepath.Join(dir, "executions.jsonl"))
	if err != nil {
		return err
	}
	actionsLog, err := journal.OpenLog(filepath.Join(dir, "actions.jsonl"))
	if err != nil {
		return err
	}
	outcomesLog, err := journal.OpenLog(filepath.Join(dir, "outcomes.jsonl"))
	if err != nil {
		return err
	}
	iterationsLog, err := journal.OpenLog(filepath.Join(dir, "iterations.jsonl"))
	if err != nil {
		return err
	}

	executor := action.NewJournalExecutor(actionsLog)

	processor := sig.NewProcessor(store, executor, signalsLog, m)
	var watcher *sig.PatternWatcher
	if cfg.Signals.PatternsPath != "" {
		watcher, err = sig.NewPatternWatcher(cfg.Signals.PatternsPath, processor)
		if err != nil {
			return fmt.Errorf("pattern watcher: %w", err)
		}
	}

	history := confidence.NewHistory(outcomesLog)
	board := orchestrator.NewBoard()
	benchCache := orchestrator.NewBenchmarkCache()
	confEngine := confidence.NewEngine(store, nil, benchCache, history, m)

	triggerEngine := trigger.NewEngine(store, executor, executionsLog, m)
	evolver := evolve.New(store, store, board, filepath.Join(dir, "evolution.json"), m)

	orch := orchestrator.New(orchestrator.Deps{
		Config:     store,
		Processor:  processor,
		Confidence: confEngine,
		Triggers:   triggerEngine,
		Evolver:    evolver,
		Executor:   executor,
		Board:      board,
		BenchCache: benchCache,
		Journal:    iterationsLog,
		Metrics:    m,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if watcher != nil {
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("pattern watcher: %w", err)
		}
		defer watcher.Stop()
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Listen))
	}

	processor.Start(ctx)
	defer processor.Stop()

	if err := orch.Start(ctx); err != nil {
		return err
	}
	log.Info("vigil running", zap.String("version", version))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	orch.Stop()
	return nil
}
