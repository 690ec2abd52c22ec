package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mamori-ai/mamori/internal/chaos"
	"github.com/mamori-ai/mamori/internal/config"
	"github.com/mamori-ai/mamori/internal/model"
	"github.com/mamori-ai/mamori/internal/resilience"
	"github.com/mamori-ai/mamori/internal/storage"
)

var (
	runDuration  time.Duration
	runWarnBelow float64
	runNoSave    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full resilience harness and produce a scored report",
	Long: `Execute every fault-test category: the mutation, span-mutation and gork
generator suites, an error-handling probe of fail-open and fail-closed
pipelines, and a chaos replay of the given duration. Category result files are
written to the results directory, the weighted report is saved to the report
store, and the report is printed as JSON.

A "warning" verdict (overall score below the threshold) exits non-zero so CI
can gate on it.`,
	RunE: runCommand,
}

func init() {
	runCmd.Flags().DurationVar(&runDuration, "duration", 10*time.Second, "Chaos replay duration")
	runCmd.Flags().Float64Var(&runWarnBelow, "warn-below", 0, "Verdict threshold (default: MAMORI_WARN_BELOW)")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "Skip persisting the report to the report store")
	rootCmd.AddCommand(runCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	warnBelow := runWarnBelow
	if warnBelow == 0 {
		warnBelow = cfg.WarnBelow
	}

	ctx := cmd.Context()
	logger := harnessLogger()

	// Generator suites are pure and fast.
	mutation := resilience.MutationSuite(seed)
	spanMutation := resilience.SpanMutationSuite(seed)
	gork := resilience.GorkSuite(seed)

	// Error handling probes two fresh pipelines, one per failure policy.
	errorHandling := resilience.ErrorHandlingSuite(ctx,
		newHarnessPipeline(cfg, true),
		newHarnessPipeline(cfg, false),
	)

	// Chaos replay drives a third pipeline for the full duration.
	replayEngine := chaos.NewReplayEngine(newHarnessPipeline(cfg, true), cfg.AnalysisTimeout, logger, seed)
	replay := replayEngine.Run(ctx, "kuzushi.run", nil, runDuration)

	for _, file := range []model.TestResultFile{mutation, spanMutation, gork, errorHandling} {
		if err := resilience.WriteResultFile(resultsDir, file); err != nil {
			return err
		}
	}
	if err := writeReplaySummary(resultsDir, replay); err != nil {
		return err
	}

	replayScore := replay.ResilienceScore
	report := resilience.Score(resilience.Inputs{
		Mutation:      resilience.Tally(mutation),
		ChaosReplay:   resilience.CategoryResult{Passed: replay.Passed, Total: replay.Attempts, Score: &replayScore},
		SpanMutation:  resilience.Tally(spanMutation),
		Gork:          resilience.Tally(gork),
		ErrorHandling: resilience.Tally(errorHandling),
	}, warnBelow)

	if !runNoSave {
		store, err := storage.OpenReportStore(cfg.ReportDBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.SaveReport(report); err != nil {
			return &model.ReportGenerationError{Stage: "persist", Err: err}
		}
	}

	if err := printJSON(report); err != nil {
		return err
	}
	if report.Verdict != "pass" {
		return fmt.Errorf("resilience verdict %q: overall score %.3f below %.3f",
			report.Verdict, report.OverallResilienceScore, warnBelow)
	}
	return nil
}

// writeReplaySummary keeps the raw chaos outcome next to the category files
// for inspection; the scorer consumes the in-memory result directly.
func writeReplaySummary(dir string, result model.ChaosTestResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode replay summary: %w", err)
	}
	path := filepath.Join(dir, "chaos_replay_summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
