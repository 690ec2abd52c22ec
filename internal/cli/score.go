package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mamori-ai/mamori/internal/config"
	"github.com/mamori-ai/mamori/internal/resilience"
	"github.com/mamori-ai/mamori/internal/storage"
)

var (
	scoreWarnBelow float64
	scoreNoSave    bool
	reportLimit    int
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score externally produced test-result files",
	Long: `Ingest one <category>.json result file per category from the results
directory, fold them into the weighted resilience score, save the report and
print it. A missing or malformed category file never aborts scoring — the
category scores zero and the report says why.`,
	RunE: scoreCommand,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show saved resilience reports",
	Long: `Print the most recent resilience report, or the last N reports with
--limit, from the report store.`,
	RunE: reportCommand,
}

func init() {
	scoreCmd.Flags().Float64Var(&scoreWarnBelow, "warn-below", 0, "Verdict threshold (default: MAMORI_WARN_BELOW)")
	scoreCmd.Flags().BoolVar(&scoreNoSave, "no-save", false, "Skip persisting the report to the report store")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 1, "Number of reports to show, newest first")
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(reportCmd)
}

func scoreCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	warnBelow := scoreWarnBelow
	if warnBelow == 0 {
		warnBelow = cfg.WarnBelow
	}

	inputs := resilience.IngestDir(resultsDir, harnessLogger())
	report := resilience.Score(inputs, warnBelow)

	if !scoreNoSave {
		store, err := storage.OpenReportStore(cfg.ReportDBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.SaveReport(report); err != nil {
			return err
		}
	}

	return printJSON(report)
}

func reportCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.OpenReportStore(cfg.ReportDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if reportLimit <= 1 {
		report, err := store.LatestReport()
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no resilience report recorded yet — run 'kuzushi run' first")
		}
		if err != nil {
			return err
		}
		return printJSON(report)
	}

	reports, err := store.ListReports(reportLimit)
	if err != nil {
		return err
	}
	return printJSON(reports)
}
