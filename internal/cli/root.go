// Package cli implements the kuzushi command line: the fault-injection
// harness that corrupts inputs, replays faults against an in-process capture
// pipeline, and scores the guardrail's resilience.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	seed       int64
	resultsDir string

	// cliVersion is injected by Execute from the build.
	cliVersion = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "kuzushi",
	Short: "kuzushi - resilience harness for the mamori guardrail",
	Long: `kuzushi feeds deliberately corrupted data through the guardrail's capture
pipeline and measures how gracefully it degrades. It generates structured-data
mutations, malformed spans and garbled payloads (gork), replays systemic fault
scenarios against an in-process pipeline, and folds the outcomes into a
weighted resilience score.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 1, "Seed for the deterministic corruption generators")
	rootCmd.PersistentFlags().StringVar(&resultsDir, "results-dir", "results", "Directory for category result files")
}

// Execute runs the CLI with the given build version.
func Execute(version string) error {
	if version != "" {
		cliVersion = version
	}
	return rootCmd.Execute()
}

// harnessLogger writes warnings and errors to stderr so the JSON reports on
// stdout stay machine-readable.
func harnessLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
