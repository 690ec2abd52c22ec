package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mamori-ai/mamori/internal/chaos"
	"github.com/mamori-ai/mamori/internal/config"
)

var (
	replayDuration  time.Duration
	replayScenarios []string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay systemic fault scenarios against an in-process pipeline",
	Long: `Build a fresh capture pipeline and bombard it with fault scenarios
(malformed_spans, latency, partition, resource_pressure) for the given
duration. An attempt passes when the pipeline answers without panicking and
within twice its analysis timeout. Prints the chaos test result as JSON.`,
	RunE: replayCommand,
}

func init() {
	replayCmd.Flags().DurationVar(&replayDuration, "duration", 10*time.Second, "Wall-clock replay duration")
	replayCmd.Flags().StringSliceVar(&replayScenarios, "scenarios", nil, "Scenarios to induce (default: all)")
	rootCmd.AddCommand(replayCmd)
}

func replayCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	scenarios := make([]chaos.Scenario, 0, len(replayScenarios))
	for _, s := range replayScenarios {
		scenarios = append(scenarios, chaos.Scenario(s))
	}

	pipe := newHarnessPipeline(cfg, true)
	engine := chaos.NewReplayEngine(pipe, cfg.AnalysisTimeout, harnessLogger(), seed)

	result := engine.Run(cmd.Context(), "kuzushi.replay", scenarios, replayDuration)
	return printJSON(result)
}
