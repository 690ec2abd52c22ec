package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mamori-ai/mamori/internal/chaos"
	"github.com/mamori-ai/mamori/internal/model"
)

var (
	mutateRate  float64
	mutateTypes []string
	gorkKind    string
	gorkRate    float64
	spanKind    string
)

var mutateCmd = &cobra.Command{
	Use:   "mutate [file.json]",
	Short: "Corrupt a structured JSON record with attack-style mutations",
	Long: `Apply named mutations (prompt injection, SQL injection, encoding
corruption, type flips, oversized values, null bytes) to each field of a JSON
object at the given per-field rate. Reads the object from the file argument or
stdin and prints the mutation result as JSON.

  kuzushi mutate --rate 0.5 request.json
  echo '{"prompt":"hi"}' | kuzushi mutate --types prompt_injection --rate 1.0`,
	Args: cobra.MaximumNArgs(1),
	RunE: mutateCommand,
}

var mutateSpanCmd = &cobra.Command{
	Use:   "mutate-span",
	Short: "Break one structural field of a telemetry span",
	Long: `Generate a valid span and apply the named structural malformation
(invalid_trace_id, end_before_start, negative_latency, ...). With --kind all,
every registered malformation is applied to a fresh span and the results are
printed as a JSON array.`,
	RunE: mutateSpanCommand,
}

var gorkCmd = &cobra.Command{
	Use:   "gork [file]",
	Short: "Garble a raw payload into gork",
	Long: `Corrupt raw bytes with the named transform (invalid_utf8, truncation,
binary_noise, null_injection, double_encoding) at the given rate. Reads the
payload from the file argument or stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: gorkCommand,
}

func init() {
	mutateCmd.Flags().Float64Var(&mutateRate, "rate", 0.5, "Per-field mutation probability [0,1]")
	mutateCmd.Flags().StringSliceVar(&mutateTypes, "types", nil, "Mutation types to apply (default: all)")
	mutateSpanCmd.Flags().StringVar(&spanKind, "kind", "all", "Malformation kind (or 'all')")
	gorkCmd.Flags().StringVar(&gorkKind, "kind", string(chaos.GorkBinaryNoise), "Gork transform kind")
	gorkCmd.Flags().Float64Var(&gorkRate, "rate", 0.3, "Per-byte corruption probability [0,1]")

	rootCmd.AddCommand(mutateCmd)
	rootCmd.AddCommand(mutateSpanCmd)
	rootCmd.AddCommand(gorkCmd)
}

func mutateCommand(cmd *cobra.Command, args []string) error {
	raw, err := readInput(args)
	if err != nil {
		return err
	}

	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return fmt.Errorf("input is not a JSON object: %w", err)
	}

	types := make([]chaos.MutationType, 0, len(mutateTypes))
	for _, t := range mutateTypes {
		types = append(types, chaos.MutationType(t))
	}
	if len(types) == 0 {
		types = chaos.MutationTypes()
	}

	res, err := chaos.NewMutationEngine(seed).Mutate(record, types, mutateRate)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func mutateSpanCommand(cmd *cobra.Command, args []string) error {
	mutator := chaos.NewSpanMutator(seed)

	kinds := chaos.MalformationTypes()
	if spanKind != "all" {
		kinds = []chaos.MalformationType{chaos.MalformationType(spanKind)}
	}

	results := make([]model.SpanMalformationResult, 0, len(kinds))
	for _, kind := range kinds {
		res, err := mutator.MutateSpan(freshSpan(), kind)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	if len(results) == 1 {
		return printJSON(results[0])
	}
	return printJSON(results)
}

func gorkCommand(cmd *cobra.Command, args []string) error {
	raw, err := readInput(args)
	if err != nil {
		return err
	}

	res, err := chaos.NewGorkGenerator(seed).Generate(raw, chaos.GorkType(gorkKind), gorkRate)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
