package model

// Corruption result types produced by the fault-injection generators.
// All three are pure values: deterministic given a seed and carrying no
// ownership beyond the call that produced them.

// MutationResult is the output of the mutation engine over structured data.
type MutationResult struct {
	Original             map[string]any `json:"original"`
	Mutated              map[string]any `json:"mutated"`
	MutationTypesApplied []string       `json:"mutation_types_applied"`
	Rate                 float64        `json:"rate"`
}

// SpanMalformationResult is the output of the span mutator: one structural
// field broken into a specific, named invalid shape.
type SpanMalformationResult struct {
	OriginalSpan     Span   `json:"original_span"`
	MalformedSpan    Span   `json:"malformed_span"`
	MalformationType string `json:"malformation_type"`
	Description      string `json:"description"`
}

// GorkResult is the output of the gork generator over raw payload bytes.
// ExpectedFailures names the errors a correct consumer must raise when fed
// the garbled data.
type GorkResult struct {
	Original         []byte   `json:"original"`
	GorkData         []byte   `json:"gork_data"`
	GorkType         string   `json:"gork_type"`
	CorruptionRate   float64  `json:"corruption_rate"`
	ExpectedFailures []string `json:"expected_failures"`
}
