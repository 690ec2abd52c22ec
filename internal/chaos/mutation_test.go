package chaos

import (
	"reflect"
	"testing"
)

func testRecord() map[string]any {
	return map[string]any{
		"prompt":      "what is the capital of france",
		"model":       "gpt-4o",
		"temperature": 0.2,
		"max_tokens":  256,
		"stream":      true,
	}
}

func TestMutateRateZeroIdentity(t *testing.T) {
	engine := NewMutationEngine(42)
	input := testRecord()

	res, err := engine.Mutate(input, MutationTypes(), 0.0)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if len(res.MutationTypesApplied) != 0 {
		t.Fatalf("rate 0 applied mutations: %v", res.MutationTypesApplied)
	}
	if !reflect.DeepEqual(res.Original, res.Mutated) {
		t.Fatal("rate 0 changed the data")
	}
}

func TestMutateRateOneAppliesEverywhere(t *testing.T) {
	engine := NewMutationEngine(7)

	for _, mt := range MutationTypes() {
		input := testRecord()
		res, err := engine.Mutate(input, []MutationType{mt}, 1.0)
		if err != nil {
			t.Fatalf("%s: %v", mt, err)
		}
		if len(res.MutationTypesApplied) != len(input) {
			t.Errorf("%s: applied %d mutations, want %d", mt, len(res.MutationTypesApplied), len(input))
		}
		if reflect.DeepEqual(res.Original, res.Mutated) {
			t.Errorf("%s: rate 1 left the data unchanged", mt)
		}
	}
}

func TestMutateDoesNotModifyInput(t *testing.T) {
	engine := NewMutationEngine(99)
	input := testRecord()

	_, err := engine.Mutate(input, MutationTypes(), 1.0)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if !reflect.DeepEqual(input, testRecord()) {
		t.Fatal("input map was modified")
	}
}

func TestMutateDeterministic(t *testing.T) {
	a, err := NewMutationEngine(1234).Mutate(testRecord(), MutationTypes(), 0.5)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	b, err := NewMutationEngine(1234).Mutate(testRecord(), MutationTypes(), 0.5)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if !reflect.DeepEqual(a.Mutated, b.Mutated) {
		t.Fatal("same seed produced different mutations")
	}
	if !reflect.DeepEqual(a.MutationTypesApplied, b.MutationTypesApplied) {
		t.Fatal("same seed applied different mutations")
	}

	c, err := NewMutationEngine(4321).Mutate(testRecord(), MutationTypes(), 0.5)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if reflect.DeepEqual(a.Mutated, c.Mutated) && reflect.DeepEqual(a.MutationTypesApplied, c.MutationTypesApplied) {
		t.Log("different seeds coincided; suspicious but not impossible")
	}
}

func TestMutateRejectsBadInput(t *testing.T) {
	engine := NewMutationEngine(1)

	if _, err := engine.Mutate(testRecord(), nil, -0.1); err == nil {
		t.Error("negative rate accepted")
	}
	if _, err := engine.Mutate(testRecord(), nil, 1.1); err == nil {
		t.Error("rate above 1 accepted")
	}
	if _, err := engine.Mutate(testRecord(), []MutationType{"bogus"}, 0.5); err == nil {
		t.Error("unknown mutation type accepted")
	}
}

func TestMutationTypesStableOrder(t *testing.T) {
	kinds := MutationTypes()
	if len(kinds) != len(mutationRegistry) {
		t.Fatalf("MutationTypes returned %d kinds, registry has %d", len(kinds), len(mutationRegistry))
	}
	for i := 1; i < len(kinds); i++ {
		if kinds[i-1] >= kinds[i] {
			t.Fatalf("kinds not sorted: %v", kinds)
		}
	}
}
