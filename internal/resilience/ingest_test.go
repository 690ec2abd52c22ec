package resilience

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mamori-ai/mamori/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestIngestDirComplete(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mutation.json",
		`{"category":"mutation","results":[{"name":"a","status":"pass"},{"name":"b","status":"fail"}]}`)
	writeFile(t, dir, "chaos_replay.json",
		`{"category":"chaos_replay","results":[{"name":"a","status":"pass"}]}`)
	writeFile(t, dir, "span_mutation.json",
		`{"category":"span_mutation","results":[{"name":"a","status":"pass"},{"name":"b","status":"error"}]}`)
	writeFile(t, dir, "gork_generation.json",
		`{"category":"gork_generation","results":[{"name":"a","status":"pass"}]}`)
	writeFile(t, dir, "error_handling.json",
		`{"category":"error_handling","results":[{"name":"a","status":"pass"}]}`)

	in := IngestDir(dir, quietLogger())

	if in.Mutation.Passed != 1 || in.Mutation.Total != 2 {
		t.Fatalf("mutation = %d/%d", in.Mutation.Passed, in.Mutation.Total)
	}
	// Errored tests count against the category like failures.
	if in.SpanMutation.Passed != 1 || in.SpanMutation.Total != 2 {
		t.Fatalf("span_mutation = %d/%d", in.SpanMutation.Passed, in.SpanMutation.Total)
	}
	if in.ChaosReplay.Degraded || in.Gork.Degraded || in.ErrorHandling.Degraded {
		t.Fatal("complete directory produced degraded categories")
	}
}

func TestIngestDirMissingFileDegrades(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mutation.json",
		`{"category":"mutation","results":[{"name":"a","status":"pass"}]}`)

	in := IngestDir(dir, quietLogger())

	if in.Mutation.Degraded {
		t.Fatal("present category marked degraded")
	}
	for name, cat := range map[string]CategoryResult{
		"chaos_replay":    in.ChaosReplay,
		"span_mutation":   in.SpanMutation,
		"gork_generation": in.Gork,
		"error_handling":  in.ErrorHandling,
	} {
		if !cat.Degraded {
			t.Errorf("missing %s not marked degraded", name)
		}
		if cat.value() != 0 {
			t.Errorf("missing %s scores %v, want 0", name, cat.value())
		}
	}
}

func TestReadResultFileRejectsMalformed(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "truncated.json", `{"category":"mutation","resu`)
	if _, err := ReadResultFile(filepath.Join(dir, "truncated.json")); err == nil {
		t.Error("truncated JSON accepted")
	}

	writeFile(t, dir, "empty.json", `{"category":"mutation","results":[]}`)
	if _, err := ReadResultFile(filepath.Join(dir, "empty.json")); err == nil {
		t.Error("empty results accepted")
	}

	writeFile(t, dir, "badstatus.json",
		`{"category":"mutation","results":[{"name":"a","status":"maybe"}]}`)
	if _, err := ReadResultFile(filepath.Join(dir, "badstatus.json")); err == nil {
		t.Error("unknown status accepted")
	}

	if _, err := ReadResultFile(filepath.Join(dir, "absent.json")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestWriteResultFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := model.TestResultFile{
		Category: CategoryGork,
		Results: []model.TestResult{
			{Name: "gork_truncation", Status: model.TestStatusPass},
			{Name: "gork_binary_noise", Status: model.TestStatusFail},
		},
	}

	if err := WriteResultFile(dir, file); err != nil {
		t.Fatalf("WriteResultFile: %v", err)
	}

	loaded, err := ReadResultFile(filepath.Join(dir, CategoryGork+".json"))
	if err != nil {
		t.Fatalf("ReadResultFile: %v", err)
	}
	if loaded.Category != file.Category || len(loaded.Results) != 2 {
		t.Fatalf("round trip lost data: %+v", loaded)
	}

	tally := Tally(loaded)
	if tally.Passed != 1 || tally.Total != 2 {
		t.Fatalf("tally = %d/%d", tally.Passed, tally.Total)
	}
}
