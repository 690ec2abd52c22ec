package resilience

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mamori-ai/mamori/internal/model"
)

// IngestDir reads one test-result file per category from dir
// (<category>.json) and merges them into scorer inputs. A malformed or
// missing file never fails ingestion: the category is logged and scored
// zero, marked degraded.
func IngestDir(dir string, logger *slog.Logger) Inputs {
	return Inputs{
		Mutation:      ingestCategory(dir, CategoryMutation, logger),
		ChaosReplay:   ingestCategory(dir, CategoryChaosReplay, logger),
		SpanMutation:  ingestCategory(dir, CategorySpanMutation, logger),
		Gork:          ingestCategory(dir, CategoryGork, logger),
		ErrorHandling: ingestCategory(dir, CategoryErrorHandling, logger),
	}
}

func ingestCategory(dir, category string, logger *slog.Logger) CategoryResult {
	path := filepath.Join(dir, category+".json")
	file, err := ReadResultFile(path)
	if err != nil {
		logger.Warn("resilience: category result unusable, scoring zero",
			"category", category, "path", path, "error", err)
		return CategoryResult{Degraded: true}
	}
	return Tally(file)
}

// ReadResultFile parses one structured test-result file.
func ReadResultFile(path string) (model.TestResultFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.TestResultFile{}, fmt.Errorf("resilience: read %s: %w", path, err)
	}
	var file model.TestResultFile
	if err := json.Unmarshal(data, &file); err != nil {
		return model.TestResultFile{}, fmt.Errorf("resilience: parse %s: %w", path, err)
	}
	if len(file.Results) == 0 {
		return model.TestResultFile{}, fmt.Errorf("resilience: %s contains no results", path)
	}
	for i, r := range file.Results {
		switch r.Status {
		case model.TestStatusPass, model.TestStatusFail, model.TestStatusError:
		default:
			return model.TestResultFile{}, fmt.Errorf("resilience: %s result %d has unknown status %q", path, i, r.Status)
		}
	}
	return file, nil
}

// Tally folds a result file into pass/total counts. Errored tests count
// against the category the same as failures.
func Tally(file model.TestResultFile) CategoryResult {
	result := CategoryResult{Total: len(file.Results)}
	for _, r := range file.Results {
		if r.Status == model.TestStatusPass {
			result.Passed++
		}
	}
	return result
}
