package cli

import (
	"context"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"testing"
)

// The kuzushi binary must not link test infrastructure: internal/testutil
// drags the container stack into the build.
func TestNoTestInfrastructureImports(t *testing.T) {
	entries, err := os.ReadDir(".")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	fset := token.NewFileSet()
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		for _, imp := range file.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				t.Fatalf("unquote import in %s: %v", name, err)
			}
			if strings.HasSuffix(path, "/internal/testutil") {
				t.Errorf("%s imports %s", name, path)
			}
		}
	}
}

func TestHarnessLoggerLevels(t *testing.T) {
	logger := harnessLogger()
	ctx := context.Background()
	if logger.Enabled(ctx, slog.LevelInfo) {
		t.Fatal("info enabled; progress chatter would corrupt stdout-adjacent output")
	}
	if !logger.Enabled(ctx, slog.LevelWarn) {
		t.Fatal("warnings disabled")
	}
}
