// Package pattern provides the detection pattern library: compiled-in
// builtin patterns, YAML pattern packs layered on top, and a TTL-bounded
// cache the analyzer reads through.
package pattern

import (
	"fmt"
	"regexp"

	"github.com/mamori-ai/mamori/internal/model"
)

// Pattern is one compiled detection rule.
type Pattern struct {
	Name        string
	Category    model.Category
	Severity    model.Severity
	Confidence  float64
	Remediation string
	Regex       *regexp.Regexp
}

// Source supplies patterns for a category. Implementations must be safe for
// concurrent use; the cache collapses concurrent misses on top of them.
type Source interface {
	Load(category model.Category) ([]Pattern, error)
}

// compile validates and compiles a raw pattern definition.
func compile(name string, category model.Category, severity model.Severity, confidence float64, expr, remediation string) (Pattern, error) {
	if !model.KnownCategory(category) {
		return Pattern{}, fmt.Errorf("pattern %q: unknown category %q", name, category)
	}
	if confidence < 0 || confidence > 1 {
		return Pattern{}, fmt.Errorf("pattern %q: confidence %g out of range [0,1]", name, confidence)
	}
	if model.SeverityWeight(severity) == 0 {
		return Pattern{}, fmt.Errorf("pattern %q: unknown severity %q", name, severity)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", name, err)
	}
	return Pattern{
		Name:        name,
		Category:    category,
		Severity:    severity,
		Confidence:  confidence,
		Remediation: remediation,
		Regex:       re,
	}, nil
}
