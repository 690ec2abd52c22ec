package pattern

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mamori-ai/mamori/internal/model"
)

// rawPattern is the uncompiled form of a pattern, as it appears in a pack
// file or the builtin table.
type rawPattern struct {
	Name        string         `yaml:"name"`
	Category    model.Category `yaml:"category"`
	Severity    model.Severity `yaml:"severity"`
	Confidence  float64        `yaml:"confidence"`
	Regex       string         `yaml:"regex"`
	Remediation string         `yaml:"remediation"`
}

// Pack is a YAML pattern pack: a named, versioned set of detection rules
// layered over the builtins.
type Pack struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Version     string       `yaml:"version"`
	Author      string       `yaml:"author"`
	Patterns    []rawPattern `yaml:"patterns"`
}

// PackSource serves patterns from the builtin set merged with any packs
// loaded from a directory. It is immutable after construction and therefore
// safe for concurrent reads.
type PackSource struct {
	byCategory map[model.Category][]Pattern
}

// NewPackSource loads every .yaml/.yml file from packsDir (if non-empty) and
// merges its patterns after the builtins, preserving file order. Files whose
// base name starts with "_" are skipped (disabled packs). A missing
// directory is not an error; builtins alone are served.
func NewPackSource(packsDir string) (*PackSource, error) {
	byCategory := Builtin()

	if packsDir != "" {
		entries, err := os.ReadDir(packsDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, &model.ConfigurationError{Err: fmt.Errorf("pattern: read packs dir %s: %w", packsDir, err)}
		}
		var names []string
		for _, entry := range entries {
			if entry.IsDir() || !isYAMLFile(entry.Name()) {
				continue
			}
			if strings.HasPrefix(entry.Name(), "_") {
				continue
			}
			names = append(names, entry.Name())
		}
		sort.Strings(names) // stable load order across platforms

		for _, name := range names {
			pack, err := loadPack(filepath.Join(packsDir, name))
			if err != nil {
				return nil, err
			}
			for _, def := range pack.Patterns {
				p, err := compile(def.Name, def.Category, def.Severity, def.Confidence, def.Regex, def.Remediation)
				if err != nil {
					return nil, &model.ConfigurationError{Err: fmt.Errorf("pattern: pack %s: %w", pack.Name, err)}
				}
				byCategory[p.Category] = append(byCategory[p.Category], p)
			}
		}
	}

	return &PackSource{byCategory: byCategory}, nil
}

// LoadNamedPack resolves a single pack by name under packsDir. A pack that
// does not exist is a configuration error wrapping ErrFuzzerPackNotFound.
func LoadNamedPack(packsDir, name string) (*Pack, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(packsDir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return loadPackFile(path)
		}
	}
	return nil, &model.ConfigurationError{
		Err: fmt.Errorf("pattern: pack %q in %s: %w", name, packsDir, model.ErrFuzzerPackNotFound),
	}
}

// Load returns the patterns for a category in stable order.
func (s *PackSource) Load(category model.Category) ([]Pattern, error) {
	if !model.KnownCategory(category) {
		return nil, fmt.Errorf("pattern: unknown category %q", category)
	}
	return s.byCategory[category], nil
}

func loadPack(path string) (*Pack, error) {
	pack, err := loadPackFile(path)
	if err != nil {
		return nil, &model.ConfigurationError{Err: err}
	}
	return pack, nil
}

func loadPackFile(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pattern: read pack %s: %w", path, err)
	}
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("pattern: parse pack %s: %w", path, err)
	}
	if pack.Name == "" {
		pack.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &pack, nil
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
