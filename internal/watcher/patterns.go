package watcher

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PatternRule is one fallback extraction pattern, tried in order against
// lines the structured parser rejects. The regex uses named groups:
// message (required), timestamp, level, source, category, ip.
type PatternRule struct {
	Name       string `yaml:"name"`
	Regex      string `yaml:"regex"`
	TimeFormat string `yaml:"time_format,omitempty"`
}

type patternsFile struct {
	Patterns []PatternRule `yaml:"patterns"`
}

// DefaultRules covers the common "timestamp LEVEL message" plain-text
// layout.
func DefaultRules() []PatternRule {
	return []PatternRule{
		{
			Name: "timestamp_level_message",
			Regex: `^(?P<timestamp>\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?)` +
				`\s+\[?(?P<level>[A-Za-z]+)\]?:?\s+(?P<message>.+)$`,
		},
	}
}

// LoadRules reads pattern rules from a YAML file. An empty path yields the
// defaults.
func LoadRules(path string) ([]PatternRule, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns file: %w", err)
	}

	var file patternsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse patterns file: %w", err)
	}
	if len(file.Patterns) == 0 {
		return DefaultRules(), nil
	}
	return file.Patterns, nil
}
