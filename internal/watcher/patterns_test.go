package watcher

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRules_EmptyPathYieldsDefaults(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if len(rules) == 0 {
		t.Fatal("expected default rules")
	}
	if rules[0].Name != "timestamp_level_message" {
		t.Errorf("unexpected default rule: %+v", rules[0])
	}
}

func TestLoadRules_FromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	content := `patterns:
  - name: apache_common
    regex: '^(?P<ip>\S+) \S+ \S+ \[(?P<timestamp>[^\]]+)\] "(?P<message>[^"]*)"'
    time_format: "02/Jan/2006:15:04:05 -0700"
  - name: bare
    regex: '^(?P<message>.+)$'
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write patterns file: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Name != "apache_common" || rules[0].TimeFormat != "02/Jan/2006:15:04:05 -0700" {
		t.Errorf("unexpected first rule: %+v", rules[0])
	}

	// The loaded rules must compile.
	if _, err := NewParser(rules); err != nil {
		t.Errorf("NewParser() error = %v", err)
	}
}

func TestLoadRules_MissingFile(t *testing.T) {
	if _, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRules_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("patterns: [unterminated"), 0644); err != nil {
		t.Fatalf("write patterns file: %v", err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}
