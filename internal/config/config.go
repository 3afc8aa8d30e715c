// Package config provides configuration loading and management for vaultgraph.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/vaultgraph/api"
)

// Config represents the complete vaultgraph configuration
type Config struct {
	Workspace WorkspaceConfig  `yaml:"workspace"`
	Fences    *api.FenceSchema `yaml:"fences,omitempty"`
	Planner   PlannerConfig    `yaml:"planner"`
	Live      LiveConfig       `yaml:"live"`
	Log       LogConfig        `yaml:"log"`
}

// WorkspaceConfig selects the documents of the workspace
type WorkspaceConfig struct {
	// Root is the workspace directory (default: current directory)
	Root string `yaml:"root"`
	// Include lists doublestar globs of documents to load
	Include []string `yaml:"include"`
	// Exclude lists doublestar globs that override Include
	Exclude []string `yaml:"exclude"`
}

// PlannerConfig configures query planning
type PlannerConfig struct {
	// MaxSpecs is the graph count above which a plan is flagged
	MaxSpecs int `yaml:"max_specs"`
}

// LiveConfig configures live re-evaluation
type LiveConfig struct {
	// Debounce batches rapid changes to one document
	Debounce time.Duration `yaml:"debounce"`
	// EvalTimeout bounds each query evaluation
	EvalTimeout time.Duration `yaml:"eval_timeout"`
	// StrictConsistency panics on a dependency index inconsistency instead
	// of rebuilding the index
	StrictConsistency bool `yaml:"strict_consistency"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level"`
	// Format is text or json
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root:    "",
			Include: []string{"**/*.md"},
			Exclude: []string{".git/**", ".obsidian/**", "node_modules/**"},
		},
		Fences: api.DefaultFenceSchema(),
		Planner: PlannerConfig{
			MaxSpecs: 256,
		},
		Live: LiveConfig{
			Debounce:    300 * time.Millisecond,
			EvalTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if len(c.Workspace.Include) == 0 {
		return fmt.Errorf("workspace.include must not be empty")
	}
	for _, g := range append(append([]string{}, c.Workspace.Include...), c.Workspace.Exclude...) {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("invalid glob %q", g)
		}
	}
	if c.Fences == nil || len(c.Fences.Fences) == 0 {
		return fmt.Errorf("fences must declare at least one fence")
	}
	for _, f := range c.Fences.Fences {
		if f.Tag == "" {
			return fmt.Errorf("fence tag is required")
		}
		switch f.Kind {
		case api.FenceKindGraph:
			switch f.Syntax {
			case api.SyntaxTurtle, api.SyntaxNTriples, api.SyntaxJSONLD:
			default:
				return fmt.Errorf("fence %q: unsupported graph syntax %q", f.Tag, f.Syntax)
			}
		case api.FenceKindQuery:
			if f.Syntax != api.SyntaxSPARQL {
				return fmt.Errorf("fence %q: unsupported query syntax %q", f.Tag, f.Syntax)
			}
		default:
			return fmt.Errorf("fence %q: kind must be %q or %q", f.Tag, api.FenceKindGraph, api.FenceKindQuery)
		}
	}
	if c.Planner.MaxSpecs <= 0 {
		return fmt.Errorf("planner.max_specs must be positive")
	}
	if c.Live.Debounce < 0 {
		return fmt.Errorf("live.debounce must not be negative")
	}
	if c.Live.EvalTimeout < 0 {
		return fmt.Errorf("live.eval_timeout must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Workspace
	if other.Workspace.Root != "" {
		c.Workspace.Root = other.Workspace.Root
	}
	if len(other.Workspace.Include) > 0 {
		c.Workspace.Include = other.Workspace.Include
	}
	if len(other.Workspace.Exclude) > 0 {
		c.Workspace.Exclude = other.Workspace.Exclude
	}

	// Fences
	if other.Fences != nil && len(other.Fences.Fences) > 0 {
		c.Fences = other.Fences
	}

	// Planner
	if other.Planner.MaxSpecs != 0 {
		c.Planner.MaxSpecs = other.Planner.MaxSpecs
	}

	// Live
	if other.Live.Debounce != 0 {
		c.Live.Debounce = other.Live.Debounce
	}
	if other.Live.EvalTimeout != 0 {
		c.Live.EvalTimeout = other.Live.EvalTimeout
	}
	if other.Live.StrictConsistency {
		c.Live.StrictConsistency = true
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
}
