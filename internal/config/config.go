// Package config handles YAML configuration parsing for adapter sessions.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"refinery/internal/schema"
	"refinery/internal/script"
)

// Config is the root configuration structure.
type Config struct {
	Engine      EngineConfig       `yaml:"engine"`
	Runner      RunnerConfig       `yaml:"runner"`
	SUT         SUTConfig          `yaml:"sut"`
	Actions     []script.ActionDef `yaml:"actions"`
	Refinements []script.SystemDef `yaml:"refinements"`
}

// EngineConfig controls scheduler behavior.
type EngineConfig struct {
	// AtomicRefinement defaults to true; false is recognized but not
	// supported, so a config asking for it is rejected.
	AtomicRefinement *bool `yaml:"atomicRefinement"`

	// LogConsoleToTrace folds console output into the trace stream.
	LogConsoleToTrace bool `yaml:"logConsoleToTrace"`

	// Seed fixes the scheduler's random source; 0 means a seed drawn from
	// the global math/rand source.
	Seed int64 `yaml:"seed"`

	// TraceFile receives the boundary trace; empty means stderr.
	TraceFile string `yaml:"traceFile"`
}

// RunnerConfig locates the model file and the runner process.
type RunnerConfig struct {
	Model string   `yaml:"model"`
	Host  string   `yaml:"host"`
	Port  int      `yaml:"port"` // 0 means take the model file's first binding
	Exec  string   `yaml:"exec"`
	Args  []string `yaml:"args"`
}

// SUTConfig locates the system under test.
type SUTConfig struct {
	Addr       string `yaml:"addr"`
	CommandRPS int    `yaml:"commandRps"`
}

// LoadConfig reads, schema-checks, and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := schema.Validate(data); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	if c.Engine.AtomicRefinement != nil && !*c.Engine.AtomicRefinement {
		return fmt.Errorf("engine.atomicRefinement: only atomic refinement is supported")
	}
	if c.Runner.Model == "" {
		return fmt.Errorf("runner.model is required")
	}
	declared := make(map[string]bool, len(c.Actions))
	for _, a := range c.Actions {
		declared[a.Name] = true
	}
	for _, r := range c.Refinements {
		for i, tr := range r.Transitions {
			if tr.Class == "model" && !declared[tr.On] {
				return fmt.Errorf("refinement %q transition %d: model action %q is not declared", r.Name, i, tr.On)
			}
		}
	}
	return nil
}

// Atomic reports the effective atomic-refinement setting.
func (c *Config) Atomic() bool {
	return c.Engine.AtomicRefinement == nil || *c.Engine.AtomicRefinement
}

// RunnerHost returns the configured runner host, defaulting to localhost.
func (c *Config) RunnerHost() string {
	if c.Runner.Host == "" {
		return "localhost"
	}
	return c.Runner.Host
}
