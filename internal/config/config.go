// Package config loads devflow.yaml: the agent adapter, agent definitions,
// workflow formulas and run defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"devflow/internal/agent"
	"devflow/internal/formula"
	"devflow/internal/rules"
)

// Environment overrides.
const (
	EnvConfig   = "DEVFLOW_CONFIG"
	EnvStateDir = "DEVFLOW_STATE_DIR"
)

// Defaults applied when the file leaves a field unset.
const (
	DefaultFile          = "devflow.yaml"
	DefaultStateDir      = ".devflow"
	DefaultMaxIterations = 20
	DefaultMaxRetries    = 2
	DefaultBranchPrefix  = "devflow/"
	DefaultCommand       = "claude"
)

// Adapter modes.
const (
	ModeSpawn   = "spawn"
	ModeSession = "session"
)

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// AdapterConfig selects and configures the agent adapter.
type AdapterConfig struct {
	Mode             string   `yaml:"mode"`
	Command          string   `yaml:"command"`
	Args             []string `yaml:"args,omitempty"`
	Timeout          Duration `yaml:"timeout,omitempty"`
	MinPartialOutput int      `yaml:"min_partial_output,omitempty"`
	TTY              bool     `yaml:"tty,omitempty"`
}

// Config is the parsed devflow.yaml.
type Config struct {
	Adapter       AdapterConfig                      `yaml:"adapter"`
	Agents        map[string]formula.AgentDefinition `yaml:"agents"`
	Workflows     map[string]formula.WorkflowFormula `yaml:"workflows"`
	Steering      map[string]string                  `yaml:"steering,omitempty"`
	MaxIterations int                                `yaml:"max_iterations"`
	MaxRetries    int                                `yaml:"max_retries"`
	BranchPrefix  string                             `yaml:"branch_prefix"`
	Commit        bool                               `yaml:"commit"`
	State         string                             `yaml:"state_dir,omitempty"`

	// Path is the file the config was read from; empty for Default.
	Path string `yaml:"-"`
}

// Default returns the built-in configuration: the embedded agents and a
// feature workflow that plans, implements with verification, reviews and
// records learnings.
func Default() *Config {
	cfg := &Config{
		Adapter: AdapterConfig{
			Mode:    ModeSpawn,
			Command: DefaultCommand,
			Args:    []string{"--print"},
		},
		Agents:        make(map[string]formula.AgentDefinition),
		Workflows:     defaultWorkflows(),
		MaxIterations: DefaultMaxIterations,
		MaxRetries:    DefaultMaxRetries,
		BranchPrefix:  DefaultBranchPrefix,
		Commit:        true,
	}
	for _, name := range rules.Agents() {
		prompt, _ := rules.Agent(name)
		cfg.Agents[name] = formula.AgentDefinition{Name: name, Prompt: prompt}
	}
	return cfg
}

func defaultWorkflows() map[string]formula.WorkflowFormula {
	return map[string]formula.WorkflowFormula{
		"feature": {
			Name:        "feature",
			Description: "Plan stories, implement each with verification, review, record learnings",
			Steps: []formula.WorkflowStep{
				{ID: "plan", Agent: "planner"},
				{ID: "implement", Agent: "coder", Needs: []string{"plan"}, ForEach: formula.ForEachStories, Verifier: "verifier"},
				{ID: "review", Agent: "reviewer", Needs: []string{"implement"}},
				{ID: "compound", Agent: "reviewer", Needs: []string{"review"}, Always: true},
			},
		},
		"fix": {
			Name:        "fix",
			Description: "One implementation pass followed by a review",
			Steps: []formula.WorkflowStep{
				{ID: "fix", Agent: "coder"},
				{ID: "review", Agent: "reviewer", Needs: []string{"fix"}},
			},
		},
	}
}

// Load reads the YAML file at path on top of Default. Agents and workflows
// in the file are added to the built-in ones, replacing same-named entries.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes a YAML document on top of Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

// Discover loads the config named by DEVFLOW_CONFIG, or devflow.yaml in dir.
// A missing devflow.yaml yields Default; a missing DEVFLOW_CONFIG file is an
// error.
func Discover(dir string) (*Config, error) {
	if path := os.Getenv(EnvConfig); path != "" {
		return Load(path)
	}
	path := filepath.Join(dir, DefaultFile)
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) normalize() {
	if c.Adapter.Mode == "" {
		c.Adapter.Mode = ModeSpawn
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	for name, def := range c.Agents {
		if def.Name == "" {
			def.Name = name
		}
		if def.Prompt == "" {
			def.Prompt, _ = rules.Agent(name)
		}
		c.Agents[name] = def
	}
}

// StateDir returns where runs, the ledger and learnings live.
// DEVFLOW_STATE_DIR wins over state_dir.
func (c *Config) StateDir() string {
	if dir := os.Getenv(EnvStateDir); dir != "" {
		return dir
	}
	if c.State != "" {
		return c.State
	}
	return DefaultStateDir
}

// LedgerPath returns the task ledger file inside the state dir.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.StateDir(), "ledger.jsonl")
}

// Formulas resolves and validates every workflow. A step's max_retries, 0
// included, wins; loop steps without one get the config default.
func (c *Config) Formulas() (formula.Set, error) {
	set := make(formula.Set, len(c.Workflows))
	var errs []error
	for name, f := range c.Workflows {
		if f.Name == "" {
			f.Name = name
		}
		steps := make([]formula.WorkflowStep, len(f.Steps))
		copy(steps, f.Steps)
		f.Steps = steps

		if err := f.Resolve(); err != nil {
			errs = append(errs, fmt.Errorf("workflow %q: %w", name, err))
			continue
		}
		for i := range f.Steps {
			st := &f.Steps[i]
			switch {
			case st.Retries != nil:
				st.MaxRetries = *st.Retries
			case st.Kind == formula.KindLoop && st.MaxRetries == 0:
				st.MaxRetries = c.MaxRetries
			}
		}
		if err := f.Validate(c.Agents); err != nil {
			errs = append(errs, fmt.Errorf("workflow %q: %w", name, err))
			continue
		}
		set[name] = f
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return set, nil
}

// NewAdapter builds the configured adapter. live receives agent output as it
// streams; nil discards it.
func (c *Config) NewAdapter(live io.Writer) (agent.Adapter, error) {
	if live == nil {
		live = io.Discard
	}
	a := c.Adapter
	if a.Command == "" {
		return nil, errors.New("adapter.command is empty")
	}
	switch a.Mode {
	case ModeSpawn:
		opts := []agent.SpawnOption{agent.WithStdoutWriter(live)}
		if a.TTY {
			opts = append(opts, agent.WithTTY())
		}
		return agent.NewSpawnAdapter(agent.SpawnConfig{
			Command:          a.Command,
			Args:             a.Args,
			Timeout:          a.Timeout.Duration,
			MinPartialOutput: a.MinPartialOutput,
		}, opts...), nil
	case ModeSession:
		return agent.NewSessionAdapter(agent.SessionConfig{
			Command: a.Command,
			Args:    a.Args,
			Timeout: a.Timeout.Duration,
		}, agent.WithSessionOutput(live)), nil
	default:
		return nil, fmt.Errorf("unknown adapter mode %q (want %s or %s)", a.Mode, ModeSpawn, ModeSession)
	}
}
