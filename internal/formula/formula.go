// Package formula defines workflow formulas: the static, ordered step
// definitions a run executes, and the agent definitions they reference.
package formula

import (
	"fmt"
	"sort"
	"strings"

	"devflow/internal/jsonutil"
)

// StepKind is the closed set of step behaviours. It is resolved once when a
// formula is loaded and never re-derived during execution.
type StepKind int

const (
	KindSingle    StepKind = iota // One agent call.
	KindPlan                      // Decompose the task into stories.
	KindLoop                      // Run the story loop over the run's stories.
	KindLearnings                 // Extract learnings from the run.
)

// String returns the config spelling of the kind.
func (k StepKind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindPlan:
		return "plan"
	case KindLoop:
		return "loop"
	case KindLearnings:
		return "learnings"
	default:
		return "unknown"
	}
}

// ParseStepKind converts a config string to a StepKind.
func ParseStepKind(s string) (StepKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single":
		return KindSingle, nil
	case "plan":
		return KindPlan, nil
	case "loop":
		return KindLoop, nil
	case "learnings":
		return KindLearnings, nil
	default:
		return 0, jsonutil.ParseEnumError("StepKind", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (k StepKind) MarshalJSON() ([]byte, error) {
	return jsonutil.MarshalEnum(k)
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *StepKind) UnmarshalJSON(data []byte) error {
	parsed, err := jsonutil.UnmarshalEnum(data, ParseStepKind)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ForEachStories is the only collection a loop step can iterate.
const ForEachStories = "stories"

// WorkflowStep is one entry of a formula.
type WorkflowStep struct {
	ID         string   `json:"id" yaml:"id"`
	Agent      string   `json:"agent" yaml:"agent"`
	Needs      []string `json:"needs,omitempty" yaml:"needs,omitempty"`
	ForEach    string   `json:"for_each,omitempty" yaml:"for_each,omitempty"`
	Verifier   string   `json:"verifier,omitempty" yaml:"verifier,omitempty"`
	MaxRetries int      `json:"max_retries,omitempty" yaml:"-"`
	Always     bool     `json:"always,omitempty" yaml:"always,omitempty"`

	// Retries is max_retries as written in config, nil when absent. It lets
	// an explicit 0 stand apart from an unset budget.
	Retries *int `json:"-" yaml:"max_retries,omitempty"`

	// KindName is the optional explicit kind from config.
	KindName string `json:"-" yaml:"kind,omitempty"`

	// Kind is assigned by Resolve.
	Kind StepKind `json:"kind" yaml:"-"`
}

// WorkflowFormula is a named, ordered list of steps.
type WorkflowFormula struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []WorkflowStep `json:"steps" yaml:"steps"`
}

// AgentDefinition describes an agent persona a step can invoke.
type AgentDefinition struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Prompt      string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Context     []string `json:"context,omitempty" yaml:"context,omitempty"`
}

// Resolve assigns a Kind to every step. An explicit kind wins; otherwise a
// step with for_each is a loop, a leading plan/planner step is the planning
// step, and a step named compound or learnings extracts learnings.
func (f *WorkflowFormula) Resolve() error {
	for i := range f.Steps {
		s := &f.Steps[i]
		if s.KindName != "" {
			k, err := ParseStepKind(s.KindName)
			if err != nil {
				return fmt.Errorf("step %q: %w", s.ID, err)
			}
			s.Kind = k
			continue
		}
		switch {
		case s.ForEach != "":
			s.Kind = KindLoop
		case i == 0 && (isPlanName(s.ID) || isPlanName(s.Agent)):
			s.Kind = KindPlan
		case s.ID == "compound" || s.ID == "learnings":
			s.Kind = KindLearnings
		default:
			s.Kind = KindSingle
		}
	}
	return nil
}

func isPlanName(s string) bool {
	return s == "plan" || s == "planner"
}

// Step returns the step with the given id.
func (f *WorkflowFormula) Step(id string) (WorkflowStep, bool) {
	for _, s := range f.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return WorkflowStep{}, false
}

// LoopStep returns the first loop step, if any.
func (f *WorkflowFormula) LoopStep() (WorkflowStep, bool) {
	for _, s := range f.Steps {
		if s.Kind == KindLoop {
			return s, true
		}
	}
	return WorkflowStep{}, false
}

// ValidationError collects every problem found in a formula.
type ValidationError struct {
	Formula  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %q is invalid: %s", e.Formula, strings.Join(e.Problems, "; "))
}

// Validate checks structural invariants. When agents is non-nil every agent
// and verifier reference must exist in it.
func (f *WorkflowFormula) Validate(agents map[string]AgentDefinition) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(f.Name) == "" {
		add("name is empty")
	}
	if len(f.Steps) == 0 {
		add("no steps")
	}

	seen := make(map[string]bool, len(f.Steps))
	var plans, learnings int
	for i, s := range f.Steps {
		if s.ID == "" {
			add("step %d has no id", i+1)
		} else if seen[s.ID] {
			add("duplicate step id %q", s.ID)
		}
		if s.Agent == "" {
			add("step %q has no agent", s.ID)
		}

		// needs may only point backwards, which also rules out cycles.
		for _, n := range s.Needs {
			if n == s.ID {
				add("step %q needs itself", s.ID)
			} else if !seen[n] {
				add("step %q needs %q, which is not declared before it", s.ID, n)
			}
		}

		switch s.Kind {
		case KindPlan:
			plans++
			if i != 0 {
				add("plan step %q must be the first step", s.ID)
			}
		case KindLearnings:
			learnings++
		case KindLoop:
			if s.ForEach != "" && s.ForEach != ForEachStories {
				add("loop step %q iterates over %q, only %q is supported", s.ID, s.ForEach, ForEachStories)
			}
		}
		if s.MaxRetries < 0 {
			add("step %q has negative max_retries", s.ID)
		}

		if agents != nil {
			if _, ok := agents[s.Agent]; s.Agent != "" && !ok {
				add("step %q references unknown agent %q", s.ID, s.Agent)
			}
			if _, ok := agents[s.Verifier]; s.Verifier != "" && !ok {
				add("step %q references unknown verifier %q", s.ID, s.Verifier)
			}
		}
		seen[s.ID] = true
	}
	if plans > 1 {
		add("more than one plan step")
	}
	if learnings > 1 {
		add("more than one learnings step")
	}

	if len(problems) > 0 {
		return &ValidationError{Formula: f.Name, Problems: problems}
	}
	return nil
}

// UnknownWorkflowError reports a workflow name that is not configured.
type UnknownWorkflowError struct {
	Name      string
	Available []string
}

func (e *UnknownWorkflowError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown workflow %q (no workflows configured)", e.Name)
	}
	return fmt.Sprintf("unknown workflow %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// Set is a collection of formulas keyed by name.
type Set map[string]WorkflowFormula

// Names returns the formula names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named formula or an *UnknownWorkflowError.
func (s Set) Lookup(name string) (WorkflowFormula, error) {
	f, ok := s[name]
	if !ok {
		return WorkflowFormula{}, &UnknownWorkflowError{Name: name, Available: s.Names()}
	}
	return f, nil
}
