package formula

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func featureFormula() WorkflowFormula {
	return WorkflowFormula{
		Name: "feature",
		Steps: []WorkflowStep{
			{ID: "plan", Agent: "planner"},
			{ID: "implement", Agent: "coder", Needs: []string{"plan"}, ForEach: "stories", Verifier: "verifier", MaxRetries: 2},
			{ID: "review", Agent: "reviewer", Needs: []string{"implement"}},
			{ID: "compound", Agent: "reviewer", Always: true},
		},
	}
}

func agentSet(names ...string) map[string]AgentDefinition {
	m := make(map[string]AgentDefinition, len(names))
	for _, n := range names {
		m[n] = AgentDefinition{Name: n}
	}
	return m
}

func TestResolve_InfersKinds(t *testing.T) {
	f := featureFormula()
	require.NoError(t, f.Resolve())

	want := []StepKind{KindPlan, KindLoop, KindSingle, KindLearnings}
	for i, s := range f.Steps {
		assert.Equal(t, want[i], s.Kind, "step %s", s.ID)
	}
}

func TestResolve_ExplicitKindWins(t *testing.T) {
	f := WorkflowFormula{Name: "x", Steps: []WorkflowStep{
		{ID: "decompose", Agent: "a", KindName: "plan"},
		{ID: "plan", Agent: "a"},
		{ID: "wrap", Agent: "a", KindName: "Learnings"},
	}}
	require.NoError(t, f.Resolve())
	assert.Equal(t, KindPlan, f.Steps[0].Kind)
	assert.Equal(t, KindSingle, f.Steps[1].Kind, "plan name only counts for the first step")
	assert.Equal(t, KindLearnings, f.Steps[2].Kind)
}

func TestResolve_BadKind(t *testing.T) {
	f := WorkflowFormula{Name: "x", Steps: []WorkflowStep{{ID: "a", Agent: "a", KindName: "parallel"}}}
	assert.Error(t, f.Resolve())
}

func TestValidate_OK(t *testing.T) {
	f := featureFormula()
	require.NoError(t, f.Resolve())
	assert.NoError(t, f.Validate(agentSet("planner", "coder", "verifier", "reviewer")))
	assert.NoError(t, f.Validate(nil))
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name    string
		steps   []WorkflowStep
		problem string
	}{
		{"duplicate id", []WorkflowStep{{ID: "a", Agent: "x"}, {ID: "a", Agent: "x"}}, `duplicate step id "a"`},
		{"forward need", []WorkflowStep{{ID: "a", Agent: "x", Needs: []string{"b"}}, {ID: "b", Agent: "x"}}, `step "a" needs "b", which is not declared before it`},
		{"self need", []WorkflowStep{{ID: "a", Agent: "x", Needs: []string{"a"}}}, `step "a" needs itself`},
		{"late plan", []WorkflowStep{{ID: "a", Agent: "x"}, {ID: "p", Agent: "x", KindName: "plan"}}, `plan step "p" must be the first step`},
		{"unknown agent", []WorkflowStep{{ID: "a", Agent: "ghost"}}, `step "a" references unknown agent "ghost"`},
		{"unknown verifier", []WorkflowStep{{ID: "a", Agent: "x", ForEach: "stories", Verifier: "ghost"}}, `step "a" references unknown verifier "ghost"`},
		{"bad for_each", []WorkflowStep{{ID: "a", Agent: "x", ForEach: "files"}}, `loop step "a" iterates over "files"`},
		{"missing agent", []WorkflowStep{{ID: "a"}}, `step "a" has no agent`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := WorkflowFormula{Name: "w", Steps: tt.steps}
			require.NoError(t, f.Resolve())
			err := f.Validate(agentSet("x"))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			assert.Contains(t, verr.Error(), tt.problem)
		})
	}
}

func TestValidate_Empty(t *testing.T) {
	f := WorkflowFormula{}
	err := f.Validate(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is empty")
	assert.Contains(t, err.Error(), "no steps")
}

func TestSet_Lookup(t *testing.T) {
	s := Set{"feature": featureFormula(), "bugfix": {Name: "bugfix"}}

	f, err := s.Lookup("feature")
	require.NoError(t, err)
	assert.Equal(t, "feature", f.Name)

	_, err = s.Lookup("nope")
	var uerr *UnknownWorkflowError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, []string{"bugfix", "feature"}, uerr.Available)
	assert.EqualError(t, err, `unknown workflow "nope" (available: bugfix, feature)`)
}

func TestStepKind_JSON(t *testing.T) {
	data, err := json.Marshal(KindLoop)
	require.NoError(t, err)
	assert.Equal(t, `"loop"`, string(data))

	var k StepKind
	require.NoError(t, json.Unmarshal([]byte(`"learnings"`), &k))
	assert.Equal(t, KindLearnings, k)
}

func TestLoopStep(t *testing.T) {
	f := featureFormula()
	require.NoError(t, f.Resolve())
	s, ok := f.LoopStep()
	require.True(t, ok)
	assert.Equal(t, "implement", s.ID)
}
