package main

import (
	"context"
	"encoding/json"
	"fmt"

	"devflow/internal/agent"
	"devflow/internal/formula"
	"devflow/internal/textutil"
)

// dryRunAdapter answers every call without spawning an agent: planners get
// a two story plan for the task, verifiers pass, everyone else acknowledges.
func dryRunAdapter(set formula.Set, task string) *agent.FuncAdapter {
	planners := map[string]bool{}
	verifiers := map[string]bool{}
	for _, f := range set {
		for _, st := range f.Steps {
			switch st.Kind {
			case formula.KindPlan:
				planners[st.Agent] = true
			case formula.KindLoop:
				if st.Verifier != "" {
					verifiers[st.Verifier] = true
				}
			}
		}
	}

	return &agent.FuncAdapter{Fn: func(_ context.Context, name string, ec agent.ExecContext) (string, error) {
		switch {
		case planners[name]:
			return dryRunPlan(task)
		case verifiers[name]:
			return "PASS\nDry run: nothing was verified.", nil
		default:
			return fmt.Sprintf("Dry run: %s handled step %s.", name, ec.StepID), nil
		}
	}}
}

func dryRunPlan(task string) (string, error) {
	task = textutil.Truncate(textutil.FirstLine(task), 60)
	plan := []map[string]any{
		{
			"id":                  "dry-1",
			"title":               "Implement: " + task,
			"description":         "Placeholder story produced by --dry-run.",
			"acceptance_criteria": []string{"Nothing is executed"},
		},
		{
			"id":                  "dry-2",
			"title":               "Test: " + task,
			"description":         "Placeholder story produced by --dry-run.",
			"acceptance_criteria": []string{"Nothing is executed"},
		},
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", err
	}
	return "```json\n" + string(data) + "\n```", nil
}
