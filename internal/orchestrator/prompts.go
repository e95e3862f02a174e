package orchestrator

import (
	"fmt"
	"strings"

	"devflow/internal/run"
	"devflow/internal/story"
)

// PlanPrompt asks the planner to decompose task into stories.
func PlanPrompt(task string) string {
	var b strings.Builder
	b.WriteString("Break the following task into small stories that can each be implemented and verified on their own.\n\n")
	b.WriteString("# Task\n\n")
	b.WriteString(strings.TrimSpace(task))
	b.WriteString("\n\n")
	b.WriteString("Answer with a JSON list. Each entry needs \"id\", \"title\", \"description\" and \"acceptance_criteria\" (a list of strings).")
	return b.String()
}

// SinglePrompt is sent to a single step: the task, the story checklist and
// the progress log so far.
func SinglePrompt(stepID string, r *run.WorkflowRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Step %s\n\n", stepID)
	b.WriteString("## Task\n\n")
	b.WriteString(strings.TrimSpace(r.Task))
	b.WriteString("\n\n")
	if len(r.Stories) > 0 {
		b.WriteString("## Stories\n\n")
		b.WriteString(story.Checklist(r.Stories))
		b.WriteString("\n\n")
	}
	writeProgress(&b, r.Progress)
	return strings.TrimRight(b.String(), "\n")
}

// LearningsPrompt asks for the lessons worth carrying into later runs.
func LearningsPrompt(r *run.WorkflowRun) string {
	counts := r.Counts()
	var b strings.Builder
	b.WriteString("Summarize what later runs on this codebase should know. Keep it short: patterns that worked, pitfalls hit, and conventions discovered.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", strings.TrimSpace(r.Task))
	fmt.Fprintf(&b, "Stories done: %d/%d\n", counts.Done, counts.Total())
	fmt.Fprintf(&b, "Iterations used: %d of %d\n\n", r.Iteration, r.MaxIterations)
	writeProgress(&b, r.Progress)
	return strings.TrimRight(b.String(), "\n")
}

func writeProgress(b *strings.Builder, progress []string) {
	if len(progress) == 0 {
		return
	}
	b.WriteString("## Progress log\n\n")
	for _, p := range progress {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteString("\n")
	}
}
