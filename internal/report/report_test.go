package report

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"devflow/internal/ledger"
	"devflow/internal/run"
	"devflow/internal/story"
)

func TestRuns(t *testing.T) {
	var buf bytes.Buffer
	Runs(&buf, []ledger.RunSummary{
		{RunID: "r1", Workflow: "feature", Task: "Add login\nwith details", Status: "done", StoriesDone: 2, StoriesTotal: 2},
		{RunID: "r2", Workflow: "fix", Task: "Fix typo", Status: "failed", Error: "step fix: agent coder: timed out"},
		{RunID: "r3", Workflow: "feature", Task: "Refactor", Status: "running"},
	})
	out := buf.String()

	for _, want := range []string{"RUN", "r1", "2/2", "Add login", "r2", "timed out", "r3", "running"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "with details") {
		t.Error("only the first task line should be shown")
	}
}

func TestRuns_Empty(t *testing.T) {
	var buf bytes.Buffer
	Runs(&buf, nil)
	if !strings.Contains(buf.String(), "no runs recorded") {
		t.Errorf("got %q", buf.String())
	}
}

func TestEvents(t *testing.T) {
	var buf bytes.Buffer
	Events(&buf, []ledger.Event{
		ledger.RunStart("r1", "feature", "Add login", ""),
		ledger.StepComplete("r1", "plan", "done", 1500*time.Millisecond, ""),
		ledger.LoopFail("r1", "s1", 1, "FAIL: tests red\nmore detail"),
		ledger.LoopExhausted("r1", "s1", 3),
		ledger.RunComplete("r1", "failed", 0, 1, "step implement failed"),
	})
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), out)
	}
	for _, want := range []string{"run_start", "plan done 2s", "FAIL: tests red", "after 3 attempts", "0/1 stories"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "more detail") {
		t.Error("feedback should be cut to its first line")
	}
}

func TestRun(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := &run.WorkflowRun{
		ID:       "r1",
		Workflow: "feature",
		Task:     "Add login",
		Status:   run.StatusFailed,
		Branch:   "devflow/r1",
		Stories: []story.Story{
			{ID: "s1", Title: "Form", Status: story.StatusDone},
			{ID: "s2", Title: "Session", Status: story.StatusFailed, RetryCount: 2, MaxRetries: 2, VerifyFeedback: "FAIL: cookie missing"},
		},
		Progress:      []string{"planned 2 stories"},
		Learnings:     []string{"Use the session middleware."},
		Iteration:     2,
		MaxIterations: 20,
		StartedAt:     start,
		CompletedAt:   start.Add(154 * time.Second),
		Error:         "step implement: 1 stories failed",
	}
	var buf bytes.Buffer
	Run(&buf, r)
	out := buf.String()

	for _, want := range []string{
		"Run r1", "devflow/r1", "Iteration: 2/20", "took 2m34s",
		"Stories (1/2 done)", "s2", "retries 2/2", "cookie missing",
		"Use the session middleware.", "planned 2 stories", "1 stories failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_PlannerOutput(t *testing.T) {
	var lines []string
	for i := range planOutputLines + 3 {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	r := &run.WorkflowRun{
		ID:         "r1",
		Status:     run.StatusFailed,
		PlanOutput: strings.Join(lines, "\n"),
		Error:      "step plan: parse planner output",
	}
	var buf bytes.Buffer
	Run(&buf, r)
	out := buf.String()

	for _, want := range []string{"Planner output", "line 0", "3 more lines"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, fmt.Sprintf("line %d\n", planOutputLines)) {
		t.Errorf("planner output should stop after %d lines:\n%s", planOutputLines, out)
	}
}

func TestStatusIcon(t *testing.T) {
	tests := map[string]string{
		"done":    IconSuccess,
		"failed":  IconFailed,
		"pending": IconPending,
		"running": IconRunning,
	}
	for status, want := range tests {
		if got := StatusIcon(status); got != want {
			t.Errorf("StatusIcon(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(250 * time.Millisecond); got != "250ms" {
		t.Errorf("got %q", got)
	}
	if got := formatDuration(72 * time.Minute); got != "1h12m" {
		t.Errorf("got %q", got)
	}
}
