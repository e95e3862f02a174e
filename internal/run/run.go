// Package run defines the WorkflowRun record: one execution of a workflow,
// owned by the orchestrator and persisted as a snapshot after every step.
package run

import (
	"fmt"
	"time"

	"devflow/internal/story"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusRunning   Status = "running"
	StatusVerifying Status = "verifying"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
)

// rank orders statuses; a run never moves to a lower rank.
func (s Status) rank() int {
	switch s {
	case StatusPlanning:
		return 0
	case StatusRunning:
		return 1
	case StatusVerifying:
		return 2
	case StatusDone, StatusFailed:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether s is done or failed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// WorkflowRun is one execution of a workflow.
type WorkflowRun struct {
	ID            string        `json:"id"`
	Workflow      string        `json:"workflow"`
	Task          string        `json:"task"`
	Status        Status        `json:"status"`
	Stories       []story.Story `json:"stories"`
	Branch        string        `json:"branch,omitempty"`
	Progress      []string      `json:"progress"`
	Learnings     []string      `json:"learnings,omitempty"`
	Iteration     int           `json:"iteration"`
	MaxIterations int           `json:"maxIterations"`
	StartedAt     time.Time     `json:"startedAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	CompletedAt   time.Time     `json:"completedAt,omitzero"`
	Error         string        `json:"error,omitempty"`

	// PlanOutput keeps the planner text of a plan that could not be parsed.
	PlanOutput string `json:"planOutput,omitempty"`
}

// Advance moves the run to next. Moving to the current status is a no-op;
// moving backwards or out of a terminal status is an error.
func (r *WorkflowRun) Advance(next Status) error {
	if next == r.Status {
		return nil
	}
	if r.Status.Terminal() {
		return fmt.Errorf("run %s is already %s", r.ID, r.Status)
	}
	if next.rank() < r.Status.rank() {
		return fmt.Errorf("run %s cannot move from %s back to %s", r.ID, r.Status, next)
	}
	r.Status = next
	return nil
}

// AddProgress appends a progress log entry.
func (r *WorkflowRun) AddProgress(entry string) {
	r.Progress = append(r.Progress, entry)
}

// Counts tallies the run's stories by status.
func (r *WorkflowRun) Counts() story.Counts {
	return story.Count(r.Stories)
}
