package ledger

import "time"

// EventType tags a ledger event.
type EventType string

const (
	EventRunStart      EventType = "run_start"
	EventRunComplete   EventType = "run_complete"
	EventStepStart     EventType = "step_start"
	EventStepComplete  EventType = "step_complete"
	EventLoopStart     EventType = "loop_start"
	EventLoopPass      EventType = "loop_pass"
	EventLoopFail      EventType = "loop_fail"
	EventLoopExhausted EventType = "loop_exhausted"
	EventLearning      EventType = "learning"
)

// StatusRunning is reported for runs that have no run_complete event.
const StatusRunning = "running"

// Event is one immutable ledger fact. Only Type, RunID and Timestamp are
// always set; the rest depends on Type.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"runId"`
	Timestamp time.Time `json:"timestamp"`

	// run_start
	Workflow string `json:"workflow,omitempty"`
	Task     string `json:"task,omitempty"`
	Branch   string `json:"branch,omitempty"`

	// run_complete, step_complete
	Status       string `json:"status,omitempty"`
	StoriesDone  int    `json:"storiesDone,omitempty"`
	StoriesTotal int    `json:"storiesTotal,omitempty"`
	Error        string `json:"error,omitempty"`

	// step_start, step_complete, learning
	StepID     string `json:"stepId,omitempty"`
	Agent      string `json:"agent,omitempty"`
	Kind       string `json:"kind,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`

	// loop_*
	StoryID   string `json:"storyId,omitempty"`
	Title     string `json:"title,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
	Feedback  string `json:"feedback,omitempty"`

	// learning
	Content string `json:"content,omitempty"`
}

// RunStart opens a run.
func RunStart(runID, workflow, task, branch string) Event {
	return Event{Type: EventRunStart, RunID: runID, Workflow: workflow, Task: task, Branch: branch}
}

// RunComplete closes a run with its final status and story tally.
func RunComplete(runID, status string, done, total int, errMsg string) Event {
	return Event{Type: EventRunComplete, RunID: runID, Status: status, StoriesDone: done, StoriesTotal: total, Error: errMsg}
}

// StepStart marks the beginning of a step.
func StepStart(runID, stepID, agent, kind string) Event {
	return Event{Type: EventStepStart, RunID: runID, StepID: stepID, Agent: agent, Kind: kind}
}

// StepComplete marks the end of a step.
func StepComplete(runID, stepID, status string, duration time.Duration, errMsg string) Event {
	return Event{Type: EventStepComplete, RunID: runID, StepID: stepID, Status: status, DurationMs: duration.Milliseconds(), Error: errMsg}
}

// LoopStart marks the start of one story attempt.
func LoopStart(runID, storyID, title string, attempt, iteration int) Event {
	return Event{Type: EventLoopStart, RunID: runID, StoryID: storyID, Title: title, Attempt: attempt, Iteration: iteration}
}

// LoopPass records a story that passed.
func LoopPass(runID, storyID string, attempt int, duration time.Duration) Event {
	return Event{Type: EventLoopPass, RunID: runID, StoryID: storyID, Attempt: attempt, DurationMs: duration.Milliseconds()}
}

// LoopFail records a failed attempt and the feedback for the next one.
func LoopFail(runID, storyID string, attempt int, feedback string) Event {
	return Event{Type: EventLoopFail, RunID: runID, StoryID: storyID, Attempt: attempt, Feedback: feedback}
}

// LoopExhausted records a story that used up its retries.
func LoopExhausted(runID, storyID string, attempts int) Event {
	return Event{Type: EventLoopExhausted, RunID: runID, StoryID: storyID, Attempt: attempts}
}

// Learning records extracted learnings.
func Learning(runID, stepID, content string) Event {
	return Event{Type: EventLearning, RunID: runID, StepID: stepID, Content: content}
}
