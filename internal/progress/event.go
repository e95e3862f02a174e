// Package progress streams live, human-oriented events while a run executes.
package progress

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"devflow/internal/ledger"
	"devflow/internal/textutil"
)

// Status indicates the state of an operation.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	StatusAborted Status = "aborted"
)

// maxMessageWidth bounds feedback and learnings quoted in messages.
const maxMessageWidth = 120

// Event is one live progress update.
type Event struct {
	Message   string
	Status    Status
	Timestamp time.Time
	Metadata  map[string]string // optional: run, step, story, attempt
}

// ChanEmitter forwards events to Ch without ever blocking the run. Events
// that find Ch full are counted and dropped.
type ChanEmitter struct {
	Ch chan<- Event

	dropped atomic.Int64
}

var _ ledger.Observer = (*ChanEmitter)(nil)

// Emit queues ev, stamping it with the current time when it has none.
func (e *ChanEmitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.Ch <- ev:
	default:
		e.dropped.Add(1)
	}
}

// Dropped returns how many events were lost to a full channel.
func (e *ChanEmitter) Dropped() int64 { return e.dropped.Load() }

// Observe implements ledger.Observer.
func (e *ChanEmitter) Observe(le ledger.Event) {
	e.Emit(FromLedger(le))
}

// FromLedger converts a ledger event to a progress event.
func FromLedger(le ledger.Event) Event {
	ev := Event{
		Status:    StatusRunning,
		Timestamp: le.Timestamp,
		Metadata:  map[string]string{"run": le.RunID, "type": string(le.Type)},
	}
	if le.StepID != "" {
		ev.Metadata["step"] = le.StepID
	}
	if le.StoryID != "" {
		ev.Metadata["story"] = le.StoryID
	}
	if le.Attempt > 0 {
		ev.Metadata["attempt"] = strconv.Itoa(le.Attempt)
	}

	switch le.Type {
	case ledger.EventRunStart:
		ev.Message = fmt.Sprintf("run %s started: %s %q", le.RunID, le.Workflow, le.Task)
	case ledger.EventRunComplete:
		ev.Message = fmt.Sprintf("run %s %s (%d/%d stories done)", le.RunID, le.Status, le.StoriesDone, le.StoriesTotal)
		ev.Status = StatusDone
		if le.Status != "done" {
			ev.Status = StatusError
		}
	case ledger.EventStepStart:
		ev.Message = fmt.Sprintf("step %s (%s) started with %s", le.StepID, le.Kind, le.Agent)
	case ledger.EventStepComplete:
		ev.Message = fmt.Sprintf("step %s %s in %s", le.StepID, le.Status, time.Duration(le.DurationMs)*time.Millisecond)
		ev.Status = StatusDone
		if le.Error != "" {
			ev.Status = StatusError
			ev.Message += ": " + textutil.Truncate(textutil.FirstLine(le.Error), maxMessageWidth)
		}
	case ledger.EventLoopStart:
		ev.Message = fmt.Sprintf("story %s attempt %d: %s", le.StoryID, le.Attempt, le.Title)
	case ledger.EventLoopPass:
		ev.Message = fmt.Sprintf("story %s passed", le.StoryID)
		ev.Status = StatusDone
	case ledger.EventLoopFail:
		ev.Message = fmt.Sprintf("story %s attempt %d failed: %s", le.StoryID, le.Attempt, textutil.Truncate(textutil.FirstLine(le.Feedback), maxMessageWidth))
		ev.Status = StatusError
	case ledger.EventLoopExhausted:
		ev.Message = fmt.Sprintf("story %s failed after %d attempts", le.StoryID, le.Attempt)
		ev.Status = StatusAborted
	case ledger.EventLearning:
		ev.Message = "learned: " + textutil.Truncate(textutil.FirstLine(le.Content), maxMessageWidth)
		ev.Status = StatusDone
	default:
		ev.Message = string(le.Type)
	}
	return ev
}
