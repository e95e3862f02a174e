// Package story holds the unit of work processed by the story loop and the
// decoder that turns planner output into stories.
package story

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a story.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Story is one decomposed unit of work.
type Story struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Status             Status   `json:"status"`
	RetryCount         int      `json:"retryCount"`
	MaxRetries         int      `json:"maxRetries"`
	VerifyFeedback     string   `json:"verifyFeedback,omitempty"`
}

// Open reports whether the story still needs work.
func (s *Story) Open() bool {
	return s.Status == StatusPending || s.Status == StatusRunning
}

// Terminal reports whether the story has reached done or failed.
func (s *Story) Terminal() bool {
	return s.Status == StatusDone || s.Status == StatusFailed
}

// Counts tallies stories by status.
type Counts struct {
	Pending int
	Running int
	Done    int
	Failed  int
}

// Total returns the number of stories counted.
func (c Counts) Total() int {
	return c.Pending + c.Running + c.Done + c.Failed
}

// Open returns the number of pending or running stories.
func (c Counts) Open() int {
	return c.Pending + c.Running
}

// Count tallies stories by status.
func Count(stories []Story) Counts {
	var c Counts
	for i := range stories {
		switch stories[i].Status {
		case StatusPending:
			c.Pending++
		case StatusRunning:
			c.Running++
		case StatusDone:
			c.Done++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

// AllDone reports whether every story is done. An empty list counts as done.
func AllDone(stories []Story) bool {
	for i := range stories {
		if stories[i].Status != StatusDone {
			return false
		}
	}
	return true
}

// Checklist renders one line per story: [x] done, [!] failed, [ ] otherwise.
func Checklist(stories []Story) string {
	if len(stories) == 0 {
		return "(no stories)"
	}
	var b strings.Builder
	for i, s := range stories {
		mark := " "
		switch s.Status {
		case StatusDone:
			mark = "x"
		case StatusFailed:
			mark = "!"
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- [%s] %s: %s", mark, s.ID, s.Title)
	}
	return b.String()
}
