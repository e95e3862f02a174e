// Package agent executes named agents behind a single Adapter interface.
//
// Two implementations exist: SpawnAdapter launches one process per call and
// SessionAdapter keeps one long-lived child process that speaks newline
// delimited JSON-RPC 2.0. Both return a three-valued Result so callers can
// tell a clean success from a degraded one without inspecting errors.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout is the default per-call agent timeout.
const DefaultTimeout = 10 * time.Minute

// DefaultMinPartialOutput is the number of non-blank characters a timed out
// or crashed agent must have produced for its output to be accepted.
const DefaultMinPartialOutput = 200

// Adapter runs agents. Implementations own their process lifecycle; Close
// releases whatever they hold and a later Exec may start over.
type Adapter interface {
	Validate(ctx context.Context) Capability
	Exec(ctx context.Context, agentName string, ec ExecContext) (*Result, error)
	Close() error
}

// Capability is the result of a non-blocking installation check.
type Capability struct {
	Installed bool
	Version   string
	Err       error
}

// ExecContext bundles everything needed for one agent call.
type ExecContext struct {
	Prompt  string
	WorkDir string

	// RunID and StepID identify the call for tracing.
	RunID  string
	StepID string

	// Feedback from a prior failed attempt, if any.
	Feedback string

	// ContextFiles maps a label to content prepended to the prompt.
	ContextFiles map[string]string

	// Instructions is the agent's own system prompt.
	Instructions string

	// Learnings is the accumulated learnings block from earlier runs.
	Learnings string
}

// Outcome classifies a call.
type Outcome int

const (
	OutcomeSuccess  Outcome = iota // clean exit
	OutcomeDegraded                // timed out or crashed after useful output
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Result holds the outcome of a single agent call. A failed call still
// returns a Result carrying whatever output was captured.
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
	Outcome  Outcome
}

// DurationMs returns the call duration in milliseconds.
func (r *Result) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// OK reports whether the output can be used.
func (r *Result) OK() bool {
	return r != nil && r.Outcome != OutcomeFailure
}

// Reason classifies an ExecError.
type Reason int

const (
	ReasonMissing Reason = iota
	ReasonTimeout
	ReasonExit
	ReasonChannelClosed
	ReasonProtocol
	ReasonCanceled
)

func (r Reason) String() string {
	switch r {
	case ReasonMissing:
		return "executable missing"
	case ReasonTimeout:
		return "timed out"
	case ReasonExit:
		return "exited with error"
	case ReasonChannelClosed:
		return "channel closed"
	case ReasonProtocol:
		return "protocol error"
	case ReasonCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ExecError is returned by Exec when an agent call fails.
type ExecError struct {
	Agent   string
	Reason  Reason
	Err     error
	Partial string
}

func (e *ExecError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("agent %s: %s", e.Agent, e.Reason)
	}
	return fmt.Sprintf("agent %s: %s: %v", e.Agent, e.Reason, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// IsReason reports whether err is an *ExecError with the given reason.
func IsReason(err error, reason Reason) bool {
	var ee *ExecError
	return errors.As(err, &ee) && ee.Reason == reason
}

// fail builds the failure Result and its *ExecError.
func fail(agentName string, reason Reason, err error, partial string, exitCode int, d time.Duration) (*Result, error) {
	res := &Result{Output: partial, ExitCode: exitCode, Duration: d, Outcome: OutcomeFailure}
	return res, &ExecError{Agent: agentName, Reason: reason, Err: err, Partial: partial}
}

// acceptPartial reports whether output is long enough to count as a
// degraded success.
func acceptPartial(output string, min int) bool {
	return len([]rune(strings.TrimSpace(output))) >= min
}
