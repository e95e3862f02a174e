package ralph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"devflow/internal/agent"
	"devflow/internal/ledger"
	"devflow/internal/run"
	"devflow/internal/story"
	"devflow/internal/vcs"
)

// DefaultMaxIterations is the iteration budget used when a run has none.
const DefaultMaxIterations = 20

// StopReason indicates why the loop terminated.
type StopReason int

const (
	StopNormal           StopReason = iota // No open stories left.
	StopMaxIterations                      // Iteration budget exhausted.
	StopContextCancelled                   // Context cancelled (e.g. SIGINT).
	StopRequested                          // A stop marker was found.
)

// String returns a human-readable label for the stop reason.
func (r StopReason) String() string {
	switch r {
	case StopNormal:
		return "normal"
	case StopMaxIterations:
		return "max-iterations"
	case StopContextCancelled:
		return "context-cancelled"
	case StopRequested:
		return "stop-requested"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (r StopReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *StopReason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "normal":
		*r = StopNormal
	case "max-iterations":
		*r = StopMaxIterations
	case "context-cancelled":
		*r = StopContextCancelled
	case "stop-requested":
		*r = StopRequested
	default:
		return fmt.Errorf("unknown StopReason: %s", s)
	}
	return nil
}

// Recorder persists loop events. *ledger.Recorder satisfies it.
type Recorder interface {
	Record(e ledger.Event) error
}

// Committer commits the work of a finished story. *vcs.Git satisfies it.
type Committer interface {
	Commit(message string) error
}

// Config configures one run of the story loop.
type Config struct {
	RunID  string
	StepID string

	// Implementer does the work; Verifier, when set, judges it.
	Implementer string
	Verifier    string

	// MaxRetries is the retry budget of every open story: a story is tried
	// at most MaxRetries+1 times.
	MaxRetries int

	WorkDir  string
	Adapter  agent.Adapter
	Recorder Recorder

	// Committer is optional; commit failures are logged and ignored.
	Committer Committer

	// Prepare fills in per-agent instructions, context files and learnings
	// before each call. Nil leaves the ExecContext as built by the loop.
	Prepare func(agentName string, ec *agent.ExecContext)

	// Stopped is polled before every attempt. Nil never stops.
	Stopped func() bool

	Output io.Writer        // defaults to os.Stdout
	Now    func() time.Time // defaults to time.Now
}

// LoopResult summarizes a loop run.
type LoopResult struct {
	Done       int
	Failed     int
	Remaining  int
	Iterations int // attempts made, retries included
	StopReason StopReason
	Duration   time.Duration
}

// Success reports whether every story finished and none failed.
func (r *LoopResult) Success() bool {
	return r.Remaining == 0 && r.Failed == 0
}

// Loop drives r's stories until none are open, the iteration budget is
// spent, a stop is requested or ctx is cancelled. Stories, progress and the
// iteration counter are updated in place. A ledger failure aborts the loop
// with an error; agent failures only fail the attempt.
func Loop(ctx context.Context, cfg Config, r *run.WorkflowRun) (*LoopResult, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("ralph: no adapter configured")
	}
	if cfg.Recorder == nil {
		return nil, errors.New("ralph: no recorder configured")
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if r.MaxIterations <= 0 {
		r.MaxIterations = DefaultMaxIterations
	}

	applyBudget(r.Stories, cfg.MaxRetries)

	l := &loop{cfg: cfg, run: r}
	start := cfg.Now()
	res := &LoopResult{StopReason: StopNormal}

	for {
		if ctx.Err() != nil {
			res.StopReason = StopContextCancelled
			break
		}
		if cfg.Stopped != nil && cfg.Stopped() {
			res.StopReason = StopRequested
			break
		}
		idx := nextStory(r.Stories)
		if idx < 0 {
			break
		}
		if r.Iteration >= r.MaxIterations {
			res.StopReason = StopMaxIterations
			break
		}

		res.Iterations++
		cancelled, err := l.step(ctx, &r.Stories[idx])
		if err != nil {
			return nil, err
		}
		if cancelled {
			res.StopReason = StopContextCancelled
			break
		}
	}

	counts := r.Counts()
	res.Done = counts.Done
	res.Failed = counts.Failed
	res.Remaining = counts.Open()
	res.Duration = cfg.Now().Sub(start)
	writef(cfg.Output, "%s\n", formatSummary(res))
	return res, nil
}

// applyBudget gives every open story the loop's retry budget. A story that
// already retried more often than that keeps its count as the budget.
func applyBudget(stories []story.Story, maxRetries int) {
	for i := range stories {
		if stories[i].Open() {
			stories[i].MaxRetries = max(maxRetries, stories[i].RetryCount)
		}
	}
}

// nextStory returns the index of the first open story, or -1.
func nextStory(stories []story.Story) int {
	for i := range stories {
		if stories[i].Open() {
			return i
		}
	}
	return -1
}

type loop struct {
	cfg Config
	run *run.WorkflowRun
}

// step runs one attempt on s. It reports cancelled when ctx ended the
// attempt; the story is then returned to pending without spending a retry.
func (l *loop) step(ctx context.Context, s *story.Story) (cancelled bool, err error) {
	cfg, r := l.cfg, l.run

	s.Status = story.StatusRunning
	r.Iteration++
	attempt := s.RetryCount + 1
	if err := cfg.Recorder.Record(ledger.LoopStart(cfg.RunID, s.ID, s.Title, attempt, r.Iteration)); err != nil {
		return false, fmt.Errorf("record loop_start: %w", err)
	}
	writef(cfg.Output, "[%d/%d] %s %q attempt %d\n", r.Iteration, r.MaxIterations, s.ID, s.Title, attempt)

	started := cfg.Now()
	passed, feedback := l.attempt(ctx, s)
	elapsed := cfg.Now().Sub(started)

	if !passed && ctx.Err() != nil {
		s.Status = story.StatusPending
		r.Iteration--
		writef(cfg.Output, "  interrupted after %s\n", formatDuration(elapsed))
		return true, nil
	}

	if passed {
		s.Status = story.StatusDone
		s.VerifyFeedback = ""
		r.AddProgress(fmt.Sprintf("%s completed %s: %s", cfg.Now().Format("2006-01-02 15:04"), s.ID, s.Title))
		if cfg.Committer != nil {
			if err := cfg.Committer.Commit(vcs.CommitMessage(s.ID, s.Title)); err != nil {
				log.Printf("warning: commit for story %s failed: %v", s.ID, err)
			}
		}
		if err := cfg.Recorder.Record(ledger.LoopPass(cfg.RunID, s.ID, attempt, elapsed)); err != nil {
			return false, fmt.Errorf("record loop_pass: %w", err)
		}
		writef(cfg.Output, "  ✓ passed (%s)\n", formatDuration(elapsed))
		return false, nil
	}

	s.VerifyFeedback = feedback
	if err := cfg.Recorder.Record(ledger.LoopFail(cfg.RunID, s.ID, attempt, feedback)); err != nil {
		return false, fmt.Errorf("record loop_fail: %w", err)
	}
	writef(cfg.Output, "  ✗ failed (%s): %s\n", formatDuration(elapsed), firstLine(feedback))

	if s.RetryCount >= s.MaxRetries {
		s.Status = story.StatusFailed
		r.AddProgress(fmt.Sprintf("%s gave up on %s after %d attempts", cfg.Now().Format("2006-01-02 15:04"), s.ID, attempt))
		if err := cfg.Recorder.Record(ledger.LoopExhausted(cfg.RunID, s.ID, attempt)); err != nil {
			return false, fmt.Errorf("record loop_exhausted: %w", err)
		}
		writef(cfg.Output, "  ⊘ %s exhausted after %d attempts\n", s.ID, attempt)
		return false, nil
	}

	s.RetryCount++
	s.Status = story.StatusPending
	r.Iteration--
	return false, nil
}

// attempt implements and, if configured, verifies s. On failure the returned
// feedback is the verifier's output or the adapter error text.
func (l *loop) attempt(ctx context.Context, s *story.Story) (bool, string) {
	cfg := l.cfg

	impl := l.execContext(cfg.Implementer, ImplementPrompt(*s, l.run.Stories, l.run.Progress))
	impl.Feedback = s.VerifyFeedback
	res, err := cfg.Adapter.Exec(ctx, cfg.Implementer, impl)
	if err != nil {
		return false, err.Error()
	}
	if res != nil && res.Outcome == agent.OutcomeDegraded {
		writef(cfg.Output, "  ⚠ %s returned partial output\n", cfg.Implementer)
	}

	if cfg.Verifier == "" {
		return true, ""
	}

	res, err = cfg.Adapter.Exec(ctx, cfg.Verifier, l.execContext(cfg.Verifier, VerifyPrompt(*s)))
	if err != nil {
		return false, err.Error()
	}
	if ParseVerdict(res.Output) == VerdictPass {
		return true, ""
	}
	feedback := strings.TrimSpace(res.Output)
	if feedback == "" {
		feedback = "verifier returned no verdict"
	}
	return false, feedback
}

func (l *loop) execContext(agentName, prompt string) agent.ExecContext {
	ec := agent.ExecContext{
		Prompt:  prompt,
		WorkDir: l.cfg.WorkDir,
		RunID:   l.cfg.RunID,
		StepID:  l.cfg.StepID,
	}
	if l.cfg.Prepare != nil {
		l.cfg.Prepare(agentName, &ec)
	}
	return ec
}
