// Package orchestrator executes a workflow formula for a task: it plans
// stories, drives the story loop, runs the remaining single steps and
// records every transition in the ledger and the run snapshot.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"devflow/internal/agent"
	"devflow/internal/artifact"
	"devflow/internal/formula"
	"devflow/internal/ledger"
	"devflow/internal/ralph"
	"devflow/internal/run"
	"devflow/internal/steering"
	"devflow/internal/story"
	"devflow/internal/textutil"
	"devflow/internal/vcs"
)

// MaxLearningWidth bounds the content of a learning ledger event.
const MaxLearningWidth = 2000

// MaxPlanOutputWidth bounds the unparsable planner text kept in a snapshot.
const MaxPlanOutputWidth = 4000

// ErrStopped ends a run whose stop marker was found.
var ErrStopped = errors.New("stopped by request")

// Recorder persists ledger events. *ledger.Recorder satisfies it.
type Recorder interface {
	Record(e ledger.Event) error
}

// Git is the version control a run uses. *vcs.Git satisfies it. All calls
// are best effort.
type Git interface {
	CurrentBranch() (string, error)
	CreateBranch(name string) error
	Commit(message string) error
}

// Options wires an Orchestrator.
type Options struct {
	Formulas formula.Set
	Agents   map[string]formula.AgentDefinition
	Adapter  agent.Adapter
	Recorder Recorder
	Store    *artifact.Store

	// Git is optional. Without it runs stay on the current branch and
	// nothing is committed.
	Git          Git
	BranchPrefix string
	Commit       bool

	// Steering is optional and supplies per-agent context files.
	Steering steering.Resolver

	WorkDir       string
	MaxIterations int

	Output io.Writer        // defaults to os.Stdout
	Now    func() time.Time // defaults to time.Now
	NewID  func() string    // defaults to NewRunID
}

// Orchestrator runs workflows.
type Orchestrator struct {
	opts Options
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Adapter == nil {
		return nil, errors.New("orchestrator: no adapter")
	}
	if opts.Recorder == nil {
		return nil, errors.New("orchestrator: no recorder")
	}
	if opts.Store == nil {
		return nil, errors.New("orchestrator: no store")
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = NewRunID
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = ralph.DefaultMaxIterations
	}
	return &Orchestrator{opts: opts}, nil
}

// NewRunID returns a sortable run id: UTC start time plus a random suffix.
func NewRunID() string {
	return time.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// fatalError marks ledger and snapshot failures, which end a run at once.
// A snapshot failure still closes the run in the ledger; a ledger failure
// leaves nothing more to write to.
type fatalError struct {
	err    error
	ledger bool
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(format string, args ...any) error {
	return &fatalError{err: fmt.Errorf(format, args...)}
}

func ledgerFailure(format string, args ...any) error {
	return &fatalError{err: fmt.Errorf(format, args...), ledger: true}
}

// execution is the state of one Run call.
type execution struct {
	o         *Orchestrator
	formula   formula.WorkflowFormula
	run       *run.WorkflowRun
	learnings string
	looped    bool
}

// Run executes workflow for task. An unknown workflow fails before anything
// is written. Agent and step failures end in a failed run returned with a
// nil error; the error return is reserved for ledger and snapshot failures.
func (o *Orchestrator) Run(ctx context.Context, workflow, task string) (*run.WorkflowRun, error) {
	f, err := o.opts.Formulas.Lookup(workflow)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := o.opts.Adapter.Close(); cerr != nil {
			log.Printf("warning: closing agent adapter: %v", cerr)
		}
	}()

	now := o.opts.Now()
	r := &run.WorkflowRun{
		ID:            o.opts.NewID(),
		Workflow:      f.Name,
		Task:          task,
		Status:        run.StatusPlanning,
		Progress:      []string{},
		MaxIterations: o.opts.MaxIterations,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	r.Branch = o.branch(r.ID)

	x := &execution{o: o, formula: f, run: r, learnings: o.opts.Store.Learnings()}
	out := o.opts.Output
	writef(out, "▶ run %s: %s %q\n", r.ID, f.Name, task)

	if err := o.opts.Recorder.Record(ledger.RunStart(r.ID, f.Name, task, r.Branch)); err != nil {
		return r, ledgerFailure("record run_start: %w", err)
	}
	if err := x.save(); err != nil {
		return r, x.abort(err)
	}

	var runErr error
	for _, step := range f.Steps {
		if runErr != nil && !step.Always {
			writef(out, "  ⊘ skipping %s\n", step.ID)
			continue
		}
		if runErr == nil && o.opts.Store.StopRequested(r.ID) {
			runErr = ErrStopped
			writef(out, "  ■ stop requested before %s\n", step.ID)
			if !step.Always {
				continue
			}
		}

		stepErr := x.step(ctx, step)
		var fe *fatalError
		if errors.As(stepErr, &fe) {
			return r, x.abort(stepErr)
		}
		if stepErr != nil {
			if runErr == nil {
				runErr = fmt.Errorf("step %s: %w", step.ID, stepErr)
			} else {
				log.Printf("warning: step %s after failure: %v", step.ID, stepErr)
			}
		}
		if err := x.save(); err != nil {
			return r, x.abort(err)
		}
	}

	return r, x.finish(runErr)
}

// step runs one step bracketed by step_start and step_complete.
func (x *execution) step(ctx context.Context, step formula.WorkflowStep) error {
	o, r := x.o, x.run
	if err := o.opts.Recorder.Record(ledger.StepStart(r.ID, step.ID, step.Agent, step.Kind.String())); err != nil {
		return ledgerFailure("record step_start: %w", err)
	}
	writef(o.opts.Output, "● %s (%s, %s)\n", step.ID, step.Kind, step.Agent)

	start := o.opts.Now()
	var err error
	switch step.Kind {
	case formula.KindPlan:
		err = x.plan(ctx, step)
	case formula.KindLoop:
		err = x.loop(ctx, step)
	case formula.KindLearnings:
		err = x.learn(ctx, step)
	default:
		err = x.single(ctx, step)
	}
	elapsed := o.opts.Now().Sub(start)

	var fe *fatalError
	if errors.As(err, &fe) {
		return err
	}
	status, msg := "done", ""
	if err != nil {
		status, msg = "failed", err.Error()
		writef(o.opts.Output, "  ✗ %s failed: %s\n", step.ID, textutil.FirstLine(msg))
	} else {
		writef(o.opts.Output, "  ✓ %s done\n", step.ID)
	}
	if rerr := o.opts.Recorder.Record(ledger.StepComplete(r.ID, step.ID, status, elapsed, msg)); rerr != nil {
		return ledgerFailure("record step_complete: %w", rerr)
	}
	return err
}

func (x *execution) plan(ctx context.Context, step formula.WorkflowStep) error {
	r := x.run
	output, err := x.exec(ctx, step.ID, step.Agent, PlanPrompt(r.Task))
	if err != nil {
		return err
	}
	stories, err := story.Parse(output)
	if err != nil {
		var pe *story.ParseError
		if errors.As(err, &pe) {
			r.PlanOutput = textutil.Truncate(pe.Raw, MaxPlanOutputWidth)
		}
		return err
	}
	// The loop step applies its own budget again when it starts.
	maxRetries := 0
	if loop, ok := x.formula.LoopStep(); ok {
		maxRetries = loop.MaxRetries
	}
	for i := range stories {
		stories[i].MaxRetries = maxRetries
	}
	r.Stories = stories
	r.AddProgress(fmt.Sprintf("planned %d stories", len(stories)))
	return nil
}

func (x *execution) loop(ctx context.Context, step formula.WorkflowStep) error {
	o, r := x.o, x.run
	x.looped = true
	x.advance(run.StatusRunning)

	cfg := ralph.Config{
		RunID:       r.ID,
		StepID:      step.ID,
		Implementer: step.Agent,
		Verifier:    step.Verifier,
		MaxRetries:  step.MaxRetries,
		WorkDir:     o.opts.WorkDir,
		Adapter:     o.opts.Adapter,
		Recorder:    o.opts.Recorder,
		Prepare:     x.prepare,
		Stopped:     func() bool { return o.opts.Store.StopRequested(r.ID) },
		Output:      o.opts.Output,
		Now:         o.opts.Now,
	}
	if o.opts.Commit && o.opts.Git != nil {
		cfg.Committer = o.opts.Git
	}

	res, err := ralph.Loop(ctx, cfg, r)
	if err != nil {
		return &fatalError{err: err, ledger: true}
	}
	if res.Success() {
		return nil
	}
	switch res.StopReason {
	case ralph.StopRequested:
		return ErrStopped
	case ralph.StopContextCancelled:
		return fmt.Errorf("interrupted: %w", context.Cause(ctx))
	default:
		return fmt.Errorf("%d stories failed, %d not finished (%s)", res.Failed, res.Remaining, res.StopReason)
	}
}

func (x *execution) single(ctx context.Context, step formula.WorkflowStep) error {
	r := x.run
	if x.looped {
		x.advance(run.StatusVerifying)
	} else {
		x.advance(run.StatusRunning)
	}
	output, err := x.exec(ctx, step.ID, step.Agent, SinglePrompt(step.ID, r))
	if err != nil {
		return err
	}
	r.AddProgress(fmt.Sprintf("%s: %s", step.ID, textutil.Truncate(textutil.FirstLine(output), 200)))
	return nil
}

func (x *execution) learn(ctx context.Context, step formula.WorkflowStep) error {
	o, r := x.o, x.run
	output, err := x.exec(ctx, step.ID, step.Agent, LearningsPrompt(r))
	if err != nil {
		return err
	}
	content := strings.TrimSpace(output)
	if content == "" {
		r.AddProgress(step.ID + ": no learnings")
		return nil
	}
	r.Learnings = append(r.Learnings, content)
	r.AddProgress(step.ID + ": " + textutil.Truncate(textutil.FirstLine(content), 200))
	if err := o.opts.Recorder.Record(ledger.Learning(r.ID, step.ID, textutil.Truncate(content, MaxLearningWidth))); err != nil {
		return ledgerFailure("record learning: %w", err)
	}
	if err := o.opts.Store.AppendLearnings(r.ID, content); err != nil {
		log.Printf("warning: save learnings for %s: %v", r.ID, err)
	}
	return nil
}

// exec runs one agent call outside the story loop.
func (x *execution) exec(ctx context.Context, stepID, agentName, prompt string) (string, error) {
	o := x.o
	ec := agent.ExecContext{
		Prompt:  prompt,
		WorkDir: o.opts.WorkDir,
		RunID:   x.run.ID,
		StepID:  stepID,
	}
	x.prepare(agentName, &ec)
	res, err := o.opts.Adapter.Exec(ctx, agentName, ec)
	if err != nil {
		return "", err
	}
	if res.Outcome == agent.OutcomeDegraded {
		writef(o.opts.Output, "  ⚠ %s returned partial output\n", agentName)
	}
	return res.Output, nil
}

// prepare adds the agent's instructions, steering context and the
// accumulated learnings.
func (x *execution) prepare(agentName string, ec *agent.ExecContext) {
	o := x.o
	if def, ok := o.opts.Agents[agentName]; ok {
		ec.Instructions = def.Prompt
	}
	if o.opts.Steering != nil {
		files, err := o.opts.Steering.Resolve(agentName)
		if err != nil {
			log.Printf("warning: steering for %s: %v", agentName, err)
		}
		ec.ContextFiles = files
	}
	ec.Learnings = x.learnings
}

// advance moves the run forward. A loop step declared after a verifying
// step keeps the run in verifying.
func (x *execution) advance(next run.Status) {
	_ = x.run.Advance(next)
}

func (x *execution) save() error {
	x.run.UpdatedAt = x.o.opts.Now()
	if err := x.o.opts.Store.SaveRun(x.run); err != nil {
		return fatal("save run snapshot: %w", err)
	}
	return nil
}

// finish settles the final status, writes the last snapshot and run_complete.
func (x *execution) finish(runErr error) error {
	o, r := x.o, x.run
	final := run.StatusDone
	if runErr != nil || !story.AllDone(r.Stories) {
		final = run.StatusFailed
	}
	if runErr != nil {
		r.Error = textutil.FirstLine(runErr.Error())
		r.AddProgress("failed: " + r.Error)
	} else if final == run.StatusFailed {
		r.Error = "not every story is done"
		r.AddProgress("failed: " + r.Error)
	}
	if err := r.Advance(final); err != nil {
		return x.abort(fatal("finish run: %w", err))
	}
	r.CompletedAt = o.opts.Now()
	if err := x.save(); err != nil {
		return x.abort(err)
	}
	return x.complete()
}

// abort ends a run cut short by cause. Unless the ledger itself failed, the
// run is marked failed, saved once more if possible and closed with
// run_complete. cause is returned.
func (x *execution) abort(cause error) error {
	var fe *fatalError
	if errors.As(cause, &fe) && fe.ledger {
		return cause
	}
	o, r := x.o, x.run
	if !r.Status.Terminal() {
		r.Status = run.StatusFailed
		r.Error = textutil.FirstLine(cause.Error())
		r.AddProgress("failed: " + r.Error)
		r.CompletedAt = o.opts.Now()
	}
	r.UpdatedAt = o.opts.Now()
	if err := o.opts.Store.SaveRun(r); err != nil {
		log.Printf("warning: final snapshot for %s: %v", r.ID, err)
	}
	if err := x.complete(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// complete appends run_complete and clears the stop marker.
func (x *execution) complete() error {
	o, r := x.o, x.run
	counts := r.Counts()
	if err := o.opts.Recorder.Record(ledger.RunComplete(r.ID, string(r.Status), counts.Done, counts.Total(), r.Error)); err != nil {
		return ledgerFailure("record run_complete: %w", err)
	}
	if err := o.opts.Store.ClearStop(r.ID); err != nil {
		log.Printf("warning: clearing stop marker for %s: %v", r.ID, err)
	}
	writef(o.opts.Output, "■ run %s %s (%d/%d stories done)\n", r.ID, r.Status, counts.Done, counts.Total())
	return nil
}

// branch creates the run branch, falling back to the current branch.
func (o *Orchestrator) branch(runID string) string {
	if o.opts.Git == nil {
		return ""
	}
	name := vcs.BranchName(o.opts.BranchPrefix, runID)
	if err := o.opts.Git.CreateBranch(name); err != nil {
		log.Printf("warning: create branch %s: %v", name, err)
		current, cerr := o.opts.Git.CurrentBranch()
		if cerr != nil {
			log.Printf("warning: current branch: %v", cerr)
			return ""
		}
		return current
	}
	return name
}

// writef writes formatted output, ignoring errors.
func writef(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
