package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os/exec"
	"strings"
	"time"

	"devflow/internal/pty"
	"devflow/internal/textutil"
)

// AgentToken in an argument is replaced with the agent name.
const AgentToken = "{agent}"

// versionCheckTimeout bounds the --version call made by Validate.
const versionCheckTimeout = 5 * time.Second

// SpawnConfig configures a SpawnAdapter.
type SpawnConfig struct {
	Command          string
	Args             []string
	Timeout          time.Duration
	MinPartialOutput int
}

// CommandFactory builds an *exec.Cmd for the given context, working directory,
// binary and arguments. Tests inject a factory that invokes a helper process.
type CommandFactory func(ctx context.Context, workDir, name string, args ...string) *exec.Cmd

func defaultCommandFactory(ctx context.Context, workDir, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	return cmd
}

// SpawnAdapter launches a fresh process for every call. The composed prompt
// is written to stdin and stdout is the result text.
type SpawnAdapter struct {
	cfg            SpawnConfig
	commandFactory CommandFactory
	stdoutWriter   io.Writer
	lookPath       func(string) (string, error)
	tty            bool
}

var _ Adapter = (*SpawnAdapter)(nil)

// SpawnOption configures a SpawnAdapter.
type SpawnOption func(*SpawnAdapter)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) SpawnOption {
	return func(a *SpawnAdapter) { a.cfg.Timeout = d }
}

// WithCommandFactory injects a custom command factory (used in tests).
func WithCommandFactory(f CommandFactory) SpawnOption {
	return func(a *SpawnAdapter) { a.commandFactory = f }
}

// WithStdoutWriter sets the live writer agent output is tee'd to. The
// default discards it.
func WithStdoutWriter(w io.Writer) SpawnOption {
	return func(a *SpawnAdapter) { a.stdoutWriter = w }
}

// WithTTY captures output through a pseudo-terminal.
func WithTTY() SpawnOption {
	return func(a *SpawnAdapter) { a.tty = true }
}

// WithLookPath overrides the binary lookup used by Validate.
func WithLookPath(f func(string) (string, error)) SpawnOption {
	return func(a *SpawnAdapter) { a.lookPath = f }
}

// NewSpawnAdapter returns a SpawnAdapter with defaults applied.
func NewSpawnAdapter(cfg SpawnConfig, opts ...SpawnOption) *SpawnAdapter {
	a := &SpawnAdapter{
		cfg:            cfg,
		commandFactory: defaultCommandFactory,
		stdoutWriter:   io.Discard,
		lookPath:       exec.LookPath,
	}
	for _, o := range opts {
		o(a)
	}
	if a.cfg.Timeout <= 0 {
		a.cfg.Timeout = DefaultTimeout
	}
	if a.cfg.MinPartialOutput <= 0 {
		a.cfg.MinPartialOutput = DefaultMinPartialOutput
	}
	return a
}

// Validate implements Adapter.
func (a *SpawnAdapter) Validate(ctx context.Context) Capability {
	if _, err := a.lookPath(a.cfg.Command); err != nil {
		return Capability{Err: fmt.Errorf("find %s: %w", a.cfg.Command, err)}
	}

	ctx, cancel := context.WithTimeout(ctx, versionCheckTimeout)
	defer cancel()
	cmd := a.commandFactory(ctx, "", a.cfg.Command, "--version")
	out, err := cmd.Output()
	if err != nil {
		// Installed but --version failed; the version stays unknown.
		return Capability{Installed: true, Err: fmt.Errorf("%s --version: %w", a.cfg.Command, err)}
	}
	return Capability{Installed: true, Version: textutil.FirstLine(string(out))}
}

// Exec implements Adapter. A timeout or non-zero exit with enough output is
// reported as OutcomeDegraded with a nil error.
func (a *SpawnAdapter) Exec(ctx context.Context, agentName string, ec ExecContext) (*Result, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	cmd := a.commandFactory(ctx, ec.WorkDir, a.cfg.Command, a.args(agentName)...)
	cmd.Stdin = strings.NewReader(ComposePrompt(ec))
	cmd.WaitDelay = time.Second

	var stderrBuf bytes.Buffer
	start := time.Now()
	var output string
	var err error
	if a.tty {
		output, err = pty.Capture(cmd, a.stdoutWriter, pty.DefaultSize)
	} else {
		var stdoutBuf bytes.Buffer
		cmd.Stdout = io.MultiWriter(&stdoutBuf, a.stdoutWriter)
		cmd.Stderr = &stderrBuf
		err = cmd.Run()
		output = stdoutBuf.String()
	}
	duration := time.Since(start)

	if err == nil {
		return &Result{Output: output, Duration: duration, Outcome: OutcomeSuccess}, nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	isExit := errors.As(err, &exitErr)
	if isExit {
		exitCode = exitErr.ExitCode()
	}

	var reason Reason
	switch {
	case parent.Err() != nil:
		return fail(agentName, ReasonCanceled, parent.Err(), output, exitCode, duration)
	case ctx.Err() == context.DeadlineExceeded:
		reason = ReasonTimeout
		err = fmt.Errorf("no exit after %s", a.cfg.Timeout)
	case isExit:
		reason = ReasonExit
		if msg := textutil.FirstLine(stderrBuf.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission):
		return fail(agentName, ReasonMissing, err, "", -1, duration)
	default:
		return fail(agentName, ReasonExit, fmt.Errorf("failed to run agent: %w", err), output, exitCode, duration)
	}

	if acceptPartial(output, a.cfg.MinPartialOutput) {
		log.Printf("warning: agent %s %s (%v); accepting %d bytes of partial output", agentName, reason, err, len(output))
		return &Result{Output: output, ExitCode: exitCode, Duration: duration, Outcome: OutcomeDegraded}, nil
	}
	return fail(agentName, reason, err, output, exitCode, duration)
}

// Close implements Adapter. Spawned processes never outlive a call.
func (a *SpawnAdapter) Close() error { return nil }

func (a *SpawnAdapter) args(agentName string) []string {
	out := make([]string, len(a.cfg.Args))
	for i, arg := range a.cfg.Args {
		out[i] = strings.ReplaceAll(arg, AgentToken, agentName)
	}
	return out
}
