package agent

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ExecFunc answers one agent call.
type ExecFunc func(ctx context.Context, agentName string, ec ExecContext) (string, error)

// FuncAdapter is an Adapter backed by a function. It is used for dry runs
// and tests. A nil Fn answers every call with an empty string.
type FuncAdapter struct {
	Fn ExecFunc

	mu     sync.Mutex
	calls  int
	closes int
}

var _ Adapter = (*FuncAdapter)(nil)

// Validate implements Adapter.
func (f *FuncAdapter) Validate(context.Context) Capability {
	return Capability{Installed: true, Version: "func"}
}

// Exec implements Adapter. An error returned by Fn becomes a failed call;
// an *ExecError is passed through unchanged.
func (f *FuncAdapter) Exec(ctx context.Context, agentName string, ec ExecContext) (*Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fail(agentName, ReasonCanceled, err, "", -1, 0)
	}

	start := time.Now()
	var out string
	var err error
	if f.Fn != nil {
		out, err = f.Fn(ctx, agentName, ec)
	}
	d := time.Since(start)

	if err != nil {
		var ee *ExecError
		if errors.As(err, &ee) {
			return &Result{Output: out, ExitCode: 1, Duration: d, Outcome: OutcomeFailure}, err
		}
		return fail(agentName, ReasonExit, err, out, 1, d)
	}
	return &Result{Output: out, Duration: d, Outcome: OutcomeSuccess}, nil
}

// Close implements Adapter.
func (f *FuncAdapter) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

// Calls returns the number of Exec calls made.
func (f *FuncAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Closes returns the number of Close calls made.
func (f *FuncAdapter) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}
