package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"sync"
	"time"
)

// ProtocolVersion is sent with initialize.
const ProtocolVersion = 1

// SessionConfig configures a SessionAdapter.
type SessionConfig struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// Dialer opens the byte stream to a session agent. The default starts
// Command as a child process and talks over its stdin and stdout.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// SessionAdapter keeps one long-lived agent process and opens a fresh
// session on it for every call, so no conversation survives between calls.
// Concurrent calls are safe; each gets its own session.
type SessionAdapter struct {
	cfg          SessionConfig
	dial         Dialer
	stdoutWriter io.Writer
	lookPath     func(string) (string, error)
	clientName   string

	mu        sync.Mutex // guards client lifecycle
	client    *rpcClient
	agentInfo agentInfo
}

var _ Adapter = (*SessionAdapter)(nil)

// SessionOption configures a SessionAdapter.
type SessionOption func(*SessionAdapter)

// WithDialer replaces process startup (used in tests).
func WithDialer(d Dialer) SessionOption {
	return func(a *SessionAdapter) { a.dial = d }
}

// WithSessionOutput sets the live writer streamed text is copied to.
func WithSessionOutput(w io.Writer) SessionOption {
	return func(a *SessionAdapter) { a.stdoutWriter = w }
}

// WithSessionTimeout overrides the per-call timeout.
func WithSessionTimeout(d time.Duration) SessionOption {
	return func(a *SessionAdapter) { a.cfg.Timeout = d }
}

// NewSessionAdapter returns a SessionAdapter. The child is started lazily by
// the first Exec.
func NewSessionAdapter(cfg SessionConfig, opts ...SessionOption) *SessionAdapter {
	a := &SessionAdapter{
		cfg:        cfg,
		lookPath:   exec.LookPath,
		clientName: "devflow",
	}
	a.dial = a.spawn
	for _, o := range opts {
		o(a)
	}
	if a.cfg.Timeout <= 0 {
		a.cfg.Timeout = DefaultTimeout
	}
	return a
}

type initializeParams struct {
	ProtocolVersion int        `json:"protocolVersion"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type clientInfo struct {
	Name string `json:"name"`
}

type agentInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion int       `json:"protocolVersion"`
	AgentInfo       agentInfo `json:"agentInfo"`
}

type newSessionParams struct {
	Cwd string `json:"cwd,omitempty"`
}

type newSessionResult struct {
	SessionID string `json:"sessionId"`
}

type setModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

type promptParams struct {
	SessionID string `json:"sessionId"`
	Prompt    string `json:"prompt"`
}

// Validate implements Adapter. It only checks the binary; starting the
// session process is left to Exec.
func (a *SessionAdapter) Validate(context.Context) Capability {
	if a.cfg.Command == "" {
		// A custom dialer needs no binary.
		return Capability{Installed: true}
	}
	if _, err := a.lookPath(a.cfg.Command); err != nil {
		return Capability{Err: fmt.Errorf("find %s: %w", a.cfg.Command, err)}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return Capability{Installed: true, Version: a.agentInfo.Version}
}

// Exec implements Adapter. The call ends when the session's turn_end
// notification arrives.
func (a *SessionAdapter) Exec(ctx context.Context, agentName string, ec ExecContext) (*Result, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	start := time.Now()

	failWith := func(err error, partial string) (*Result, error) {
		return fail(agentName, a.reason(parent, ctx, err), err, partial, -1, time.Since(start))
	}

	c, err := a.ensure(ctx)
	if err != nil {
		return failWith(err, "")
	}

	var ns newSessionResult
	if err := c.call(ctx, "session/new", newSessionParams{Cwd: ec.WorkDir}, &ns); err != nil {
		return failWith(err, "")
	}
	if ns.SessionID == "" {
		return failWith(errors.New("session/new returned no session id"), "")
	}
	if err := c.call(ctx, "session/set_mode", setModeParams{SessionID: ns.SessionID, ModeID: agentName}, nil); err != nil {
		return failWith(err, "")
	}

	l := c.listen(ns.SessionID, a.stdoutWriter)
	defer c.unlisten(ns.SessionID)

	id, resp, err := c.start("session/prompt", promptParams{SessionID: ns.SessionID, Prompt: ComposePrompt(ec)})
	if err != nil {
		return failWith(err, "")
	}
	defer c.forget(id)

	for {
		select {
		case <-l.ended:
			return &Result{Output: l.String(), Duration: time.Since(start), Outcome: OutcomeSuccess}, nil
		case msg := <-resp:
			if msg.Error != nil {
				return failWith(fmt.Errorf("session/prompt: %w", msg.Error), l.String())
			}
			// The response may precede the turn_end notification.
			resp = nil
		case <-c.done:
			// Drain a turn_end that raced the close.
			select {
			case <-l.ended:
				return &Result{Output: l.String(), Duration: time.Since(start), Outcome: OutcomeSuccess}, nil
			default:
			}
			return failWith(errChannelClosed, l.String())
		case <-ctx.Done():
			return failWith(ctx.Err(), l.String())
		}
	}
}

// Close implements Adapter. It terminates the child; a later Exec starts a
// new one.
func (a *SessionAdapter) Close() error {
	a.mu.Lock()
	c := a.client
	a.client = nil
	a.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.close()
}

// ensure returns a live, initialized client, starting one if needed.
func (a *SessionAdapter) ensure(ctx context.Context) (*rpcClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil && !a.client.isDone() {
		return a.client, nil
	}

	rwc, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	c := newRPCClient(rwc)

	var res initializeResult
	params := initializeParams{ProtocolVersion: ProtocolVersion, ClientInfo: clientInfo{Name: a.clientName}}
	if err := c.call(ctx, "initialize", params, &res); err != nil {
		_ = c.close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	a.client = c
	a.agentInfo = res.AgentInfo
	return c, nil
}

func (a *SessionAdapter) reason(parent, ctx context.Context, err error) Reason {
	var eerr *exec.Error
	switch {
	case parent.Err() != nil:
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		return ReasonTimeout
	case errors.Is(err, errChannelClosed):
		return ReasonChannelClosed
	case errors.As(err, &eerr) || errors.Is(err, fs.ErrNotExist):
		return ReasonMissing
	default:
		return ReasonProtocol
	}
}

// spawn is the default Dialer.
func (a *SessionAdapter) spawn(context.Context) (io.ReadWriteCloser, error) {
	// The child outlives the dialing call, so it is not tied to its context.
	cmd := exec.Command(a.cfg.Command, a.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = a.stdoutWriter
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &procConn{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// procConn joins a child's stdin and stdout into one stream.
type procConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	once   sync.Once
}

func (p *procConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *procConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *procConn) Close() error {
	p.once.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_ = p.cmd.Wait()
	})
	return nil
}
