package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test-helper process
// ---------------------------------------------------------------------------
//
// Tests re-exec the test binary with a sentinel env var so the child behaves
// as a fake agent.

func TestHelperProcess(t *testing.T) {
	if os.Getenv("DF_TEST_HELPER") != "1" {
		return
	}
	args := os.Args[1:]
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	switch os.Getenv("DF_TEST_MODE") {
	case "stdin":
		data, _ := io.ReadAll(os.Stdin)
		fmt.Print(string(data))
	case "args":
		fmt.Print(strings.Join(args, " "))
	case "version":
		fmt.Println("fake-agent 1.2.3")
		fmt.Println("build abc")
	case "exit":
		n, _ := strconv.Atoi(os.Getenv("DF_OUTPUT_LEN"))
		fmt.Print(strings.Repeat("x", n))
		fmt.Fprintln(os.Stderr, "boom")
		code, _ := strconv.Atoi(os.Getenv("DF_EXIT_CODE"))
		os.Exit(code)
	case "slow":
		n, _ := strconv.Atoi(os.Getenv("DF_OUTPUT_LEN"))
		fmt.Print(strings.Repeat("y", n))
		time.Sleep(30 * time.Second)
	default:
		fmt.Fprintln(os.Stderr, "unknown DF_TEST_MODE")
		os.Exit(2)
	}
	os.Exit(0)
}

func helperFactory(mode string, envExtra ...string) CommandFactory {
	return func(ctx context.Context, workDir, _ string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=^TestHelperProcess$", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Dir = workDir
		cmd.Env = append(os.Environ(), "DF_TEST_HELPER=1", "DF_TEST_MODE="+mode)
		cmd.Env = append(cmd.Env, envExtra...)
		return cmd
	}
}

func newHelperAdapter(mode string, opts ...SpawnOption) *SpawnAdapter {
	return newHelperAdapterCfg(SpawnConfig{Command: os.Args[0]}, mode, nil, opts...)
}

func newHelperAdapterCfg(cfg SpawnConfig, mode string, env []string, opts ...SpawnOption) *SpawnAdapter {
	opts = append([]SpawnOption{WithCommandFactory(helperFactory(mode, env...)), WithTimeout(5 * time.Second)}, opts...)
	return NewSpawnAdapter(cfg, opts...)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSpawn_PromptOnStdin(t *testing.T) {
	var live bytes.Buffer
	a := newHelperAdapter("stdin", WithStdoutWriter(&live))

	ec := ExecContext{Prompt: "do the thing", WorkDir: t.TempDir(), Feedback: "tests failed"}
	res, err := a.Exec(context.Background(), "coder", ec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, ComposePrompt(ec), res.Output)
	assert.Equal(t, res.Output, live.String(), "live writer sees the same output")
	assert.Zero(t, res.ExitCode)
	assert.Positive(t, res.Duration)
}

func TestSpawn_AgentTokenInArgs(t *testing.T) {
	a := newHelperAdapterCfg(SpawnConfig{Command: os.Args[0], Args: []string{"--mode", "{agent}", "--print"}}, "args", nil)
	res, err := a.Exec(context.Background(), "reviewer", ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, "--mode reviewer --print", res.Output)
}

func TestSpawn_ExitWithShortOutputFails(t *testing.T) {
	a := newHelperAdapterCfg(SpawnConfig{Command: os.Args[0]}, "exit", []string{"DF_EXIT_CODE=3", "DF_OUTPUT_LEN=10"})
	res, err := a.Exec(context.Background(), "coder", ExecContext{})
	require.Error(t, err)

	var ee *ExecError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ReasonExit, ee.Reason)
	assert.Equal(t, "coder", ee.Agent)
	assert.Contains(t, err.Error(), "boom", "stderr is folded into the error")

	require.NotNil(t, res, "failure still returns a result")
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, strings.Repeat("x", 10), res.Output)
}

func TestSpawn_ExitWithLongOutputIsDegraded(t *testing.T) {
	a := newHelperAdapterCfg(SpawnConfig{Command: os.Args[0], MinPartialOutput: 50}, "exit", []string{"DF_EXIT_CODE=1", "DF_OUTPUT_LEN=60"})
	res, err := a.Exec(context.Background(), "coder", ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.True(t, res.OK())
	assert.Equal(t, 1, res.ExitCode)
	assert.Len(t, res.Output, 60)
}

func TestSpawn_TimeoutWithPartialOutputIsDegraded(t *testing.T) {
	a := newHelperAdapterCfg(SpawnConfig{Command: os.Args[0]}, "slow", []string{"DF_OUTPUT_LEN=300"}, WithTimeout(500*time.Millisecond))
	start := time.Now()
	res, err := a.Exec(context.Background(), "coder", ExecContext{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second, "process is killed on timeout")
	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.Equal(t, strings.Repeat("y", 300), res.Output)
}

func TestSpawn_TimeoutWithoutOutputFails(t *testing.T) {
	a := newHelperAdapterCfg(SpawnConfig{Command: os.Args[0]}, "slow", []string{"DF_OUTPUT_LEN=5"}, WithTimeout(300*time.Millisecond))
	res, err := a.Exec(context.Background(), "coder", ExecContext{})
	assert.True(t, IsReason(err, ReasonTimeout), "got %v", err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, "yyyyy", res.Output)
}

func TestSpawn_MissingBinary(t *testing.T) {
	a := NewSpawnAdapter(SpawnConfig{Command: "devflow-no-such-agent-binary"})
	res, err := a.Exec(context.Background(), "coder", ExecContext{WorkDir: t.TempDir()})
	assert.True(t, IsReason(err, ReasonMissing), "got %v", err)
	assert.Equal(t, OutcomeFailure, res.Outcome)

	capability := a.Validate(context.Background())
	assert.False(t, capability.Installed)
	assert.Error(t, capability.Err)
}

func TestSpawn_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newHelperAdapter("stdin")
	_, err := a.Exec(ctx, "coder", ExecContext{})
	assert.True(t, IsReason(err, ReasonCanceled), "got %v", err)
}

func TestSpawn_ValidateReportsVersion(t *testing.T) {
	a := newHelperAdapter("version")
	capability := a.Validate(context.Background())
	require.NoError(t, capability.Err)
	assert.True(t, capability.Installed)
	assert.Equal(t, "fake-agent 1.2.3", capability.Version)
}

func TestSpawn_TTY(t *testing.T) {
	a := newHelperAdapterCfg(SpawnConfig{Command: os.Args[0]}, "args", nil, WithTTY())
	a.cfg.Args = []string{"hello", "tty"}
	res, err := a.Exec(context.Background(), "coder", ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Contains(t, res.Output, "hello tty")
	assert.NotContains(t, res.Output, "\r")
}

func TestComposePrompt_Order(t *testing.T) {
	got := ComposePrompt(ExecContext{
		Instructions: "You are a coder.",
		ContextFiles: map[string]string{"tech": "Go 1.25", "product": "A CLI", "empty": "  "},
		Learnings:    "Run tests first.",
		Feedback:     "Missing error check.",
		Prompt:       "Implement story a.",
	})

	order := []string{"You are a coder.", "## product", "A CLI", "## tech", "Go 1.25",
		"## Learnings from previous runs", "Run tests first.",
		"## Feedback from the previous attempt", "Missing error check.", "Implement story a."}
	last := -1
	for _, s := range order {
		idx := strings.Index(got, s)
		require.GreaterOrEqual(t, idx, 0, "missing %q", s)
		assert.Greater(t, idx, last, "%q out of order", s)
		last = idx
	}
	assert.NotContains(t, got, "## empty")
}

func TestComposePrompt_PromptOnly(t *testing.T) {
	assert.Equal(t, "just this\n", ComposePrompt(ExecContext{Prompt: "just this"}))
}

func TestFuncAdapter(t *testing.T) {
	f := &FuncAdapter{Fn: func(_ context.Context, agentName string, ec ExecContext) (string, error) {
		if agentName == "broken" {
			return "", errors.New("nope")
		}
		return agentName + ":" + ec.Prompt, nil
	}}

	res, err := f.Exec(context.Background(), "coder", ExecContext{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "coder:p", res.Output)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	res, err = f.Exec(context.Background(), "broken", ExecContext{})
	assert.True(t, IsReason(err, ReasonExit))
	assert.Equal(t, OutcomeFailure, res.Outcome)

	require.NoError(t, f.Close())
	assert.Equal(t, 2, f.Calls())
	assert.Equal(t, 1, f.Closes())
	assert.True(t, f.Validate(context.Background()).Installed)
}
