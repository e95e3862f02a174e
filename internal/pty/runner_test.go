package pty

import (
	"bytes"
	"os/exec"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	in := "\x1b[1;32mok\x1b[0m line one\r\nline two\r\n"
	assert.Equal(t, "ok line one\nline two\n", Normalize(in))
}

func TestCapture_SeesTerminal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pseudo-terminals are unix only")
	}
	// test -t 1 succeeds only when stdout is a terminal.
	cmd := exec.Command("sh", "-c", `if [ -t 1 ]; then printf 'tty\n\033[31mred\033[0m\n'; else echo pipe; fi`)
	cmd.Stdin = strings.NewReader("")

	var live bytes.Buffer
	out, err := Capture(cmd, &live, DefaultSize)
	require.NoError(t, err)
	assert.Equal(t, "tty\nred\n", out)
	assert.Contains(t, live.String(), "\x1b[31m", "live output is passed through raw")
}

func TestCapture_ExitError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pseudo-terminals are unix only")
	}
	cmd := exec.Command("sh", "-c", "echo partial; exit 3")
	out, err := Capture(cmd, nil, Size{})
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
	assert.Equal(t, "partial\n", out)
}
