// Package pty captures a command's output through a pseudo-terminal. Some
// agent CLIs buffer or suppress output unless stdout is a terminal.
package pty

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/creack/pty"
)

// Size represents terminal dimensions in rows and columns.
type Size struct {
	Rows uint16
	Cols uint16
}

// DefaultSize is wide enough that agents rarely wrap lines.
var DefaultSize = Size{Rows: 50, Cols: 240}

// drainTimeout bounds how long output is drained after the command exits.
// A grandchild holding the terminal open would otherwise block forever.
const drainTimeout = 2 * time.Second

// Capture runs cmd with stdout and stderr attached to a new pseudo-terminal
// and returns the normalized output. cmd.Stdin is left to the caller. Raw
// output is copied to live as it arrives when live is non-nil.
func Capture(cmd *exec.Cmd, live io.Writer, size Size) (string, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return "", fmt.Errorf("open pty: %w", err)
	}
	defer ptmx.Close()

	if size.Rows > 0 && size.Cols > 0 {
		_ = pty.Setsize(ptmx, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
	}

	cmd.Stdout = tty
	cmd.Stderr = tty
	if err := cmd.Start(); err != nil {
		tty.Close()
		return "", err
	}
	// The child has its own copy; closing ours lets reads end with EIO.
	tty.Close()

	var buf bytes.Buffer
	var w io.Writer = &buf
	if live != nil {
		w = io.MultiWriter(&buf, live)
	}
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(w, ptmx)
		close(done)
	}()

	waitErr := cmd.Wait()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		ptmx.Close()
		<-done
	}
	return Normalize(buf.String()), waitErr
}

// Normalize converts terminal output to plain text: CRLF becomes LF and
// escape sequences are removed.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return ansi.Strip(s)
}
