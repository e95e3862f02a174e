// Package vcs makes the best-effort git calls of a run: one branch per run
// and one commit per finished story. Callers log failures and carry on.
package vcs

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes git in dir with args and returns stdout.
type Runner func(dir string, args ...string) ([]byte, error)

// Run is the default Runner. Stderr is folded into the error.
func Run(dir string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), msg, err)
		}
		return out, fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// Git operates on the repository at Dir.
type Git struct {
	Dir string
	Run Runner
}

// New returns a Git for dir using the default runner.
func New(dir string) *Git {
	return &Git{Dir: dir, Run: Run}
}

func (g *Git) run(args ...string) ([]byte, error) {
	run := g.Run
	if run == nil {
		run = Run
	}
	return run(g.Dir, args...)
}

// CurrentBranch returns the checked out branch name.
func (g *Git) CurrentBranch() (string, error) {
	out, err := g.run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// CreateBranch creates name from HEAD and checks it out.
func (g *Git) CreateBranch(name string) error {
	_, err := g.run("checkout", "-b", name)
	return err
}

// Commit stages everything and commits it. Empty commits are allowed so a
// story that changed nothing still leaves a marker in history.
func (g *Git) Commit(message string) error {
	if _, err := g.run("add", "-A"); err != nil {
		return err
	}
	_, err := g.run("commit", "--allow-empty", "-m", message)
	return err
}

// CommitMessage returns the message for a finished story.
func CommitMessage(storyID, title string) string {
	return fmt.Sprintf("feat(%s): %s", storyID, title)
}

// BranchName returns the branch for a run.
func BranchName(prefix, runID string) string {
	return prefix + runID
}
