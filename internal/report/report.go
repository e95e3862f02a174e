// Package report renders runs, ledger events and run snapshots for the
// terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"devflow/internal/ledger"
	"devflow/internal/run"
	"devflow/internal/textutil"
)

const (
	idWidth     = 24
	statusWidth = 9
	taskWidth   = 48
	lineWidth   = 100

	planOutputLines = 10
)

const timeLayout = "2006-01-02 15:04:05"

// Runs writes one line per run summary, newest last.
func Runs(w io.Writer, runs []ledger.RunSummary) {
	st := DefaultStyles()
	if len(runs) == 0 {
		writeln(w, st.Muted.Render("no runs recorded"))
		return
	}
	writeln(w, st.Title.Render(fmt.Sprintf("%s %s %-10s %s  %s",
		textutil.PadRight("RUN", idWidth),
		textutil.PadRight("STATUS", statusWidth+2),
		"STORIES", textutil.PadRight("WORKFLOW", 10), "TASK")))
	for _, r := range runs {
		status := st.StatusStyle(r.Status).Render(StatusIcon(r.Status) + " " + textutil.PadRight(r.Status, statusWidth))
		stories := fmt.Sprintf("%d/%d", r.StoriesDone, r.StoriesTotal)
		writeln(w, fmt.Sprintf("%s %s %-10s %s  %s",
			st.ID.Render(textutil.PadRight(r.RunID, idWidth)),
			status,
			stories,
			textutil.PadRight(r.Workflow, 10),
			textutil.Truncate(textutil.FirstLine(r.Task), taskWidth)))
		if r.Error != "" {
			writeln(w, "  "+st.Error.Render(textutil.Truncate(r.Error, lineWidth)))
		}
	}
}

// Events writes one line per ledger event.
func Events(w io.Writer, events []ledger.Event) {
	st := DefaultStyles()
	if len(events) == 0 {
		writeln(w, st.Muted.Render("no events"))
		return
	}
	for _, e := range events {
		ts := st.Duration.Render(e.Timestamp.Local().Format(timeLayout))
		writeln(w, fmt.Sprintf("%s %s %s", ts, textutil.PadRight(string(e.Type), 14), describe(st, e)))
	}
}

func describe(st Styles, e ledger.Event) string {
	switch e.Type {
	case ledger.EventRunStart:
		return fmt.Sprintf("%s %s %q", st.ID.Render(e.RunID), e.Workflow, textutil.Truncate(textutil.FirstLine(e.Task), taskWidth))
	case ledger.EventRunComplete:
		s := st.StatusStyle(e.Status).Render(e.Status) + fmt.Sprintf(" %d/%d stories", e.StoriesDone, e.StoriesTotal)
		if e.Error != "" {
			s += ": " + st.Error.Render(textutil.Truncate(e.Error, lineWidth))
		}
		return s
	case ledger.EventStepStart:
		return fmt.Sprintf("%s (%s) %s", e.StepID, e.Kind, st.Subtitle.Render(e.Agent))
	case ledger.EventStepComplete:
		s := fmt.Sprintf("%s %s %s", e.StepID, st.StatusStyle(e.Status).Render(e.Status),
			st.Duration.Render(formatDuration(time.Duration(e.DurationMs)*time.Millisecond)))
		if e.Error != "" {
			s += ": " + textutil.Truncate(textutil.FirstLine(e.Error), lineWidth)
		}
		return s
	case ledger.EventLoopStart:
		return fmt.Sprintf("%s attempt %d (iteration %d) %s", st.ID.Render(e.StoryID), e.Attempt, e.Iteration, e.Title)
	case ledger.EventLoopPass:
		return fmt.Sprintf("%s %s attempt %d", st.ID.Render(e.StoryID), st.Success.Render("pass"), e.Attempt)
	case ledger.EventLoopFail:
		return fmt.Sprintf("%s %s attempt %d: %s", st.ID.Render(e.StoryID), st.Error.Render("fail"), e.Attempt,
			textutil.Truncate(textutil.FirstLine(e.Feedback), lineWidth))
	case ledger.EventLoopExhausted:
		return fmt.Sprintf("%s %s after %d attempts", st.ID.Render(e.StoryID), st.Warning.Render("exhausted"), e.Attempt)
	case ledger.EventLearning:
		return textutil.Truncate(textutil.FirstLine(e.Content), lineWidth)
	default:
		return ""
	}
}

// Run writes a run snapshot: header, story checklist, learnings and the
// progress log.
func Run(w io.Writer, r *run.WorkflowRun) {
	st := DefaultStyles()
	status := string(r.Status)

	var head strings.Builder
	head.WriteString(st.Title.Render("Run "+r.ID) + "\n")
	fmt.Fprintf(&head, "Workflow:  %s\n", r.Workflow)
	fmt.Fprintf(&head, "Task:      %s\n", textutil.Truncate(textutil.FirstLine(r.Task), lineWidth))
	fmt.Fprintf(&head, "Status:    %s\n", st.StatusStyle(status).Render(StatusIcon(status)+" "+status))
	if r.Branch != "" {
		fmt.Fprintf(&head, "Branch:    %s\n", r.Branch)
	}
	fmt.Fprintf(&head, "Iteration: %d/%d\n", r.Iteration, r.MaxIterations)
	fmt.Fprintf(&head, "Started:   %s", r.StartedAt.Local().Format(timeLayout))
	if !r.CompletedAt.IsZero() {
		fmt.Fprintf(&head, " (took %s)", formatDuration(r.CompletedAt.Sub(r.StartedAt)))
	}
	if r.Error != "" {
		head.WriteString("\n" + st.Error.Render("Error:     "+r.Error))
	}
	writeln(w, st.Border.Render(head.String()))

	counts := r.Counts()
	writeln(w, "")
	writeln(w, st.Subtitle.Render(fmt.Sprintf("Stories (%d/%d done)", counts.Done, counts.Total())))
	if len(r.Stories) == 0 {
		writeln(w, st.Muted.Render("  (no stories)"))
	}
	for _, s := range r.Stories {
		ss := string(s.Status)
		line := fmt.Sprintf("  %s %s %s", st.StatusStyle(ss).Render(StatusIcon(ss)), st.ID.Render(s.ID), s.Title)
		if s.RetryCount > 0 {
			line += st.Muted.Render(fmt.Sprintf(" (retries %d/%d)", s.RetryCount, s.MaxRetries))
		}
		writeln(w, line)
		if s.VerifyFeedback != "" && s.Status != "done" {
			writeln(w, "      "+st.Warning.Render(textutil.Truncate(textutil.FirstLine(s.VerifyFeedback), lineWidth)))
		}
	}

	if r.PlanOutput != "" {
		writeln(w, "")
		writeln(w, st.Subtitle.Render("Planner output"))
		lines := strings.Split(strings.TrimSpace(r.PlanOutput), "\n")
		for i, line := range lines {
			if i == planOutputLines {
				writeln(w, st.Muted.Render(fmt.Sprintf("  ... %d more lines (devflow show --json)", len(lines)-i)))
				break
			}
			writeln(w, "  "+textutil.Truncate(line, lineWidth))
		}
	}

	if len(r.Learnings) > 0 {
		writeln(w, "")
		writeln(w, st.Subtitle.Render("Learnings"))
		for _, l := range r.Learnings {
			for _, line := range strings.Split(strings.TrimSpace(l), "\n") {
				writeln(w, "  "+line)
			}
		}
	}

	if len(r.Progress) > 0 {
		writeln(w, "")
		writeln(w, st.Subtitle.Render("Progress"))
		for _, p := range r.Progress {
			writeln(w, "  "+st.Muted.Render("-")+" "+p)
		}
	}
}

// formatDuration formats a duration in a human-readable way (e.g., "2m34s", "1h12m").
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func writeln(w io.Writer, s string) {
	_, _ = io.WriteString(w, s+"\n")
}
