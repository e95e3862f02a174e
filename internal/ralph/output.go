package ralph

import (
	"fmt"
	"io"
	"strings"
	"time"

	"devflow/internal/textutil"
)

// writef writes formatted output, ignoring errors.
// Use for non-critical output where write failures are acceptable.
func writef(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}

// formatDuration formats a duration in a human-readable way (e.g., "2m34s", "1h12m").
func formatDuration(d time.Duration) string {
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

func firstLine(s string) string {
	return textutil.Truncate(textutil.FirstLine(s), 100)
}

// formatSummary formats the end-of-loop summary.
func formatSummary(res *LoopResult) string {
	var lines []string
	lines = append(lines, "Story loop complete:")

	if res.Done > 0 {
		lines = append(lines, fmt.Sprintf("  ✓ %d stories done", res.Done))
	}
	if res.Failed > 0 {
		lines = append(lines, fmt.Sprintf("  ✗ %d stories failed", res.Failed))
	}
	if res.Remaining > 0 {
		lines = append(lines, fmt.Sprintf("  ○ %d stories remaining (%s)", res.Remaining, res.StopReason))
	}

	lines = append(lines, fmt.Sprintf("  Attempts: %d", res.Iterations))
	lines = append(lines, fmt.Sprintf("  Duration: %s", formatDuration(res.Duration)))

	return strings.Join(lines, "\n")
}
