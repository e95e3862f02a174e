package ralph

import (
	"fmt"
	"strings"

	"devflow/internal/story"
)

// maxProgressEntries bounds how much of the progress log is quoted back to
// the implementer.
const maxProgressEntries = 20

// ImplementPrompt renders the prompt for one implementation attempt. Prior
// verifier feedback is not included here; it travels in ExecContext.Feedback
// and is placed by agent.ComposePrompt.
func ImplementPrompt(s story.Story, stories []story.Story, progress []string) string {
	var b strings.Builder

	b.WriteString("# Story ")
	b.WriteString(s.ID)
	b.WriteString(": ")
	b.WriteString(s.Title)
	b.WriteString("\n\n")

	if s.Description != "" {
		b.WriteString(s.Description)
		b.WriteString("\n\n")
	}

	writeCriteria(&b, s.AcceptanceCriteria)

	var done []string
	remaining := 0
	for _, other := range stories {
		if other.ID == s.ID {
			continue
		}
		switch {
		case other.Status == story.StatusDone:
			done = append(done, fmt.Sprintf("- %s: %s", other.ID, other.Title))
		case other.Open():
			remaining++
		}
	}
	if len(done) > 0 {
		b.WriteString("## Already completed\n\n")
		b.WriteString(strings.Join(done, "\n"))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "%d other stories remain after this one.\n", remaining)

	if len(progress) > 0 {
		entries := progress
		if len(entries) > maxProgressEntries {
			entries = entries[len(entries)-maxProgressEntries:]
		}
		b.WriteString("\n## Progress so far\n\n")
		for _, e := range entries {
			b.WriteString("- ")
			b.WriteString(e)
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// VerifyPrompt renders the prompt asking the verifier to judge a story.
func VerifyPrompt(s story.Story) string {
	var b strings.Builder

	b.WriteString("Verify that the following story is complete.\n\n")
	b.WriteString("# Story ")
	b.WriteString(s.ID)
	b.WriteString(": ")
	b.WriteString(s.Title)
	b.WriteString("\n\n")
	writeCriteria(&b, s.AcceptanceCriteria)
	b.WriteString("Start your answer with PASS if every criterion is met, otherwise FAIL followed by what is missing.")

	return b.String()
}

func writeCriteria(b *strings.Builder, criteria []string) {
	if len(criteria) == 0 {
		return
	}
	b.WriteString("## Acceptance criteria\n\n")
	for _, c := range criteria {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}
