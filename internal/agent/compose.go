package agent

import (
	"sort"
	"strings"
)

// ComposePrompt assembles the text sent to an agent: its instructions, the
// context files in label order, accumulated learnings, feedback from the
// previous attempt and finally the task prompt. Empty sections are omitted.
func ComposePrompt(ec ExecContext) string {
	var sections []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sections = append(sections, s)
		}
	}

	add(ec.Instructions)

	labels := make([]string, 0, len(ec.ContextFiles))
	for label := range ec.ContextFiles {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		content := strings.TrimSpace(ec.ContextFiles[label])
		if content == "" {
			continue
		}
		add("## " + label + "\n\n" + content)
	}

	if s := strings.TrimSpace(ec.Learnings); s != "" {
		add("## Learnings from previous runs\n\n" + s)
	}
	if s := strings.TrimSpace(ec.Feedback); s != "" {
		add("## Feedback from the previous attempt\n\nThe previous attempt was rejected. Address this feedback:\n\n" + s)
	}
	add(ec.Prompt)

	return strings.Join(sections, "\n\n") + "\n"
}
