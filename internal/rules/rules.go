// Package rules provides the embedded instructions of the built-in agents.
//
// Each <agent>.md file is compiled in and used as the prompt of the agent
// with the same name when the configuration does not supply one.
package rules

import (
	"embed"
	"sort"
	"strings"
)

//go:embed *.md
var ruleFS embed.FS

// Files returns the embedded rule files as a map of filename to content.
func Files() map[string][]byte {
	entries, err := ruleFS.ReadDir(".")
	if err != nil {
		// Should never happen: the embedded FS is compiled in.
		return nil
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := ruleFS.ReadFile(e.Name())
		if err != nil {
			continue
		}
		out[e.Name()] = data
	}
	return out
}

// Agent returns the built-in instructions for an agent name.
func Agent(name string) (string, bool) {
	data, err := ruleFS.ReadFile(name + ".md")
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// Agents returns the sorted names of every built-in agent.
func Agents() []string {
	var names []string
	for name := range Files() {
		names = append(names, strings.TrimSuffix(name, ".md"))
	}
	sort.Strings(names)
	return names
}
