// Package steering resolves the context files prepended to every prompt an
// agent receives.
package steering

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"devflow/internal/formula"
)

// Resolver returns the label to content mapping for an agent.
type Resolver interface {
	Resolve(agent string) (map[string]string, error)
}

// Files reads each agent's context references relative to Root and merges
// Static labels shared by every agent. A file reference wins over a static
// label with the same name.
type Files struct {
	Root   string
	Static map[string]string
	Agents map[string]formula.AgentDefinition
}

var _ Resolver = (*Files)(nil)

// Resolve implements Resolver. Missing files are skipped with a warning; an
// unknown agent gets only the static labels.
func (f *Files) Resolve(agent string) (map[string]string, error) {
	out := make(map[string]string, len(f.Static))
	for label, content := range f.Static {
		out[label] = content
	}

	def, ok := f.Agents[agent]
	if !ok {
		return out, nil
	}
	for _, ref := range def.Context {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		path := ref
		if !filepath.IsAbs(path) {
			path = filepath.Join(f.Root, ref)
		}
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			log.Printf("warning: context file %s for agent %s not found", ref, agent)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read context %s: %w", ref, err)
		}
		out[ref] = string(data)
	}
	return out, nil
}

// Static is a Resolver returning the same labels for every agent.
type Static map[string]string

// Resolve implements Resolver.
func (s Static) Resolve(string) (map[string]string, error) {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}
