package steering

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devflow/internal/formula"
)

func TestFiles_Resolve(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".devflow", "steering"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".devflow", "steering", "tech.md"), []byte("Go 1.25, cobra"), 0644))

	f := &Files{
		Root:   root,
		Static: map[string]string{"product": "A workflow runner", ".devflow/steering/tech.md": "overridden"},
		Agents: map[string]formula.AgentDefinition{
			"coder": {Name: "coder", Context: []string{".devflow/steering/tech.md", "missing.md", " "}},
		},
	}

	got, err := f.Resolve("coder")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"product":                   "A workflow runner",
		".devflow/steering/tech.md": "Go 1.25, cobra",
	}, got)

	got, err = f.Resolve("stranger")
	require.NoError(t, err)
	assert.Len(t, got, 2, "unknown agents get the static labels")
	assert.Equal(t, "A workflow runner", got["product"])
}

func TestFiles_ResolveDoesNotShareMaps(t *testing.T) {
	f := &Files{Static: map[string]string{"a": "1"}}
	got, err := f.Resolve("x")
	require.NoError(t, err)
	got["a"] = "changed"
	assert.Equal(t, "1", f.Static["a"])
}

func TestStatic(t *testing.T) {
	s := Static{"k": "v"}
	got, err := s.Resolve("any")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "v"}, got)
}
