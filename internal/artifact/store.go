// Package artifact stores run snapshots, stop markers and the accumulated
// learnings file under the state directory.
//
// Layout:
//
//	<base>/runs/<id>.json   snapshot written after every step
//	<base>/runs/<id>.stop   stop-after-current-step marker
//	<base>/learnings.md     learnings carried into later runs
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"devflow/internal/run"
)

const (
	runsDir       = "runs"
	learningsFile = "learnings.md"
)

// Store reads and writes artifacts under a base directory.
type Store struct {
	baseDir string
}

// NewStore creates a store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string { return s.baseDir }

// RunPath returns the snapshot path for a run id.
func (s *Store) RunPath(id string) string {
	return filepath.Join(s.baseDir, runsDir, id+".json")
}

func (s *Store) stopPath(id string) string {
	return filepath.Join(s.baseDir, runsDir, id+".stop")
}

// SaveRun writes the run snapshot atomically: temp file, then rename.
func (s *Store) SaveRun(r *run.WorkflowRun) error {
	if r.ID == "" {
		return errors.New("save run: empty run id")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	path := s.RunPath(r.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create runs dir: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// LoadRun reads one snapshot. A missing snapshot wraps os.ErrNotExist.
func (s *Store) LoadRun(id string) (*run.WorkflowRun, error) {
	data, err := os.ReadFile(s.RunPath(id))
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	var r run.WorkflowRun
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &r, nil
}

// ListRuns returns every snapshot, most recently started first. Unreadable
// snapshots are skipped.
func (s *Store) ListRuns() ([]*run.WorkflowRun, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, runsDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var runs []*run.WorkflowRun
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		r, err := s.LoadRun(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		runs = append(runs, r)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// RequestStop asks the run to stop after its current step.
func (s *Store) RequestStop(id string) error {
	path := s.stopPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create runs dir: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(path, []byte(stamp), 0644); err != nil {
		return fmt.Errorf("write stop marker: %w", err)
	}
	return nil
}

// StopRequested reports whether a stop marker exists for the run.
func (s *Store) StopRequested(id string) bool {
	_, err := os.Stat(s.stopPath(id))
	return err == nil
}

// ClearStop removes the stop marker, if any.
func (s *Store) ClearStop(id string) error {
	err := os.Remove(s.stopPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear stop marker: %w", err)
	}
	return nil
}

// Learnings returns the accumulated learnings, or "" when there are none.
func (s *Store) Learnings() string {
	b, err := os.ReadFile(filepath.Join(s.baseDir, learningsFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// AppendLearnings adds a dated section to the learnings file.
func (s *Store) AppendLearnings(runID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.baseDir, learningsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open learnings: %w", err)
	}
	defer f.Close()
	section := fmt.Sprintf("## %s (%s)\n\n%s\n\n", time.Now().UTC().Format("2006-01-02"), runID, text)
	if _, err := f.WriteString(section); err != nil {
		return fmt.Errorf("append learnings: %w", err)
	}
	return nil
}
