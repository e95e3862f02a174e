package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"devflow/internal/run"
	"devflow/internal/story"
)

func TestStore_SaveLoadRun(t *testing.T) {
	store := NewStore(t.TempDir())
	r := &run.WorkflowRun{
		ID:        "r1",
		Workflow:  "feature",
		Task:      "add login",
		Status:    run.StatusRunning,
		Stories:   []story.Story{{ID: "a", Title: "A", Status: story.StatusDone, AcceptanceCriteria: []string{"x"}}},
		Progress:  []string{"planned 1 story"},
		StartedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := store.SaveRun(r); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if _, err := os.Stat(store.RunPath("r1") + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file left behind: %v", err)
	}

	got, err := store.LoadRun("r1")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if got.Task != "add login" || got.Status != run.StatusRunning {
		t.Errorf("LoadRun: got task=%q status=%q", got.Task, got.Status)
	}
	if len(got.Stories) != 1 || got.Stories[0].AcceptanceCriteria[0] != "x" {
		t.Errorf("LoadRun: stories not round-tripped: %+v", got.Stories)
	}

	// Overwrite with a later state.
	r.Status = run.StatusDone
	if err := store.SaveRun(r); err != nil {
		t.Fatalf("SaveRun again: %v", err)
	}
	got, _ = store.LoadRun("r1")
	if got.Status != run.StatusDone {
		t.Errorf("status after overwrite = %q, want done", got.Status)
	}
}

func TestStore_LoadRun_Missing(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.LoadRun("nope")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadRun missing: expected ErrNotExist, got %v", err)
	}
	if err := store.SaveRun(&run.WorkflowRun{}); err == nil {
		t.Error("SaveRun with empty id should fail")
	}
}

func TestStore_ListRuns_NewestFirst(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	runs, err := store.ListRuns()
	if err != nil || len(runs) != 0 {
		t.Fatalf("ListRuns on empty dir: %v, %d runs", err, len(runs))
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	offsets := map[string]time.Duration{"old": 0, "new": 2 * time.Hour, "mid": time.Hour}
	for id, offset := range offsets {
		if err := store.SaveRun(&run.WorkflowRun{ID: id, StartedAt: base.Add(offset)}); err != nil {
			t.Fatal(err)
		}
	}
	_ = os.WriteFile(filepath.Join(dir, "runs", "broken.json"), []byte("{"), 0644)

	runs, err = store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	want := []string{"new", "mid", "old"}
	if len(ids) != len(want) {
		t.Fatalf("ListRuns ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ListRuns ids = %v, want %v", ids, want)
			break
		}
	}
}

func TestStore_StopMarker(t *testing.T) {
	store := NewStore(t.TempDir())
	if store.StopRequested("r1") {
		t.Fatal("no marker yet")
	}
	if err := store.RequestStop("r1"); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	if !store.StopRequested("r1") {
		t.Error("marker should be visible")
	}
	if store.StopRequested("r2") {
		t.Error("marker is per run")
	}
	if err := store.ClearStop("r1"); err != nil {
		t.Fatalf("ClearStop: %v", err)
	}
	if err := store.ClearStop("r1"); err != nil {
		t.Errorf("ClearStop twice: %v", err)
	}
	if store.StopRequested("r1") {
		t.Error("marker should be gone")
	}
}

func TestStore_Learnings(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state"))
	if got := store.Learnings(); got != "" {
		t.Errorf("Learnings on empty store = %q", got)
	}
	if err := store.AppendLearnings("r1", "  Run go vet first.  "); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendLearnings("r2", ""); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendLearnings("r3", "Keep PRs small."); err != nil {
		t.Fatal(err)
	}

	got := store.Learnings()
	for _, want := range []string{"(r1)", "Run go vet first.", "(r3)", "Keep PRs small."} {
		if !strings.Contains(got, want) {
			t.Errorf("Learnings missing %q in %q", want, got)
		}
	}
	if strings.Contains(got, "(r2)") {
		t.Error("empty learnings should not be appended")
	}
}
