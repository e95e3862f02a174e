// Package ledger is the append-only JSONL event log that records every run.
// It is the authoritative source for after-the-fact status reporting.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// tailChunk is the initial window read from the end of the file when
// looking up the last timestamp.
const tailChunk = 8 << 10

// Ledger appends events to a JSONL file. Appends are serialized within the
// process by a mutex and across processes by a lock file next to the ledger.
type Ledger struct {
	path string
	lock *flock.Flock
	now  func() time.Time

	mu sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Open returns a ledger backed by path. The file is created on first append.
func Open(path string, opts ...Option) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	l := &Ledger{
		path: path,
		lock: flock.New(path + ".lock"),
		now:  time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Append durably writes one event and returns it as stored. The timestamp
// is never earlier than the last event already in the file.
func (l *Ledger) Append(e Event) (Event, error) {
	if e.Type == "" || e.RunID == "" {
		return e, fmt.Errorf("ledger event needs a type and run id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.lock.Lock(); err != nil {
		return e, fmt.Errorf("lock ledger: %w", err)
	}
	defer l.lock.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return e, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	last, torn, err := tail(f)
	if err != nil {
		return e, err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Timestamp.Before(last) {
		e.Timestamp = last
	}

	data, err := json.Marshal(e)
	if err != nil {
		return e, fmt.Errorf("marshal ledger event: %w", err)
	}
	line := append(data, '\n')
	if torn {
		// Terminate a partial line left by an interrupted writer.
		line = append([]byte{'\n'}, line...)
	}
	if _, err := f.Write(line); err != nil {
		return e, fmt.Errorf("write ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		return e, fmt.Errorf("sync ledger: %w", err)
	}
	return e, nil
}

// tail returns the timestamp of the last complete line in f, the zero time
// for an empty file, and whether f ends without a newline.
func tail(f *os.File) (time.Time, bool, error) {
	info, err := f.Stat()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("stat ledger: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return time.Time{}, false, nil
	}
	for window := int64(tailChunk); ; window *= 2 {
		if window > size {
			window = size
		}
		buf := make([]byte, window)
		if _, err := f.ReadAt(buf, size-window); err != nil && !errors.Is(err, io.EOF) {
			return time.Time{}, false, fmt.Errorf("read ledger tail: %w", err)
		}
		torn := buf[len(buf)-1] != '\n'
		buf = bytes.TrimRight(buf, "\n")
		start := bytes.LastIndexByte(buf, '\n')
		if start < 0 && window < size {
			continue // the last line is longer than the window
		}
		var e struct {
			Timestamp time.Time `json:"timestamp"`
		}
		if err := json.Unmarshal(buf[start+1:], &e); err != nil {
			return time.Time{}, torn, nil
		}
		return e.Timestamp, torn, nil
	}
}

// Read returns every event in append order. Lines that do not decode, such
// as a partial line from an interrupted write, are skipped with a warning.
func (l *Ledger) Read() ([]Event, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var events []Event
	r := bufio.NewReader(f)
	for n := 1; ; n++ {
		line, readErr := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var e Event
			if err := json.Unmarshal(line, &e); err != nil {
				log.Printf("warning: ledger %s: skipping corrupt line %d", l.path, n)
			} else {
				events = append(events, e)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read ledger: %w", readErr)
		}
	}
	return events, nil
}

// RunEvents returns the events of one run in append order.
func (l *Ledger) RunEvents(runID string) ([]Event, error) {
	events, err := l.Read()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// LatestRunID returns the run id of the most recent run_start.
func (l *Ledger) LatestRunID() (string, bool, error) {
	events, err := l.Read()
	if err != nil {
		return "", false, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == EventRunStart {
			return events[i].RunID, true, nil
		}
	}
	return "", false, nil
}

// RunSummary is one run folded from its run_start and run_complete events.
type RunSummary struct {
	RunID        string    `json:"runId"`
	Workflow     string    `json:"workflow"`
	Task         string    `json:"task"`
	Branch       string    `json:"branch,omitempty"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"startedAt"`
	CompletedAt  time.Time `json:"completedAt,omitzero"`
	StoriesDone  int       `json:"storiesDone"`
	StoriesTotal int       `json:"storiesTotal"`
	Error        string    `json:"error,omitempty"`
}

// Running reports whether the run has no run_complete event.
func (s RunSummary) Running() bool { return s.Status == StatusRunning }

// Runs returns one summary per run in order of first appearance. A run
// without run_complete is reported as running.
func (l *Ledger) Runs() ([]RunSummary, error) {
	events, err := l.Read()
	if err != nil {
		return nil, err
	}
	return Summarize(events), nil
}

// Summarize folds events into run summaries.
func Summarize(events []Event) []RunSummary {
	index := make(map[string]int)
	var runs []RunSummary
	get := func(e Event) *RunSummary {
		i, ok := index[e.RunID]
		if !ok {
			i = len(runs)
			index[e.RunID] = i
			runs = append(runs, RunSummary{RunID: e.RunID, Status: StatusRunning, StartedAt: e.Timestamp})
		}
		return &runs[i]
	}
	for _, e := range events {
		switch e.Type {
		case EventRunStart:
			s := get(e)
			s.Workflow, s.Task, s.Branch = e.Workflow, e.Task, e.Branch
			s.StartedAt = e.Timestamp
		case EventRunComplete:
			s := get(e)
			s.Status = e.Status
			s.CompletedAt = e.Timestamp
			s.StoriesDone, s.StoriesTotal = e.StoriesDone, e.StoriesTotal
			s.Error = e.Error
		}
	}
	return runs
}
