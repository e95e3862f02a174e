package progress

import (
	"testing"
	"time"

	"devflow/internal/ledger"
)

func TestObserve_TranslatesEvents(t *testing.T) {
	tests := []struct {
		name   string
		in     ledger.Event
		status Status
		msg    string
	}{
		{"run start", ledger.RunStart("r1", "feature", "Add login", ""), StatusRunning, `run r1 started: feature "Add login"`},
		{"step start", ledger.StepStart("r1", "implement", "coder", "loop"), StatusRunning, "step implement (loop) started with coder"},
		{"loop start", ledger.LoopStart("r1", "s1", "Form", 1, 3), StatusRunning, "story s1 attempt 1: Form"},
		{"loop pass", ledger.LoopPass("r1", "s1", 1, time.Second), StatusDone, "story s1 passed"},
		{"exhausted", ledger.LoopExhausted("r1", "s1", 3), StatusAborted, "story s1 failed after 3 attempts"},
		{"learning", ledger.Learning("r1", "compound", "Seed the DB first.\nThen run tests."), StatusDone, "learned: Seed the DB first."},
		{"failed run", ledger.RunComplete("r1", "failed", 1, 2, "interrupted"), StatusError, "run r1 failed (1/2 stories done)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan Event, 1)
			(&ChanEmitter{Ch: ch}).Observe(tt.in)

			got := <-ch
			if got.Status != tt.status {
				t.Errorf("status = %q, want %q", got.Status, tt.status)
			}
			if got.Message != tt.msg {
				t.Errorf("message = %q, want %q", got.Message, tt.msg)
			}
			if got.Metadata["type"] != string(tt.in.Type) {
				t.Errorf("type metadata = %q", got.Metadata["type"])
			}
		})
	}
}

func TestObserve_Timestamps(t *testing.T) {
	ch := make(chan Event, 2)
	emitter := &ChanEmitter{Ch: ch}

	emitter.Observe(ledger.RunStart("r1", "fix", "t", ""))
	ts := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	stamped := ledger.RunStart("r2", "fix", "t", "")
	stamped.Timestamp = ts
	emitter.Observe(stamped)

	if got := <-ch; got.Timestamp.IsZero() {
		t.Error("an unstamped ledger event should get the current time")
	}
	if got := <-ch; !got.Timestamp.Equal(ts) {
		t.Errorf("ledger timestamp not carried over: %v", got.Timestamp)
	}
}

func TestObserve_DropsAndCountsWhenFull(t *testing.T) {
	ch := make(chan Event, 1)
	emitter := &ChanEmitter{Ch: ch}

	emitter.Observe(ledger.LoopStart("r1", "s1", "Form", 1, 1))
	emitter.Observe(ledger.LoopPass("r1", "s1", 1, time.Second))
	emitter.Observe(ledger.LoopStart("r1", "s2", "API", 1, 2))

	if got := <-ch; got.Metadata["story"] != "s1" || got.Metadata["type"] != string(ledger.EventLoopStart) {
		t.Errorf("first event should be kept, got %v", got.Metadata)
	}
	select {
	case ev := <-ch:
		t.Errorf("expected later events to be dropped, got %q", ev.Message)
	default:
	}
	if got := emitter.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

func TestObserve_LoopFailMetadata(t *testing.T) {
	ch := make(chan Event, 1)
	emitter := &ChanEmitter{Ch: ch}

	emitter.Observe(ledger.LoopFail("r1", "s1", 2, "\nFAIL: missing test\nmore"))

	got := <-ch
	if got.Status != StatusError {
		t.Errorf("loop_fail status = %q, want error", got.Status)
	}
	if got.Message != "story s1 attempt 2 failed: FAIL: missing test" {
		t.Errorf("loop_fail message = %q", got.Message)
	}
	if got.Metadata["run"] != "r1" || got.Metadata["story"] != "s1" || got.Metadata["attempt"] != "2" {
		t.Errorf("loop_fail metadata = %v", got.Metadata)
	}
	if _, ok := got.Metadata["step"]; ok {
		t.Errorf("loop events carry no step: %v", got.Metadata)
	}
}

func TestFromLedger_FailedStep(t *testing.T) {
	ev := FromLedger(ledger.StepComplete("r1", "plan", "failed", 1500*time.Millisecond, "parse planner output: no JSON list of stories found"))
	if ev.Status != StatusError {
		t.Errorf("status = %q, want error", ev.Status)
	}
	if ev.Message != "step plan failed in 1.5s: parse planner output: no JSON list of stories found" {
		t.Errorf("message = %q", ev.Message)
	}
	if ev.Metadata["step"] != "plan" {
		t.Errorf("step metadata = %v", ev.Metadata)
	}
}
