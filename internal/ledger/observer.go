package ledger

import "log"

// Observer is notified of every recorded event.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) { f(e) }

// MultiObserver fans out events to multiple observers.
// It handles nil observers gracefully by skipping them.
type MultiObserver struct {
	observers []Observer
}

// Ensure MultiObserver implements Observer.
var _ Observer = (*MultiObserver)(nil)

// NewMultiObserver creates a MultiObserver that forwards events to all
// provided observers. Nil observers are filtered out.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	filtered := make([]Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			filtered = append(filtered, obs)
		}
	}
	return &MultiObserver{observers: filtered}
}

// Add appends an observer.
func (m *MultiObserver) Add(obs Observer) {
	if obs != nil {
		m.observers = append(m.observers, obs)
	}
}

// safeCall calls fn with panic recovery. One observer failing shouldn't block others.
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("warning: ledger observer panicked: %v", r)
		}
	}()
	fn()
}

// Observe forwards the event to all observers.
func (m *MultiObserver) Observe(e Event) {
	for _, obs := range m.observers {
		safeCall(func() { obs.Observe(e) })
	}
}

// Recorder appends events to a ledger and then notifies observers with the
// stored copy. Observers never see an event that failed to persist.
type Recorder struct {
	ledger    *Ledger
	observers *MultiObserver
}

// NewRecorder returns a Recorder writing to l.
func NewRecorder(l *Ledger, observers ...Observer) *Recorder {
	return &Recorder{ledger: l, observers: NewMultiObserver(observers...)}
}

// Record appends e and notifies observers.
func (r *Recorder) Record(e Event) error {
	stored, err := r.ledger.Append(e)
	if err != nil {
		return err
	}
	r.observers.Observe(stored)
	return nil
}

// Ledger returns the underlying ledger.
func (r *Recorder) Ledger() *Ledger { return r.ledger }
