package notify

import (
	"sync"

	"github.com/dennisdiepolder/monti/convo/internal/types"
)

// Recorder is an in-memory sink used by tests and local tooling
type Recorder struct {
	mu     sync.Mutex
	events []types.Event
}

// Notify stores the event
func (r *Recorder) Notify(event types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything recorded
func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.events...)
}

// OfType returns the recorded events of type t
func (r *Recorder) OfType(t types.EventType) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
