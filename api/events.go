package api

import (
	"sync"

	"github.com/stellarlinkco/call-eval/internal/runner"
)

// eventBuffer accumulates the progress events of one run so clients can poll
// them over HTTP. Events are retained for the life of the server process;
// history for finished runs lives in the store, not here.
type eventBuffer struct {
	mu     sync.Mutex
	events []runner.Event
	done   bool
}

func (b *eventBuffer) append(ev runner.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	if ev.Kind == runner.EventComplete {
		b.done = true
	}
}

func (b *eventBuffer) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = true
}

// since returns the events after the given index along with the next index
// to poll from and whether the run has finished emitting.
func (b *eventBuffer) since(after int) ([]runner.Event, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if after < 0 {
		after = 0
	}
	if after > len(b.events) {
		after = len(b.events)
	}
	out := make([]runner.Event, len(b.events)-after)
	copy(out, b.events[after:])
	return out, len(b.events), b.done
}

type eventRegistry struct {
	mu      sync.Mutex
	buffers map[string]*eventBuffer
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{buffers: make(map[string]*eventBuffer)}
}

func (r *eventRegistry) create(runID string) *eventBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &eventBuffer{}
	r.buffers[runID] = b
	return b
}

func (r *eventRegistry) get(runID string) (*eventBuffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[runID]
	return b, ok
}
