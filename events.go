package synctree

import "sync"

// Event names a signal published by the engine.
type Event string

const (
	EventStart  Event = "start"
	EventStop   Event = "stop"
	EventUpload Event = "upload"
	EventMkdir  Event = "mkdir"
	EventMkfile Event = "mkfile"
	EventMutate Event = "mutate"
	EventRemove Event = "remove"

	// EventError carries recovered recompute failures that would
	// otherwise be silent.
	EventError Event = "error"
)

var mutationEvents = []Event{EventUpload, EventMkdir, EventMkfile, EventMutate, EventRemove}

// bus is a minimal typed signal/subscriber registry. Handlers run
// synchronously on the publishing goroutine.
type bus struct {
	mu   sync.Mutex
	next int
	subs map[Event]map[int]func(string)
}

func newBus() *bus {
	return &bus{subs: make(map[Event]map[int]func(string))}
}

func (b *bus) subscribe(ev Event, fn func(string)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	if b.subs[ev] == nil {
		b.subs[ev] = make(map[int]func(string))
	}
	b.subs[ev][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[ev], id)
	}
}

func (b *bus) publish(ev Event, detail string) {
	b.mu.Lock()
	fns := make([]func(string), 0, len(b.subs[ev]))
	for _, fn := range b.subs[ev] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(detail)
	}
}
