package conversation

import "sync"

// EventKind classifies bus events.
type EventKind string

const (
	EventSessionCreated  EventKind = "session_created"
	EventSessionSwitched EventKind = "session_switched"
	EventSessionDeleted  EventKind = "session_deleted"
	// EventSessionReloaded is republished by a store after it refreshed
	// itself from durable storage. Stores do not react to it, which keeps
	// two stores on one bus from reloading each other forever.
	EventSessionReloaded EventKind = "session_reloaded"
)

// Event is a conversation lifecycle notification. Source identifies the
// publisher so a component can skip events it raised itself.
type Event struct {
	Kind      EventKind
	SessionID string
	Source    string
}

// Bus is the explicit observer interface that replaces the original
// product's window-scoped trigger functions: anything that needs to react
// to "new chat", switches or deletions subscribes here instead of
// reaching into shared global state.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns an unsubscribe function.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers e to every subscriber, synchronously and in no
// particular order.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}
