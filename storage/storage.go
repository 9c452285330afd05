// Package storage defines the durable key-value boundary the
// conversation store persists through, plus three implementations:
// an in-memory store, a JSON file store and a SQLite store.
//
// Every implementation can reject a write with ErrQuotaExceeded once its
// configured capacity is reached, and notifies subscribers when another
// execution context changes the same data. A store never notifies a
// context about its own writes, mirroring how browser storage events
// only fire in other tabs.
package storage

import (
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned by Get for an absent key.
	ErrNotFound = errors.New("storage: key not found")

	// ErrQuotaExceeded is returned by Set when the write would push the
	// store past its capacity.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
)

// Event describes an externally observed change. Key may be empty when
// the backend can only detect that something changed (the SQLite poller
// works this way); subscribers should treat that as "reload everything".
type Event struct {
	Key      string
	External bool
}

// Store is the durable storage contract.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	// Subscribe registers fn for external change events and returns an
	// unsubscribe function. fn may be called from a background goroutine.
	Subscribe(fn func(Event)) (unsubscribe func())
	Close() error
}

// subscribers is the shared notification bookkeeping for the store
// implementations.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Event)
}

func (s *subscribers) add(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Event))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers) notify(e Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}
