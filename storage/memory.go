package storage

import "sync"

// MemoryStore is a quota-limited in-memory Store. The conversation store
// falls back to it after persistent quota failures, and tests use it to
// simulate both quota pressure and cross-context writes.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string]string
	quota int64
	subs  subscribers
}

// NewMemoryStore builds a store holding at most quota bytes of keys plus
// values. quota <= 0 means unlimited.
func NewMemoryStore(quota int64) *MemoryStore {
	return &MemoryStore{data: make(map[string]string), quota: quota}
}

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 {
		used := int64(len(key) + len(value))
		for k, v := range m.data {
			if k == key {
				continue
			}
			used += int64(len(k) + len(v))
		}
		if used > m.quota {
			return ErrQuotaExceeded
		}
	}
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Subscribe(fn func(Event)) func() {
	return m.subs.add(fn)
}

func (m *MemoryStore) Close() error { return nil }

// SimulateExternalWrite applies a write as if another execution context
// made it: the value is stored and subscribers are notified.
func (m *MemoryStore) SimulateExternalWrite(key, value string) {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	m.subs.notify(Event{Key: key, External: true})
}

// SimulateExternalDelete removes a key as if another context deleted it.
func (m *MemoryStore) SimulateExternalDelete(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	m.subs.notify(Event{Key: key, External: true})
}
