package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// filePayload is the on-disk form of a FileStore. WriterID identifies the
// context that produced the file, so a context can tell its own writes
// apart from everyone else's when a change notification arrives.
type filePayload struct {
	WriterID string            `json:"writer_id"`
	Entries  map[string]string `json:"entries"`
}

// FileStore persists the key-value map as a single JSON file and watches
// it with fsnotify. When another process (or another FileStore on the
// same path) rewrites the file, subscribers receive an external Event per
// changed key. Two contexts writing concurrently converge on whichever
// write landed last.
type FileStore struct {
	path     string
	writerID string
	quota    int64
	log      *slog.Logger

	mu      sync.Mutex
	entries map[string]string

	watcher *fsnotify.Watcher
	subs    subscribers
	done    chan struct{}
}

// NewFileStore opens (or creates) the store at path. quota bounds the
// serialized payload size in bytes; quota <= 0 means unlimited.
func NewFileStore(path string, quota int64, log *slog.Logger) (*FileStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &FileStore{
		path:     path,
		writerID: uuid.NewString(),
		quota:    quota,
		log:      log,
		entries:  make(map[string]string),
		done:     make(chan struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create storage watcher: %w", err)
	}
	// Watch the directory: the store replaces the file via rename, which
	// would invalidate a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch storage directory: %w", err)
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

func (s *FileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := make(map[string]string, len(s.entries)+1)
	for k, v := range s.entries {
		candidate[k] = v
	}
	candidate[key] = value

	if err := s.persist(candidate); err != nil {
		return err
	}
	s.entries = candidate
	return nil
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	candidate := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		if k != key {
			candidate[k] = v
		}
	}
	if err := s.persist(candidate); err != nil {
		return err
	}
	s.entries = candidate
	return nil
}

func (s *FileStore) Subscribe(fn func(Event)) func() {
	return s.subs.add(fn)
}

func (s *FileStore) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	return s.watcher.Close()
}

// persist serializes candidate and swaps it in atomically. Callers hold
// s.mu.
func (s *FileStore) persist(candidate map[string]string) error {
	data, err := json.Marshal(filePayload{WriterID: s.writerID, Entries: candidate})
	if err != nil {
		return fmt.Errorf("failed to encode storage payload: %w", err)
	}
	if s.quota > 0 && int64(len(data)) > s.quota {
		return ErrQuotaExceeded
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read storage file: %w", err)
	}
	var payload filePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		// A corrupt file is not worth failing startup over; start fresh.
		s.log.Warn("storage file is corrupt, starting empty", "path", s.path, "error", err)
		return nil
	}
	if payload.Entries != nil {
		s.entries = payload.Entries
	}
	return nil
}

func (s *FileStore) watch() {
	name := filepath.Base(s.path)
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			s.reload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("storage watcher error", "error", err)
		}
	}
}

// reload re-reads the file after a change notification and notifies
// subscribers about keys another writer changed.
func (s *FileStore) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var payload filePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if payload.WriterID == s.writerID {
		return
	}

	s.mu.Lock()
	changed := make([]string, 0)
	for k, v := range payload.Entries {
		if old, ok := s.entries[k]; !ok || old != v {
			changed = append(changed, k)
		}
	}
	for k := range s.entries {
		if _, ok := payload.Entries[k]; !ok {
			changed = append(changed, k)
		}
	}
	s.entries = payload.Entries
	if s.entries == nil {
		s.entries = make(map[string]string)
	}
	s.mu.Unlock()

	for _, k := range changed {
		s.subs.notify(Event{Key: k, External: true})
	}
}
