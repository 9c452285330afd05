// Package conversation owns the active message list and the bounded set
// of named sessions, persists them through the storage boundary and keeps
// multiple execution contexts eventually consistent.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"datasoph/client/model"
	"datasoph/client/parser"
	"datasoph/client/storage"
)

// ErrSessionNotFound is returned when an operation names a session that
// is not in the index.
var ErrSessionNotFound = errors.New("conversation: session not found")

// Persisted keys. Exported because they are the shared contract between
// execution contexts: an external change event on either key means
// another context rewrote the history.
const (
	SessionIndexKey = "datasoph.chat.sessions"
	ActiveIDKey     = "datasoph.chat.active"
)

// SanitizePlaceholder replaces inline Base64 image payloads before a
// message is persisted. The stripped image exists only in the live render
// pass; after a reload the placeholder is what remains.
const SanitizePlaceholder = "[inline image removed]"

// Defaults for the retention bounds.
const (
	DefaultMessageWindow = 50
	DefaultSessionLimit  = 10
)

// Options tune a Store.
type Options struct {
	// MessageWindow is the number of most recent messages kept per
	// session (N). Zero means DefaultMessageWindow.
	MessageWindow int
	// SessionLimit is the number of sessions kept in the index (M).
	// Zero means DefaultSessionLimit.
	SessionLimit int
	Logger       *slog.Logger
}

// Store is the conversation store. All methods are safe for concurrent
// use. Mutations persist synchronously; persistence failures degrade (see
// the quota policy on persistLocked) but never surface as fatal errors.
type Store struct {
	storage  storage.Store
	bus      *Bus
	log      *slog.Logger
	sourceID string

	window int
	limit  int

	mu sync.Mutex
	// sessions is ordered most recently updated first, like the session
	// list the UI renders.
	sessions   []*model.Session
	active     *model.Session
	memoryOnly bool

	unsubStorage func()
	unsubBus     func()
}

// NewStore loads persisted history from st and subscribes to both change
// channels: external storage events and sibling bus events. A fresh
// session is created when no history exists.
func NewStore(st storage.Store, bus *Bus, opts Options) *Store {
	if opts.MessageWindow <= 0 {
		opts.MessageWindow = DefaultMessageWindow
	}
	if opts.SessionLimit <= 0 {
		opts.SessionLimit = DefaultSessionLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		storage:  st,
		bus:      bus,
		log:      opts.Logger,
		sourceID: uuid.NewString(),
		window:   opts.MessageWindow,
		limit:    opts.SessionLimit,
	}

	s.mu.Lock()
	s.loadLocked()
	if s.active == nil {
		s.createSessionLocked()
	}
	s.mu.Unlock()

	s.unsubStorage = st.Subscribe(func(storage.Event) { s.reload() })
	if bus != nil {
		s.unsubBus = bus.Subscribe(func(e Event) {
			if e.Source == s.sourceID {
				return
			}
			switch e.Kind {
			case EventSessionCreated, EventSessionSwitched, EventSessionDeleted:
				s.reload()
			}
		})
	}
	return s
}

// Close detaches the store from its notification sources.
func (s *Store) Close() {
	if s.unsubStorage != nil {
		s.unsubStorage()
	}
	if s.unsubBus != nil {
		s.unsubBus()
	}
}

// CreateSession starts a new, empty session and makes it active.
func (s *Store) CreateSession() string {
	s.mu.Lock()
	sess := s.createSessionLocked()
	s.persistLocked()
	s.mu.Unlock()

	s.publish(EventSessionCreated, sess.ID)
	return sess.ID
}

// AppendMessage adds one message to the session and persists the result.
// The first user message fixes the session title; the message list is
// trimmed to the configured window.
func (s *Store) AppendMessage(sessionID string, msg model.Message) error {
	s.mu.Lock()
	sess := s.findLocked(sessionID)
	if sess == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	sess.Messages = append(sess.Messages, msg)
	if len(sess.Messages) > s.window {
		sess.Messages = sess.Messages[len(sess.Messages)-s.window:]
	}
	if msg.Role == model.RoleUser && sess.Title == model.PlaceholderTitle {
		sess.Title = model.DeriveTitle(msg.Content)
	}
	sess.LastUpdated = time.Now().UTC()
	s.promoteLocked(sess)
	s.persistLocked()
	s.mu.Unlock()
	return nil
}

// RenameSession sets an explicit title. Renamed titles are never
// overwritten by title derivation.
func (s *Store) RenameSession(sessionID, title string) error {
	if title == "" {
		return fmt.Errorf("title cannot be empty")
	}
	s.mu.Lock()
	sess := s.findLocked(sessionID)
	if sess == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.Title = title
	sess.LastUpdated = time.Now().UTC()
	s.promoteLocked(sess)
	s.persistLocked()
	s.mu.Unlock()
	return nil
}

// DeleteSession removes the session from the index. Deleting the active
// session activates the most recent remaining one, or a fresh session if
// none remain.
func (s *Store) DeleteSession(sessionID string) error {
	s.mu.Lock()
	idx := -1
	for i, sess := range s.sessions {
		if sess.ID == sessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	wasActive := s.active != nil && s.active.ID == sessionID
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	if wasActive {
		if len(s.sessions) > 0 {
			s.active = s.sessions[0]
		} else {
			s.createSessionLocked()
		}
	}
	s.persistLocked()
	s.mu.Unlock()

	s.publish(EventSessionDeleted, sessionID)
	return nil
}

// SwitchTo makes the session active. The previously active session stays
// in the index and can become active again.
func (s *Store) SwitchTo(sessionID string) error {
	s.mu.Lock()
	sess := s.findLocked(sessionID)
	if sess == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.active = sess
	s.persistLocked()
	s.mu.Unlock()

	s.publish(EventSessionSwitched, sessionID)
	return nil
}

// CurrentSession returns a copy of the active session.
func (s *Store) CurrentSession() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	return s.active.Clone()
}

// Sessions returns a copy of the session index, most recent first.
func (s *Store) Sessions() []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess.Clone())
	}
	return out
}

// MemoryOnly reports whether the store gave up on durable persistence
// after repeated quota failures.
func (s *Store) MemoryOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memoryOnly
}

func (s *Store) createSessionLocked() *model.Session {
	now := time.Now().UTC()
	sess := &model.Session{
		ID:          uuid.NewString(),
		Title:       model.PlaceholderTitle,
		Messages:    []model.Message{},
		CreatedAt:   now,
		LastUpdated: now,
	}
	s.sessions = append([]*model.Session{sess}, s.sessions...)
	s.trimSessionsLocked()
	s.active = sess
	return sess
}

func (s *Store) findLocked(id string) *model.Session {
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

// promoteLocked moves the session to the front of the index and applies
// the session bound.
func (s *Store) promoteLocked(sess *model.Session) {
	for i, cur := range s.sessions {
		if cur.ID == sess.ID {
			copy(s.sessions[1:i+1], s.sessions[:i])
			s.sessions[0] = sess
			break
		}
	}
	s.trimSessionsLocked()
}

// trimSessionsLocked drops the oldest sessions past the bound. They are
// removed from the index entirely, not truncated.
func (s *Store) trimSessionsLocked() {
	if len(s.sessions) <= s.limit {
		return
	}
	dropped := s.sessions[s.limit:]
	s.sessions = s.sessions[:s.limit]
	for _, d := range dropped {
		if s.active != nil && s.active.ID == d.ID {
			// The active session is always at or near the front, but
			// never let eviction leave a dangling active pointer.
			s.active = s.sessions[0]
		}
	}
}

// sanitized returns a deep copy of sess with image payloads replaced and
// the message window applied, ready for persistence.
func sanitized(sess *model.Session, window int) *model.Session {
	cp := sess.Clone()
	if len(cp.Messages) > window {
		cp.Messages = cp.Messages[len(cp.Messages)-window:]
	}
	for i := range cp.Messages {
		cp.Messages[i].Content = parser.StripInlineImages(cp.Messages[i].Content, SanitizePlaceholder)
	}
	return cp
}

// persistLocked writes the session index and active pointer.
//
// Quota policy: a rejected write is retried once with the payload reduced
// to the current session only; if that is also rejected, persisted
// history is cleared and the store continues in memory for the rest of
// the runtime. Neither case is an error to the caller.
func (s *Store) persistLocked() {
	if s.memoryOnly || s.storage == nil {
		return
	}

	index := make([]*model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		index = append(index, sanitized(sess, s.window))
	}
	data, err := json.Marshal(index)
	if err != nil {
		s.log.Warn("failed to encode session index", "error", err)
		return
	}

	err = s.storage.Set(SessionIndexKey, string(data))
	if errors.Is(err, storage.ErrQuotaExceeded) {
		s.log.Warn("storage quota exceeded, retrying with current session only")
		err = s.persistActiveOnlyLocked()
	}
	if errors.Is(err, storage.ErrQuotaExceeded) {
		s.log.Warn("storage quota still exceeded, clearing persisted history and continuing in memory")
		_ = s.storage.Delete(SessionIndexKey)
		_ = s.storage.Delete(ActiveIDKey)
		s.memoryOnly = true
		return
	}
	if err != nil {
		s.log.Warn("failed to persist session index", "error", err)
		return
	}

	if s.active != nil {
		if err := s.storage.Set(ActiveIDKey, s.active.ID); err != nil {
			s.log.Warn("failed to persist active session id", "error", err)
		}
	}
}

func (s *Store) persistActiveOnlyLocked() error {
	if s.active == nil {
		return nil
	}
	data, err := json.Marshal([]*model.Session{sanitized(s.active, s.window)})
	if err != nil {
		return err
	}
	return s.storage.Set(SessionIndexKey, string(data))
}

func (s *Store) loadLocked() {
	if s.storage == nil {
		return
	}
	raw, err := s.storage.Get(SessionIndexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Warn("failed to load session index", "error", err)
		return
	}

	var index []*model.Session
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		s.log.Warn("persisted session index is corrupt, starting fresh", "error", err)
		return
	}
	s.sessions = index
	if len(s.sessions) > s.limit {
		s.sessions = s.sessions[:s.limit]
	}

	activeID, err := s.storage.Get(ActiveIDKey)
	if err == nil {
		s.active = s.findLocked(activeID)
	}
	if s.active == nil && len(s.sessions) > 0 {
		s.active = s.sessions[0]
	}
}

// reload refreshes state from durable storage after an external change
// notification or a sibling's bus event, then republishes so views
// re-read the active session. Two contexts converge on whatever was
// persisted last.
func (s *Store) reload() {
	s.mu.Lock()
	if s.memoryOnly {
		s.mu.Unlock()
		return
	}
	s.sessions = nil
	s.active = nil
	s.loadLocked()
	if s.active == nil {
		s.createSessionLocked()
	}
	activeID := s.active.ID
	s.mu.Unlock()

	s.publish(EventSessionReloaded, activeID)
}

func (s *Store) publish(kind EventKind, sessionID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(Event{Kind: kind, SessionID: sessionID, Source: s.sourceID})
}
