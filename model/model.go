package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PlaceholderTitle is the title of a session that has not received its
// first user message yet.
const PlaceholderTitle = "New chat"

// TitleLimit is the maximum number of runes kept when a session title is
// derived from the first user message.
const TitleLimit = 50

// TimestampLayout is the display form of a message timestamp. It is fixed
// and locale-independent.
const TimestampLayout = "15:04"

// Message is a single turn in a conversation. Content holds the raw text
// as sent or received; the parsed, renderable form is derived from it and
// never stored.
type Message struct {
	ID        string  `json:"id"`
	Role      Role    `json:"role"`
	Content   string  `json:"content"`
	Timestamp string  `json:"timestamp"`
	FileID    *string `json:"file_id,omitempty"`
}

// NewMessage builds a message with a creation-ordered ID and a display
// timestamp. ULIDs encode their creation time, so sorting by ID sorts by
// creation order.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(TimestampLayout),
	}
}

// Session is a named, ordered conversation.
type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Clone returns a deep copy so callers can hand sessions across goroutines
// without sharing the message slice.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return &cp
}

// DeriveTitle shortens the first user message into a session title.
func DeriveTitle(content string) string {
	return truncate(content, TitleLimit)
}

// truncate shortens a string to a specified number of runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
