package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joebot/toolbot/internal/llm"
)

// Message is a single persisted message. Only user messages and final
// answers are stored; tool traffic stays inside one loop run.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Session holds the conversation history of one session id.
type Session struct {
	ID        string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns an empty session.
func New(id string) *Session {
	now := time.Now()
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now}
}

// AddMessage appends a message to the session.
func (s *Session) AddMessage(role, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	s.UpdatedAt = time.Now()
}

// History returns the last maxMessages as conversation messages.
// maxMessages <= 0 returns everything.
func (s *Session) History(maxMessages int) []llm.Message {
	msgs := s.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	history := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		history[i] = llm.Message{Role: llm.Role(m.Role), Content: m.Content}
	}
	return history
}

// Clear removes all messages.
func (s *Session) Clear() {
	s.Messages = nil
	s.UpdatedAt = time.Now()
}

// Info summarizes a stored session.
type Info struct {
	ID        string    `json:"id"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists sessions. Implementations are safe for concurrent use.
type Store interface {
	// GetOrCreate returns the stored session or a new empty one.
	GetOrCreate(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// List returns sessions sorted by update time, newest first.
	List(ctx context.Context) ([]Info, error)
	// PruneBefore deletes sessions not updated since cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// NormalizeID returns id when it is a UUID and a fresh random UUID otherwise.
func NormalizeID(id string) string {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return uuid.NewString()
}

// KeyID maps a stable channel key such as "discord:1234" to a session UUID.
func KeyID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("toolbot:"+key)).String()
}
