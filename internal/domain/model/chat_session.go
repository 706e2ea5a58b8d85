package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of the command channel. The JSON shape is the wire format.
type ChatMessage struct {
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

// ChatSession holds the running conversation with the orchestrator.
type ChatSession struct {
	Messages  []ChatMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewChatSession(greeting string, now time.Time) *ChatSession {
	s := &ChatSession{
		Messages:  make([]ChatMessage, 0, 8),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if greeting != "" {
		s.AddMessage(RoleAssistant, greeting, now)
	}
	return s
}

func (s *ChatSession) AddMessage(role, content string, now time.Time) {
	s.Messages = append(s.Messages, ChatMessage{Role: role, Content: content})
	s.UpdatedAt = now
}

// GetRecentMessages returns a copy of the last n messages (all when n <= 0).
func (s *ChatSession) GetRecentMessages(n int) []ChatMessage {
	msgs := s.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}
