// File: internal/usecase/chat_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"neuroforge/internal/domain"
	"neuroforge/internal/domain/model"
	"neuroforge/internal/domain/ports/adapter"
)

const (
	ChatGreeting = "Hello! I am NeuroForge. I can help you train your own AI models. How can I assist you today?"
	ChatFallback = "I'm having trouble connecting to the local backend. Is it running?"
	ChatNewRun   = "Ready to start a new training session."
)

// Compile-time check
var _ ChatUseCase = (*chatUC)(nil)

type ChatUseCase interface {
	// SendMessage returns the assistant reply. On transport failure the reply is the
	// fallback text, which is also recorded in the history, and err is non-nil.
	SendMessage(ctx context.Context, text string) (reply string, err error)
	History() []model.ChatMessage
	Reset()
}

type chatUC struct {
	sender       adapter.ChatSender
	clock        clockwork.Clock
	historyLimit int
	log          *zerolog.Logger

	mu      sync.Mutex
	session *model.ChatSession
}

func NewChatUseCase(sender adapter.ChatSender, clock clockwork.Clock, historyLimit int, logger *zerolog.Logger) *chatUC {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	chatLog := logger.With().Str("component", "Chat").Logger()
	return &chatUC{
		sender:       sender,
		clock:        clock,
		historyLimit: historyLimit,
		log:          &chatLog,
		session:      model.NewChatSession(ChatGreeting, clock.Now()),
	}
}

func (c *chatUC) SendMessage(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrInvalidArgument
	}

	// The prior conversation is sent as history; the new message travels separately.
	c.mu.Lock()
	history := c.session.GetRecentMessages(c.historyLimit)
	c.session.AddMessage(model.RoleUser, text, c.clock.Now())
	c.mu.Unlock()

	reply, err := c.sender.Chat(ctx, text, history)
	if err != nil {
		c.log.Warn().Err(err).Msg("chat request failed")
		c.mu.Lock()
		c.session.AddMessage(model.RoleAssistant, ChatFallback, c.clock.Now())
		c.mu.Unlock()
		return ChatFallback, fmt.Errorf("%w: %v", domain.ErrChatFailed, err)
	}

	c.mu.Lock()
	c.session.AddMessage(model.RoleAssistant, reply, c.clock.Now())
	c.mu.Unlock()
	return reply, nil
}

func (c *chatUC) History() []model.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.GetRecentMessages(0)
}

// Reset starts a fresh conversation.
func (c *chatUC) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = model.NewChatSession(ChatNewRun, c.clock.Now())
}
