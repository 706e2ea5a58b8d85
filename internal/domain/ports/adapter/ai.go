package adapter

import (
	"context"

	"neuroforge/internal/domain/model"
)

// ChatResponder is the port the training service uses to answer /chat.
type ChatResponder interface {
	Name() string
	Respond(ctx context.Context, message string, history []model.ChatMessage) (string, error)
}
