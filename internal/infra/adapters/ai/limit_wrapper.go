package ai

import (
	"context"

	"neuroforge/internal/domain/model"
	"neuroforge/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ChatResponder = (*limitedResponder)(nil)

type limitedResponder struct {
	inner adapter.ChatResponder
	sem   chan struct{}
}

// NewLimitedResponder caps concurrent calls into inner. maxConcurrent <= 0 disables the cap.
func NewLimitedResponder(inner adapter.ChatResponder, maxConcurrent int) adapter.ChatResponder {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedResponder{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedResponder) Name() string { return l.inner.Name() }

func (l *limitedResponder) Respond(ctx context.Context, message string, history []model.ChatMessage) (string, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Respond(ctx, message, history)
}
