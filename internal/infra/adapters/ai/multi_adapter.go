// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"neuroforge/internal/domain/model"
	"neuroforge/internal/domain/ports/adapter"
	"neuroforge/internal/infra/metrics"
)

var _ adapter.ChatResponder = (*ChainResponder)(nil)

// ChainResponder tries each responder in order and returns the first reply.
type ChainResponder struct {
	chain []adapter.ChatResponder
	log   *zerolog.Logger
}

func NewChainResponder(logger *zerolog.Logger, chain ...adapter.ChatResponder) *ChainResponder {
	out := make([]adapter.ChatResponder, 0, len(chain))
	for _, r := range chain {
		if r != nil {
			out = append(out, r)
		}
	}
	chainLog := logger.With().Str("component", "ChatResponder").Logger()
	return &ChainResponder{chain: out, log: &chainLog}
}

func (c *ChainResponder) Name() string {
	if len(c.chain) == 0 {
		return "none"
	}
	return c.chain[0].Name()
}

func (c *ChainResponder) Respond(ctx context.Context, message string, history []model.ChatMessage) (string, error) {
	var errs []error
	for _, r := range c.chain {
		start := time.Now()
		reply, err := r.Respond(ctx, message, history)
		metrics.ObserveChat(r.Name(), int(time.Since(start).Milliseconds()), err == nil)
		if err == nil {
			return reply, nil
		}
		c.log.Warn().Err(err).Str("responder", r.Name()).Msg("responder failed; trying next")
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return "", errors.New("no chat responder configured")
	}
	return "", errors.Join(errs...)
}
