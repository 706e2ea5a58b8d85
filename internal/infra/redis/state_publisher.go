package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"neuroforge/internal/domain"
	"neuroforge/internal/domain/model"
)

const (
	keyPrefix      = "neuroforge:job:"
	publishTimeout = 2 * time.Second
)

// ChannelFor is the pub/sub channel carrying every update of job id.
func ChannelFor(id model.JobID) string { return keyPrefix + string(id) }

// StateKeyFor holds the latest update of job id.
func StateKeyFor(id model.JobID) string { return keyPrefix + string(id) + ":state" }

// StatePublisher mirrors reconciled job updates into Redis so a UI that joins late can
// render the current state before the next poll.
type StatePublisher struct {
	client RedisClient
	ttl    time.Duration
	log    *zerolog.Logger
}

func NewStatePublisher(client RedisClient, ttl time.Duration, logger *zerolog.Logger) *StatePublisher {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	pubLog := logger.With().Str("component", "StatePublisher").Logger()
	return &StatePublisher{client: client, ttl: ttl, log: &pubLog}
}

// Publish sends u on the job channel and stores it as the latest state. Updates without
// a job (a submission that never started) are skipped.
func (p *StatePublisher) Publish(ctx context.Context, u model.Update) error {
	if u.State.ID == "" {
		return nil
	}
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, ChannelFor(u.State.ID), data); err != nil {
		return fmt.Errorf("publish %s: %w", u.State.ID, err)
	}
	if err := p.client.Set(ctx, StateKeyFor(u.State.ID), data, p.ttl); err != nil {
		return fmt.Errorf("store %s: %w", u.State.ID, err)
	}
	return nil
}

// Latest returns the stored update for id, or domain.ErrNotFound once it expired.
func (p *StatePublisher) Latest(ctx context.Context, id model.JobID) (model.Update, error) {
	data, err := p.client.Get(ctx, StateKeyFor(id))
	if err != nil {
		if IsNil(err) {
			return model.Update{}, domain.ErrNotFound
		}
		return model.Update{}, err
	}
	var u model.Update
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return model.Update{}, err
	}
	return u, nil
}

// Subscriber adapts Publish to the lifecycle subscription signature. Failures are
// logged and never reach the lifecycle.
func (p *StatePublisher) Subscriber(ctx context.Context) func(model.Update) {
	return func(u model.Update) {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := p.Publish(pctx, u); err != nil {
			p.log.Warn().Err(err).Str("job_id", string(u.State.ID)).Msg("redis publish failed")
		}
	}
}
