package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Sweeper is the periodic job the scheduler runs.
type Sweeper interface {
	// Sweep removes expired entries and returns how many it removed.
	Sweep(ctx context.Context) (int, error)
}

// Scheduler periodically runs a Sweeper.
type Scheduler struct {
	interval time.Duration
	sweeper  Sweeper
	clock    clockwork.Clock
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler runs sweeper.Sweep every interval. If interval <= 0 it defaults to 1 minute.
func NewScheduler(interval time.Duration, sweeper Sweeper, clock clockwork.Clock, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	schedLog := logger.With().Str("component", "Scheduler").Logger()
	return &Scheduler{
		interval: interval,
		sweeper:  sweeper,
		clock:    clock,
		log:      &schedLog,
		done:     make(chan struct{}),
	}
}

// Start begins the loop in a background goroutine. Calling Start again has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	ticker := s.clock.NewTicker(s.interval)
	go s.loop(ticker)
}

func (s *Scheduler) loop(ticker clockwork.Ticker) {
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-s.ctx.Done():
			s.log.Debug().Msg("scheduler context cancelled; stopping")
			return
		case <-ticker.Chan():
			runCtx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
			func() {
				defer cancel()
				n, err := s.sweeper.Sweep(runCtx)
				if err != nil {
					s.log.Warn().Err(err).Msg("sweep failed")
					return
				}
				if n > 0 {
					s.log.Info().Int("removed", n).Msg("sweep removed entries")
				}
			}()
		}
	}
}

// Stop cancels the scheduler and waits for the loop to finish. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	// reset for potential restart
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
	s.log.Info().Msg("scheduler stopped")
}
