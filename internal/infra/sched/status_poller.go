package sched

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"neuroforge/internal/domain/model"
	"neuroforge/internal/domain/ports/adapter"
	"neuroforge/internal/infra/logging"
	"neuroforge/internal/infra/metrics"
)

// PollCallbacks receive poller events on the poller goroutine, in arrival order.
// Nil callbacks are skipped.
type PollCallbacks struct {
	OnSnapshot  func(model.Snapshot)
	OnTerminal  func(model.Snapshot)
	OnPollError func(error)
	// OnStopped runs when ctx ends the loop before a terminal status. It does not
	// run after CancelToken.Cancel.
	OnStopped func(error)
}

// CancelToken stops a running poll loop. Cancel is idempotent and safe after the
// loop has already ended on its own.
type CancelToken struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func newCancelToken() *CancelToken {
	return &CancelToken{stop: make(chan struct{}), done: make(chan struct{})}
}

// Cancel prevents any further tick from fetching. A fetch already in flight is not
// aborted and its result is still delivered.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.stop) })
}

// Done is closed once the poll loop has exited.
func (t *CancelToken) Done() <-chan struct{} { return t.done }

func (t *CancelToken) cancelled() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

// StatusPoller fetches a job's status on a fixed cadence until a terminal status
// is observed or the poll is cancelled.
type StatusPoller struct {
	fetcher      adapter.StatusFetcher
	clock        clockwork.Clock
	fetchTimeout time.Duration
	log          *zerolog.Logger
}

// NewStatusPoller builds a poller. fetchTimeout <= 0 means each fetch is bounded by
// the poll interval.
func NewStatusPoller(fetcher adapter.StatusFetcher, clock clockwork.Clock, fetchTimeout time.Duration, logger *zerolog.Logger) *StatusPoller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	pollLog := logger.With().Str("component", "StatusPoller").Logger()
	return &StatusPoller{
		fetcher:      fetcher,
		clock:        clock,
		fetchTimeout: fetchTimeout,
		log:          &pollLog,
	}
}

// Start begins polling id every interval in a background goroutine. The first fetch
// happens one interval after Start. Fetches run inline in the loop, so a second fetch
// for the same job can never start while one is outstanding.
func (p *StatusPoller) Start(ctx context.Context, id model.JobID, interval time.Duration, cb PollCallbacks) *CancelToken {
	if interval <= 0 {
		interval = time.Second
	}
	tok := newCancelToken()
	ticker := p.clock.NewTicker(interval)
	go p.loop(logging.WithJobID(ctx, string(id)), id, interval, ticker, cb, tok)
	return tok
}

func (p *StatusPoller) loop(ctx context.Context, id model.JobID, interval time.Duration, ticker clockwork.Ticker, cb PollCallbacks, tok *CancelToken) {
	defer func() {
		ticker.Stop()
		close(tok.done)
	}()

	log := logging.With(ctx, p.log)
	log.Debug().Dur("interval", interval).Msg("polling started")
	stopped := func() {
		log.Debug().Err(ctx.Err()).Msg("context ended; polling stopped")
		if cb.OnStopped != nil && !tok.cancelled() {
			cb.OnStopped(ctx.Err())
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopped()
			return
		case <-tok.stop:
			log.Debug().Msg("polling cancelled")
			return
		case <-ticker.Chan():
		}
		// A tick and a cancel can be ready together; cancel wins.
		if tok.cancelled() {
			log.Debug().Msg("polling cancelled")
			return
		}

		snap, err := p.fetch(ctx, id, interval)
		if err != nil {
			if ctx.Err() != nil {
				stopped()
				return
			}
			log.Warn().Err(err).Msg("status poll failed")
			if cb.OnPollError != nil {
				cb.OnPollError(err)
			}
			continue
		}
		if cb.OnSnapshot != nil {
			cb.OnSnapshot(snap)
		}
		if snap.Status.IsTerminal() {
			log.Info().Str("status", string(snap.Status)).Msg("terminal status observed; polling stopped")
			if cb.OnTerminal != nil {
				cb.OnTerminal(snap)
			}
			return
		}
	}
}

func (p *StatusPoller) fetch(ctx context.Context, id model.JobID, interval time.Duration) (model.Snapshot, error) {
	timeout := p.fetchTimeout
	if timeout <= 0 {
		timeout = interval
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	snap, err := p.fetcher.FetchStatus(fetchCtx, id)
	metrics.ObservePoll(err, time.Since(start))
	return snap, err
}
