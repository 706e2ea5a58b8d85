package usecase

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"neuroforge/internal/domain"
	"neuroforge/internal/domain/model"
	"neuroforge/internal/domain/ports/adapter"
	"neuroforge/internal/infra/logging"
	"neuroforge/internal/infra/metrics"
	"neuroforge/internal/infra/sched"
)

// Compile-time check
var _ LifecycleUseCase = (*lifecycleUC)(nil)

// LifecycleUseCase drives one training job from submission to a terminal outcome.
type LifecycleUseCase interface {
	// Start submits the job and begins polling. ctx bounds both the submission and
	// the polling that follows; if it ends before a terminal status, the outcome is
	// stopped.
	Start(ctx context.Context, modelID, datasetRef string) (model.JobID, error)
	State() (model.JobState, bool)
	Outcome() model.Outcome
	// Subscribe registers fn for every reconciled update. Handlers run on the poller
	// goroutine and must not call Start, Stop or Reset synchronously.
	Subscribe(fn func(model.Update)) (unsubscribe func())
	// Wait blocks until the lifecycle reaches an outcome and subscribers have seen it,
	// or ctx is done.
	Wait(ctx context.Context) (model.Outcome, error)
	Stop()
	Reset()
}

// Poller is satisfied by *sched.StatusPoller.
type Poller interface {
	Start(ctx context.Context, id model.JobID, interval time.Duration, cb sched.PollCallbacks) *sched.CancelToken
}

type LifecycleOptions struct {
	Interval               time.Duration
	MaxConsecutiveFailures int // 0 = unlimited
}

type lifecycleUC struct {
	submitter  adapter.JobSubmitter
	poller     Poller
	reconciler *Reconciler
	clock      clockwork.Clock
	opts       LifecycleOptions
	log        *zerolog.Logger

	// pubMu serializes state changes together with their publication so that
	// subscribers see updates in the order they were made.
	pubMu sync.Mutex

	mu       sync.RWMutex
	starting bool
	gen      uint64
	state    *model.JobState
	outcome  model.Outcome
	failures int
	lastErr  string
	token    *sched.CancelToken
	done     chan struct{}

	subsMu  sync.RWMutex
	subs    map[uint64]func(model.Update)
	nextSub uint64
}

func NewLifecycleUseCase(submitter adapter.JobSubmitter, poller Poller, reconciler *Reconciler, clock clockwork.Clock, opts LifecycleOptions, logger *zerolog.Logger) *lifecycleUC {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	lcLog := logger.With().Str("component", "Lifecycle").Logger()
	return &lifecycleUC{
		submitter:  submitter,
		poller:     poller,
		reconciler: reconciler,
		clock:      clock,
		opts:       opts,
		log:        &lcLog,
		subs:       make(map[uint64]func(model.Update)),
	}
}

func (l *lifecycleUC) Start(ctx context.Context, modelID, datasetRef string) (model.JobID, error) {
	defer logging.TraceDuration(l.log, "Lifecycle.Start")()

	l.mu.Lock()
	if l.starting || (l.state != nil && l.outcome == model.OutcomeNone) {
		l.mu.Unlock()
		return "", domain.ErrJobActive
	}
	l.starting = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.starting = false
		l.mu.Unlock()
	}()

	log := logging.With(ctx, l.log)
	id, err := l.submitter.Submit(ctx, modelID, datasetRef)
	if err != nil {
		metrics.IncSubmission(false)
		metrics.IncJobOutcome(string(model.OutcomeCouldNotStart))
		log.Error().Err(err).Str("model_id", modelID).Msg("training job could not start")

		l.pubMu.Lock()
		defer l.pubMu.Unlock()
		l.mu.Lock()
		l.gen++
		l.state = nil
		l.outcome = model.OutcomeCouldNotStart
		l.failures = 0
		l.lastErr = err.Error()
		l.token = nil
		done := make(chan struct{})
		l.done = done
		upd := l.updateLocked(nil)
		l.mu.Unlock()
		l.publish(upd)
		close(done)
		return "", err
	}
	metrics.IncSubmission(true)
	metrics.SetJobProgress(0)

	l.pubMu.Lock()
	defer l.pubMu.Unlock()
	l.mu.Lock()
	l.gen++
	gen := l.gen
	st := model.NewJobState(id, modelID, datasetRef, l.clock.Now())
	l.state = &st
	l.outcome = model.OutcomeNone
	l.failures = 0
	l.lastErr = ""
	l.done = make(chan struct{})
	l.token = l.poller.Start(ctx, id, l.opts.Interval, sched.PollCallbacks{
		OnSnapshot:  func(s model.Snapshot) { l.onSnapshot(gen, s) },
		OnTerminal:  func(s model.Snapshot) { l.onTerminal(gen, s) },
		OnPollError: func(err error) { l.onPollError(gen, err) },
		OnStopped:   func(err error) { l.onPollStopped(gen, err) },
	})
	upd := l.updateLocked(nil)
	l.mu.Unlock()

	log = logging.With(logging.WithJobID(ctx, string(id)), l.log)
	log.Info().Str("model_id", modelID).Dur("interval", l.opts.Interval).Msg("training job started; polling")
	l.publish(upd)
	return id, nil
}

func (l *lifecycleUC) onSnapshot(gen uint64, s model.Snapshot) {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	if gen != l.gen || l.state == nil {
		l.mu.Unlock()
		return
	}
	next, anomalies := l.reconciler.Reconcile(*l.state, s)
	l.state = &next
	l.failures = 0
	l.lastErr = ""
	upd := l.updateLocked(anomalies)
	l.mu.Unlock()

	for _, a := range anomalies {
		metrics.IncAnomaly(string(a.Kind))
		l.log.Warn().Str("job_id", string(a.JobID)).Str("kind", string(a.Kind)).
			Str("current", a.Current).Str("incoming", a.Incoming).Msg("snapshot anomaly ignored")
	}
	metrics.SetJobProgress(next.Progress)
	l.publish(upd)
}

func (l *lifecycleUC) onTerminal(gen uint64, s model.Snapshot) {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	if gen != l.gen || l.state == nil || l.outcome != model.OutcomeNone {
		l.mu.Unlock()
		return
	}
	status := l.state.Status
	if !status.IsTerminal() {
		status = s.Status
	}
	l.outcome = model.OutcomeFor(status)
	l.token = nil
	done := l.done
	upd := l.updateLocked(nil)
	l.mu.Unlock()

	metrics.IncJobOutcome(string(upd.Outcome))
	l.log.Info().Str("job_id", string(upd.State.ID)).Str("status", string(status)).
		Int("progress", upd.State.Progress).Msg("training job finished")
	l.publish(upd)
	close(done)
}

func (l *lifecycleUC) onPollError(gen uint64, err error) {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	if gen != l.gen || l.state == nil || l.outcome != model.OutcomeNone {
		l.mu.Unlock()
		return
	}
	l.failures++
	l.lastErr = err.Error()
	lost := l.opts.MaxConsecutiveFailures > 0 && l.failures >= l.opts.MaxConsecutiveFailures
	var done chan struct{}
	if lost {
		l.outcome = model.OutcomeConnectionLost
		if l.token != nil {
			l.token.Cancel()
			l.token = nil
		}
		done = l.done
	}
	upd := l.updateLocked(nil)
	l.mu.Unlock()

	if lost {
		metrics.IncJobOutcome(string(model.OutcomeConnectionLost))
		l.log.Error().Err(err).Str("job_id", string(upd.State.ID)).Int("failures", upd.PollFailures).
			Msg("lost connection to training service; polling stopped")
	}
	l.publish(upd)
	if done != nil {
		close(done)
	}
}

// onPollStopped ends a job whose polling context went away first.
func (l *lifecycleUC) onPollStopped(gen uint64, err error) {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	if gen != l.gen || l.state == nil || l.outcome != model.OutcomeNone {
		l.mu.Unlock()
		return
	}
	l.outcome = model.OutcomeStopped
	if err != nil {
		l.lastErr = err.Error()
	}
	l.token = nil
	done := l.done
	upd := l.updateLocked(nil)
	l.mu.Unlock()

	metrics.IncJobOutcome(string(model.OutcomeStopped))
	l.log.Warn().Err(err).Str("job_id", string(upd.State.ID)).Int("progress", upd.State.Progress).
		Msg("polling context ended before the job finished")
	l.publish(upd)
	close(done)
}

func (l *lifecycleUC) State() (model.JobState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state == nil {
		return model.JobState{}, false
	}
	return l.state.Clone(), true
}

func (l *lifecycleUC) Outcome() model.Outcome {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.outcome
}

func (l *lifecycleUC) Subscribe(fn func(model.Update)) func() {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	l.nextSub++
	id := l.nextSub
	l.subs[id] = fn
	return func() {
		l.subsMu.Lock()
		defer l.subsMu.Unlock()
		delete(l.subs, id)
	}
}

func (l *lifecycleUC) Wait(ctx context.Context) (model.Outcome, error) {
	l.mu.RLock()
	done := l.done
	l.mu.RUnlock()
	if done == nil {
		return model.OutcomeNone, domain.ErrNotFound
	}
	select {
	case <-done:
		return l.Outcome(), nil
	case <-ctx.Done():
		return model.OutcomeNone, ctx.Err()
	}
}

// Stop cancels polling of the active job. The job keeps its last reconciled state.
func (l *lifecycleUC) Stop() {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	if l.state == nil || l.outcome != model.OutcomeNone {
		l.mu.Unlock()
		return
	}
	l.outcome = model.OutcomeStopped
	if l.token != nil {
		l.token.Cancel()
		l.token = nil
	}
	done := l.done
	upd := l.updateLocked(nil)
	l.mu.Unlock()

	metrics.IncJobOutcome(string(model.OutcomeStopped))
	l.log.Info().Str("job_id", string(upd.State.ID)).Msg("polling stopped by user")
	l.publish(upd)
	close(done)
}

// Reset stops polling and discards the job so a new one can be started.
func (l *lifecycleUC) Reset() {
	l.Stop()

	l.pubMu.Lock()
	defer l.pubMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	l.state = nil
	l.outcome = model.OutcomeNone
	l.failures = 0
	l.lastErr = ""
	l.token = nil
	l.done = nil
}

func (l *lifecycleUC) updateLocked(anomalies []model.Anomaly) model.Update {
	u := model.Update{
		Outcome:      l.outcome,
		PollFailures: l.failures,
		Anomalies:    anomalies,
		LastError:    l.lastErr,
	}
	if l.state != nil {
		u.State = l.state.Clone()
	}
	return u
}

func (l *lifecycleUC) publish(u model.Update) {
	l.subsMu.RLock()
	handlers := make([]func(model.Update), 0, len(l.subs))
	for _, fn := range l.subs {
		handlers = append(handlers, fn)
	}
	l.subsMu.RUnlock()

	for _, fn := range handlers {
		l.safeCall(fn, u)
	}
}

// safeCall keeps one panicking subscriber from stopping delivery to the rest.
func (l *lifecycleUC) safeCall(fn func(model.Update), u model.Update) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("update subscriber panicked")
		}
	}()
	fn(u)
}
