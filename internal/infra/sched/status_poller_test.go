//go:build !integration

package sched

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"neuroforge/internal/domain"
	"neuroforge/internal/domain/model"
	"neuroforge/internal/infra/logging"
)

const interval = time.Second

func newLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type fetchResult struct {
	snap model.Snapshot
	err  error
}

// fakeFetcher replays scripted results; the last one repeats. When gate is set,
// every fetch blocks until a value is received on it. When hang is set, every
// fetch blocks until its context ends.
type fakeFetcher struct {
	mu          sync.Mutex
	results     []fetchResult
	calls       int
	inFlight    int
	maxInFlight int

	gate    chan struct{}
	hang    bool
	started chan struct{}
}

func newFakeFetcher(results ...fetchResult) *fakeFetcher {
	return &fakeFetcher{results: results, started: make(chan struct{}, 64)}
}

func (f *fakeFetcher) FetchStatus(ctx context.Context, id model.JobID) (model.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	idx := f.calls - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	res := f.results[idx]
	gate := f.gate
	hang := f.hang
	f.mu.Unlock()

	f.started <- struct{}{}
	if hang {
		<-ctx.Done()
		res = fetchResult{err: ctx.Err()}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return res.snap, res.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	snaps     chan model.Snapshot
	terminals chan model.Snapshot
	errs      chan error
	stops     chan error
}

func newRecorder() *recorder {
	return &recorder{
		snaps:     make(chan model.Snapshot, 16),
		terminals: make(chan model.Snapshot, 16),
		errs:      make(chan error, 16),
		stops:     make(chan error, 16),
	}
}

func (r *recorder) callbacks() PollCallbacks {
	return PollCallbacks{
		OnSnapshot:  func(s model.Snapshot) { r.snaps <- s },
		OnTerminal:  func(s model.Snapshot) { r.terminals <- s },
		OnPollError: func(err error) { r.errs <- err },
		OnStopped:   func(err error) { r.stops <- err },
	}
}

func wait[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func snap(st model.JobStatus, progress int, logs ...string) fetchResult {
	return fetchResult{snap: model.Snapshot{JobID: "abc123", Status: st, Progress: progress, Logs: logs}}
}

func TestStatusPoller_FirstFetchAfterOneInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := newFakeFetcher(snap(model.JobStatusPending, 0))
	rec := newRecorder()
	p := NewStatusPoller(f, clock, 0, newLogger())

	tok := p.Start(context.Background(), "abc123", interval, rec.callbacks())
	defer tok.Cancel()
	clock.BlockUntil(1)

	clock.Advance(interval - time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if n := f.callCount(); n != 0 {
		t.Fatalf("expected no fetch before the first interval, got %d", n)
	}

	clock.Advance(time.Millisecond)
	got := wait(t, rec.snaps, "first snapshot")
	if got.Status != model.JobStatusPending {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestStatusPoller_StopsOnTerminal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := newFakeFetcher(
		snap(model.JobStatusPending, 0),
		snap(model.JobStatusTraining, 40, "Epoch 1/3"),
		snap(model.JobStatusTraining, 35, "Epoch 1/3"),
		snap(model.JobStatusCompleted, 100, "Epoch 1/3", "done"),
	)
	rec := newRecorder()
	p := NewStatusPoller(f, clock, 0, newLogger())

	tok := p.Start(context.Background(), "abc123", interval, rec.callbacks())
	clock.BlockUntil(1)

	for i := 0; i < 4; i++ {
		clock.Advance(interval)
		wait(t, rec.snaps, "snapshot")
	}
	term := wait(t, rec.terminals, "terminal")
	if term.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed terminal snapshot, got %s", term.Status)
	}
	waitClosed(t, tok.Done(), "loop exit")

	for i := 0; i < 5; i++ {
		clock.Advance(interval)
	}
	time.Sleep(20 * time.Millisecond)
	if n := f.callCount(); n != 4 {
		t.Fatalf("expected exactly 4 fetches, got %d", n)
	}
	if len(rec.terminals) != 0 {
		t.Fatal("terminal callback must fire exactly once")
	}

	// Cancel after natural termination is a no-op.
	tok.Cancel()
	tok.Cancel()
}

func TestStatusPoller_ErrorsAreNonFatal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	boom := errors.New("connection refused")
	f := newFakeFetcher(
		fetchResult{err: boom},
		fetchResult{err: domain.ErrMalformedSnapshot},
		snap(model.JobStatusFailed, 60, "OOM"),
	)
	rec := newRecorder()
	p := NewStatusPoller(f, clock, 0, newLogger())

	tok := p.Start(context.Background(), "abc123", interval, rec.callbacks())
	clock.BlockUntil(1)

	clock.Advance(interval)
	if err := wait(t, rec.errs, "first error"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	clock.Advance(interval)
	if err := wait(t, rec.errs, "second error"); !errors.Is(err, domain.ErrMalformedSnapshot) {
		t.Fatalf("expected malformed, got %v", err)
	}
	clock.Advance(interval)
	wait(t, rec.snaps, "snapshot")
	if term := wait(t, rec.terminals, "terminal"); term.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", term.Status)
	}
	waitClosed(t, tok.Done(), "loop exit")
}

func TestStatusPoller_NoOverlappingFetches(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := newFakeFetcher(snap(model.JobStatusTraining, 10))
	f.gate = make(chan struct{})
	rec := newRecorder()
	p := NewStatusPoller(f, clock, time.Hour, newLogger())

	tok := p.Start(context.Background(), "abc123", interval, rec.callbacks())
	defer tok.Cancel()
	clock.BlockUntil(1)

	clock.Advance(interval)
	wait(t, f.started, "first fetch")

	// Ticks pile up while the first fetch is outstanding.
	for i := 0; i < 5; i++ {
		clock.Advance(interval)
	}
	time.Sleep(20 * time.Millisecond)
	if n := f.callCount(); n != 1 {
		t.Fatalf("expected one outstanding fetch, got %d", n)
	}

	f.gate <- struct{}{}
	wait(t, rec.snaps, "first snapshot")

	// At most one queued tick survives, so exactly one more fetch starts.
	wait(t, f.started, "queued fetch")
	f.gate <- struct{}{}
	wait(t, rec.snaps, "second snapshot")
	time.Sleep(20 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxInFlight != 1 {
		t.Fatalf("expected at most 1 fetch in flight, got %d", f.maxInFlight)
	}
	if f.calls != 2 {
		t.Fatalf("expected 2 fetches, got %d", f.calls)
	}
}

func TestStatusPoller_CancelStopsFutureTicks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := newFakeFetcher(snap(model.JobStatusTraining, 10))
	rec := newRecorder()
	p := NewStatusPoller(f, clock, 0, newLogger())

	tok := p.Start(context.Background(), "abc123", interval, rec.callbacks())
	clock.BlockUntil(1)

	clock.Advance(interval)
	wait(t, rec.snaps, "snapshot")

	tok.Cancel()
	tok.Cancel()
	waitClosed(t, tok.Done(), "loop exit")

	for i := 0; i < 10; i++ {
		clock.Advance(interval)
	}
	time.Sleep(20 * time.Millisecond)
	if n := f.callCount(); n != 1 {
		t.Fatalf("expected no fetch after cancel, got %d total", n)
	}
	if len(rec.stops) != 0 {
		t.Fatal("cancel must not report a context stop")
	}
}

func TestStatusPoller_InFlightResultDeliveredAfterCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := newFakeFetcher(snap(model.JobStatusTraining, 55, "step"))
	f.gate = make(chan struct{})
	rec := newRecorder()
	p := NewStatusPoller(f, clock, time.Hour, newLogger())

	tok := p.Start(context.Background(), "abc123", interval, rec.callbacks())
	clock.BlockUntil(1)

	clock.Advance(interval)
	wait(t, f.started, "fetch")

	tok.Cancel()
	f.gate <- struct{}{}

	got := wait(t, rec.snaps, "in-flight snapshot")
	if got.Progress != 55 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	waitClosed(t, tok.Done(), "loop exit")
	if n := f.callCount(); n != 1 {
		t.Fatalf("expected 1 fetch, got %d", n)
	}
}

func TestStatusPoller_ContextCancelStopsLoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := newFakeFetcher(snap(model.JobStatusTraining, 10))
	p := NewStatusPoller(f, clock, 0, newLogger())

	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	tok := p.Start(ctx, "abc123", interval, rec.callbacks())
	clock.BlockUntil(1)

	cancel()
	if err := wait(t, rec.stops, "stop callback"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	waitClosed(t, tok.Done(), "loop exit")
	if len(rec.errs) != 0 || len(rec.terminals) != 0 {
		t.Fatal("a context stop is neither a poll error nor a terminal status")
	}
}

func TestStatusPoller_ContextCancelDuringFetch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := newFakeFetcher(snap(model.JobStatusTraining, 10))
	f.hang = true
	rec := newRecorder()
	p := NewStatusPoller(f, clock, time.Hour, newLogger())

	ctx, cancel := context.WithCancel(context.Background())
	tok := p.Start(ctx, "abc123", interval, rec.callbacks())
	clock.BlockUntil(1)

	clock.Advance(interval)
	wait(t, f.started, "fetch")
	cancel()

	if err := wait(t, rec.stops, "stop callback"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	waitClosed(t, tok.Done(), "loop exit")
	if len(rec.errs) != 0 {
		t.Fatalf("a cancelled fetch is not a poll error, got %v", <-rec.errs)
	}
}

func TestStatusPoller_HungFetchTimesOut(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := newFakeFetcher(snap(model.JobStatusTraining, 10))
	f.hang = true
	rec := newRecorder()
	p := NewStatusPoller(f, clock, 20*time.Millisecond, newLogger())

	tok := p.Start(context.Background(), "abc123", interval, rec.callbacks())
	defer tok.Cancel()
	clock.BlockUntil(1)

	for i := 1; i <= 2; i++ {
		clock.Advance(interval)
		wait(t, f.started, "fetch")
		err := wait(t, rec.errs, "timeout error")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("fetch %d: expected deadline exceeded, got %v", i, err)
		}
		if n := f.callCount(); n != i {
			t.Fatalf("expected %d fetches, got %d", i, n)
		}
	}
	if len(rec.stops) != 0 {
		t.Fatal("a fetch timeout must not stop polling")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStatusPoller_LogsCarryJobAndTrace(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := newFakeFetcher(fetchResult{err: errors.New("connection refused")})
	rec := newRecorder()
	out := &syncBuffer{}
	logger := zerolog.New(out)
	p := NewStatusPoller(f, clock, 0, &logger)

	ctx := logging.WithTraceID(context.Background(), "trace-7")
	tok := p.Start(ctx, "abc123", interval, rec.callbacks())
	defer tok.Cancel()
	clock.BlockUntil(1)

	clock.Advance(interval)
	wait(t, rec.errs, "poll error")

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if strings.Contains(line, `"message":"status poll failed"`) {
			found = true
			if !strings.Contains(line, `"job_id":"abc123"`) || !strings.Contains(line, `"trace_id":"trace-7"`) {
				t.Fatalf("poll log lacks job or trace id: %s", line)
			}
		}
	}
	if !found {
		t.Fatalf("no poll failure logged in %q", out.String())
	}
}
