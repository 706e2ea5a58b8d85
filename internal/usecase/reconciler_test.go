//go:build !integration

package usecase

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"neuroforge/internal/domain"
	"neuroforge/internal/domain/model"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newState() model.JobState {
	return model.NewJobState("abc123", "llama-3-8b", "/data/train.jsonl", epoch)
}

func sn(st model.JobStatus, progress int, logs ...string) model.Snapshot {
	return model.Snapshot{JobID: "abc123", Status: st, Progress: progress, Logs: logs}
}

func TestReconcile_Scenario(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := NewReconciler(clock, LogMergeByValue)
	st := newState()

	steps := []struct {
		in            model.Snapshot
		wantStatus    model.JobStatus
		wantProgress  int
		wantLogs      int
		wantAnomalies int
	}{
		{sn(model.JobStatusPending, 0), model.JobStatusPending, 0, 0, 0},
		{sn(model.JobStatusTraining, 40, "Epoch 1/3"), model.JobStatusTraining, 40, 1, 0},
		{sn(model.JobStatusTraining, 35, "Epoch 1/3"), model.JobStatusTraining, 40, 1, 1},
		{sn(model.JobStatusCompleted, 100, "Epoch 1/3", "done"), model.JobStatusCompleted, 100, 2, 0},
	}
	for i, s := range steps {
		clock.Advance(time.Second)
		var anomalies []model.Anomaly
		st, anomalies = r.Reconcile(st, s.in)
		if st.Status != s.wantStatus || st.Progress != s.wantProgress || len(st.LogHistory) != s.wantLogs {
			t.Fatalf("step %d: unexpected state %+v", i, st)
		}
		if len(anomalies) != s.wantAnomalies {
			t.Fatalf("step %d: expected %d anomalies, got %v", i, s.wantAnomalies, anomalies)
		}
		if s.wantAnomalies > 0 && !errors.Is(anomalies[0], domain.ErrProgressRegression) {
			t.Fatalf("step %d: expected progress regression, got %v", i, anomalies[0])
		}
	}
	if !reflect.DeepEqual(st.LogHistory, []string{"Epoch 1/3", "done"}) {
		t.Fatalf("unexpected log history %v", st.LogHistory)
	}
	if st.TerminatedAt == nil || !st.TerminatedAt.Equal(epoch.Add(4*time.Second)) {
		t.Fatalf("expected TerminatedAt at the terminal reconcile, got %v", st.TerminatedAt)
	}
}

func TestReconcile_TerminalIsSticky(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := NewReconciler(clock, LogMergeByValue)

	done, _ := r.Reconcile(newState(), sn(model.JobStatusCompleted, 100, "done"))
	frozen := done.Clone()

	for _, in := range []model.Snapshot{
		sn(model.JobStatusTraining, 10, "late"),
		sn(model.JobStatusFailed, 0),
		sn(model.JobStatusPending, 0, "x", "y"),
	} {
		clock.Advance(time.Minute)
		next, anomalies := r.Reconcile(done, in)
		if len(anomalies) != 0 {
			t.Fatalf("terminal state must not report anomalies, got %v", anomalies)
		}
		if !reflect.DeepEqual(next, frozen) {
			t.Fatalf("terminal state changed: %+v -> %+v", frozen, next)
		}
	}
}

func TestReconcile_StatusRegressionKeepsCurrent(t *testing.T) {
	r := NewReconciler(clockwork.NewFakeClockAt(epoch), LogMergeByValue)
	st, _ := r.Reconcile(newState(), sn(model.JobStatusTraining, 20))
	st, anomalies := r.Reconcile(st, sn(model.JobStatusPending, 20))
	if st.Status != model.JobStatusTraining {
		t.Fatalf("status must not move backwards, got %s", st.Status)
	}
	if len(anomalies) != 1 || !errors.Is(anomalies[0], domain.ErrStatusRegression) {
		t.Fatalf("expected one status regression, got %v", anomalies)
	}
}

func TestReconcile_FailedWithLowerProgressIsNotAnomaly(t *testing.T) {
	r := NewReconciler(clockwork.NewFakeClockAt(epoch), LogMergeByValue)
	st, _ := r.Reconcile(newState(), sn(model.JobStatusTraining, 70))
	st, anomalies := r.Reconcile(st, sn(model.JobStatusFailed, 0, "CUDA out of memory"))
	if len(anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %v", anomalies)
	}
	if st.Status != model.JobStatusFailed || st.Progress != 70 {
		t.Fatalf("unexpected state %+v", st)
	}
	if st.TerminatedAt == nil {
		t.Fatal("TerminatedAt must be set on failure")
	}
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	r := NewReconciler(clockwork.NewFakeClockAt(epoch), LogMergeByValue)
	cur := newState()
	cur.LogHistory = make([]string, 1, 8) // spare capacity must not be shared
	cur.LogHistory[0] = "a"
	before := cur.Clone()

	next, _ := r.Reconcile(cur, sn(model.JobStatusTraining, 10, "a", "b"))
	if !reflect.DeepEqual(cur, before) {
		t.Fatalf("input mutated: %+v", cur)
	}
	next.LogHistory[0] = "changed"
	if cur.LogHistory[0] != "a" {
		t.Fatal("result shares log memory with input")
	}
}

func TestReconcile_LogMergeStrategies(t *testing.T) {
	full := [][]string{
		{"load"},
		{"load", "epoch 1"},
		{"load", "epoch 1"},
		{"load", "epoch 1", "epoch 2"},
	}
	incremental := [][]string{
		{"load"},
		{"epoch 1"},
		{},
		{"epoch 2"},
	}
	repeated := [][]string{
		{"tick"},
		{"tick", "tick"},
		{"tick", "tick", "tick"},
	}

	testCases := []struct {
		name  string
		merge LogMerge
		input [][]string
		want  []string
	}{
		{"value/full", LogMergeByValue, full, []string{"load", "epoch 1", "epoch 2"}},
		{"value/incremental", LogMergeByValue, incremental, []string{"load", "epoch 1", "epoch 2"}},
		{"value/repeated lines collapse", LogMergeByValue, repeated, []string{"tick"}},
		{"offset/full", LogMergeByOffset, full, []string{"load", "epoch 1", "epoch 2"}},
		{"offset/repeated lines kept", LogMergeByOffset, repeated, []string{"tick", "tick", "tick"}},
		{"offset/incremental loses lines", LogMergeByOffset, incremental, []string{"load"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReconciler(clockwork.NewFakeClockAt(epoch), tc.merge)
			st := newState()
			for _, logs := range tc.input {
				st, _ = r.Reconcile(st, sn(model.JobStatusTraining, 1, logs...))
			}
			if !reflect.DeepEqual(st.LogHistory, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, st.LogHistory)
			}
		})
	}
}

var statuses = []model.JobStatus{
	model.JobStatusPending, model.JobStatusTraining, model.JobStatusCompleted, model.JobStatusFailed,
}

// randomSnapshots mixes full-history and incremental shapes over a fixed line pool.
func randomSnapshots(rng *rand.Rand, n int) ([]model.Snapshot, map[string]struct{}) {
	pool := make([]string, 12)
	for i := range pool {
		pool[i] = fmt.Sprintf("line %d", i)
	}
	seen := map[string]struct{}{}
	out := make([]model.Snapshot, n)
	for i := range out {
		var logs []string
		if rng.Intn(2) == 0 {
			logs = append(logs, pool[:rng.Intn(len(pool)+1)]...)
		} else {
			start := rng.Intn(len(pool))
			logs = append(logs, pool[start:start+rng.Intn(len(pool)-start+1)]...)
		}
		st := statuses[rng.Intn(2)]
		if rng.Intn(10) == 0 {
			st = statuses[rng.Intn(len(statuses))]
		}
		out[i] = sn(st, rng.Intn(101), logs...)
	}
	return out, seen
}

func TestReconcile_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		r := NewReconciler(clockwork.NewFakeClockAt(epoch), LogMergeByValue)
		snaps, seen := randomSnapshots(rng, 1+rng.Intn(20))

		st := newState()
		var frozen *model.JobState
		for i, in := range snaps {
			prev := st
			st, _ = r.Reconcile(st, in)

			if frozen != nil {
				if !reflect.DeepEqual(st, *frozen) {
					t.Fatalf("iter %d step %d: terminal state changed", iter, i)
				}
				continue
			}
			for _, l := range in.Logs {
				seen[l] = struct{}{}
			}
			if st.Progress < prev.Progress {
				t.Fatalf("iter %d step %d: progress decreased %d -> %d", iter, i, prev.Progress, st.Progress)
			}
			if st.Status.Rank() < prev.Status.Rank() {
				t.Fatalf("iter %d step %d: status moved back %s -> %s", iter, i, prev.Status, st.Status)
			}
			if len(st.LogHistory) < len(prev.LogHistory) {
				t.Fatalf("iter %d step %d: log history shrank", iter, i)
			}
			if len(st.LogHistory) != len(seen) {
				t.Fatalf("iter %d step %d: expected %d distinct lines, got %d", iter, i, len(seen), len(st.LogHistory))
			}
			if st.IsTerminal() {
				cp := st.Clone()
				frozen = &cp
			}
		}
	}
}

func TestParseLogMerge(t *testing.T) {
	if m, err := ParseLogMerge(""); err != nil || m != LogMergeByValue {
		t.Fatalf("empty should default to value, got %q %v", m, err)
	}
	if m, err := ParseLogMerge("offset"); err != nil || m != LogMergeByOffset {
		t.Fatalf("expected offset, got %q %v", m, err)
	}
	if _, err := ParseLogMerge("lines"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
