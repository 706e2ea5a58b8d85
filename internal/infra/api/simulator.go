package api

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"neuroforge/internal/domain"
	"neuroforge/internal/domain/model"
	"neuroforge/internal/infra/worker"
)

// failAtProgress is where runs on a dataset whose name contains "fail" break.
const failAtProgress = 60

type SimulatorOptions struct {
	Steps     int
	StepEvery time.Duration
	Retention time.Duration // finished runs are swept after this long; 0 keeps them
}

type simJob struct {
	snap       model.Snapshot
	finishedAt time.Time
}

// Simulator keeps an in-memory table of simulated training runs and executes them on
// the worker pool.
type Simulator struct {
	pool   *worker.Pool
	runner *worker.TrainingRunner
	clock  clockwork.Clock
	opts   SimulatorOptions
	log    *zerolog.Logger

	mu      sync.RWMutex
	entropy io.Reader
	jobs    map[model.JobID]*simJob
}

func NewSimulator(pool *worker.Pool, clock clockwork.Clock, opts SimulatorOptions, logger *zerolog.Logger) *Simulator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Steps <= 0 {
		opts.Steps = 10
	}
	simLog := logger.With().Str("component", "Simulator").Logger()
	s := &Simulator{
		pool:    pool,
		clock:   clock,
		opts:    opts,
		log:     &simLog,
		entropy: ulid.Monotonic(rand.Reader, 0),
		jobs:    make(map[model.JobID]*simJob),
	}
	s.runner = worker.NewTrainingRunner(s, clock, logger)
	return s
}

// Submit registers a pending run and queues it on the pool.
func (s *Simulator) Submit(modelID, datasetRef string) (model.Snapshot, error) {
	modelID = strings.TrimSpace(modelID)
	datasetRef = strings.TrimSpace(datasetRef)
	if modelID == "" || datasetRef == "" {
		return model.Snapshot{}, fmt.Errorf("%w: model_id and dataset_path are required", domain.ErrInvalidArgument)
	}
	if _, err := model.LookupModel(modelID); err != nil {
		return model.Snapshot{}, err
	}

	s.mu.Lock()
	// Monotonic entropy is not safe for concurrent use; s.mu guards it.
	id := model.JobID(strings.ToLower(ulid.MustNew(ulid.Timestamp(s.clock.Now()), s.entropy).String()))
	j := &simJob{snap: model.Snapshot{JobID: id, Status: model.JobStatusPending, Logs: []string{}}}
	s.jobs[id] = j
	out := cloneSnapshot(&j.snap)
	s.mu.Unlock()

	job := worker.TrainingJob{
		ID:         id,
		ModelID:    modelID,
		DatasetRef: datasetRef,
		Steps:      s.opts.Steps,
		StepEvery:  s.opts.StepEvery,
	}
	if strings.Contains(strings.ToLower(datasetRef), "fail") {
		job.FailAt = failAtProgress
	}
	if err := s.pool.Submit(s.runner.Task(job)); err != nil {
		s.mu.Lock()
		delete(s.jobs, id)
		s.mu.Unlock()
		return model.Snapshot{}, err
	}

	s.log.Info().Str("job_id", string(id)).Str("model_id", modelID).Bool("will_fail", job.FailAt > 0).Msg("training job accepted")
	return out, nil
}

// Status returns the full snapshot of a run, including every log line so far.
func (s *Simulator) Status(id model.JobID) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.Snapshot{}, domain.ErrNotFound
	}
	return cloneSnapshot(&j.snap), nil
}

// Update implements worker.JobRecorder.
func (s *Simulator) Update(id model.JobID, fn func(*model.Snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&j.snap)
	if j.snap.Status.IsTerminal() && j.finishedAt.IsZero() {
		j.finishedAt = s.clock.Now()
	}
	return nil
}

// Sweep drops finished runs older than the retention period.
func (s *Simulator) Sweep(ctx context.Context) (int, error) {
	if s.opts.Retention <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().Add(-s.opts.Retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if !j.finishedAt.IsZero() && j.finishedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func cloneSnapshot(s *model.Snapshot) model.Snapshot {
	out := *s
	out.Logs = append(make([]string, 0, len(s.Logs)), s.Logs...)
	return out
}
