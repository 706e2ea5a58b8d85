package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"neuroforge/internal/domain/model"
	"neuroforge/internal/infra/metrics"
)

var ErrSimulatedFailure = errors.New("simulated training failure")

// JobRecorder stores the progress of simulated runs.
type JobRecorder interface {
	Update(id model.JobID, fn func(*model.Snapshot)) error
}

// TrainingJob describes one simulated run.
type TrainingJob struct {
	ID         model.JobID
	ModelID    string
	DatasetRef string
	Steps      int
	StepEvery  time.Duration
	FailAt     int // progress percentage at which the run fails; 0 = never
}

// TrainingRunner advances simulated training runs on a clock. It never trains anything.
type TrainingRunner struct {
	rec   JobRecorder
	clock clockwork.Clock
	log   *zerolog.Logger
}

func NewTrainingRunner(rec JobRecorder, clock clockwork.Clock, logger *zerolog.Logger) *TrainingRunner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	runLog := logger.With().Str("component", "TrainingRunner").Logger()
	return &TrainingRunner{rec: rec, clock: clock, log: &runLog}
}

// Task wraps job for submission to a Pool.
func (r *TrainingRunner) Task(job TrainingJob) Task {
	return func(ctx context.Context) error {
		return r.Run(ctx, job)
	}
}

// Run blocks until job reaches a terminal status or ctx is done. A cancelled run is
// recorded as failed.
func (r *TrainingRunner) Run(ctx context.Context, job TrainingJob) error {
	if job.Steps <= 0 {
		job.Steps = 1
	}
	metrics.IncTrainerJobStarted()
	r.log.Info().Str("job_id", string(job.ID)).Str("model_id", job.ModelID).Int("steps", job.Steps).Msg("training run started")
	start := r.clock.Now()

	err := r.handle(ctx, job)

	status := model.JobStatusCompleted
	if err != nil {
		status = model.JobStatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			_ = r.rec.Update(job.ID, func(s *model.Snapshot) {
				s.Status = model.JobStatusFailed
				s.Logs = append(s.Logs, "Training interrupted: service shutting down")
			})
		}
		r.log.Warn().Err(err).Str("job_id", string(job.ID)).Msg("training run failed")
	}
	metrics.IncTrainerJobFinished(string(status))
	r.log.Info().Str("job_id", string(job.ID)).Str("status", string(status)).
		Dur("duration_ms", r.clock.Since(start)).Msg("training run finished")
	return err
}

func (r *TrainingRunner) handle(ctx context.Context, job TrainingJob) error {
	if err := r.wait(ctx, job.StepEvery); err != nil {
		return err
	}
	if err := r.rec.Update(job.ID, func(s *model.Snapshot) {
		s.Status = model.JobStatusTraining
		s.Logs = append(s.Logs,
			fmt.Sprintf("Loading base model %s", job.ModelID),
			fmt.Sprintf("Loaded dataset %s", job.DatasetRef),
		)
	}); err != nil {
		return err
	}

	for i := 1; i <= job.Steps; i++ {
		if err := r.wait(ctx, job.StepEvery); err != nil {
			return err
		}
		progress := i * 100 / job.Steps
		epoch := fmt.Sprintf("Epoch %d/%d - loss %.4f", i, job.Steps, lossAt(i))

		if job.FailAt > 0 && progress >= job.FailAt {
			if err := r.rec.Update(job.ID, func(s *model.Snapshot) {
				s.Status = model.JobStatusFailed
				s.Logs = append(s.Logs, fmt.Sprintf("Epoch %d/%d - RuntimeError: CUDA out of memory", i, job.Steps))
			}); err != nil {
				return err
			}
			return fmt.Errorf("%w at %d%%", ErrSimulatedFailure, progress)
		}

		last := i == job.Steps
		if err := r.rec.Update(job.ID, func(s *model.Snapshot) {
			s.Progress = progress
			s.Logs = append(s.Logs, epoch)
			if last {
				s.Progress = 100
				s.Status = model.JobStatusCompleted
				s.Logs = append(s.Logs, fmt.Sprintf("Training done. Adapter saved to outputs/%s", job.ID))
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *TrainingRunner) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(d):
		return nil
	}
}

func lossAt(step int) float64 {
	return 2.4 * math.Pow(0.82, float64(step))
}
