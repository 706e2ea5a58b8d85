package model

import (
	"fmt"
	"time"

	"neuroforge/internal/domain"
)

// JobID is the opaque identifier issued by the remote training service.
type JobID string

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusTraining  JobStatus = "training"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ParseJobStatus accepts only the four lifecycle values.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case JobStatusPending, JobStatusTraining, JobStatusCompleted, JobStatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", domain.ErrMalformedSnapshot, s)
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Rank orders statuses along the lifecycle. Both terminal statuses share a rank.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusTraining:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	}
	return -1
}

// Snapshot is one status response from the remote service.
type Snapshot struct {
	JobID    JobID     `json:"job_id"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Logs     []string  `json:"logs"`
}

// Validate checks a decoded snapshot against the job it was requested for.
func (s Snapshot) Validate(want JobID) error {
	if s.JobID == "" {
		return fmt.Errorf("%w: missing job_id", domain.ErrMalformedSnapshot)
	}
	if want != "" && s.JobID != want {
		return fmt.Errorf("%w: job_id %q does not match %q", domain.ErrMalformedSnapshot, s.JobID, want)
	}
	if _, err := ParseJobStatus(string(s.Status)); err != nil {
		return err
	}
	if s.Progress < 0 || s.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", domain.ErrMalformedSnapshot, s.Progress)
	}
	return nil
}

// JobState is the reconciled, locally owned view of a training job.
type JobState struct {
	ID           JobID      `json:"job_id"`
	ModelID      string     `json:"model_id"`
	DatasetRef   string     `json:"dataset_path"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	LogHistory   []string   `json:"log_history"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func NewJobState(id JobID, modelID, datasetRef string, now time.Time) JobState {
	return JobState{
		ID:         id,
		ModelID:    modelID,
		DatasetRef: datasetRef,
		Status:     JobStatusPending,
		LogHistory: []string{},
		UpdatedAt:  now,
	}
}

// Clone returns a copy that shares no mutable memory with s.
func (s JobState) Clone() JobState {
	out := s
	out.LogHistory = make([]string, len(s.LogHistory))
	copy(out.LogHistory, s.LogHistory)
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		out.TerminatedAt = &t
	}
	return out
}

func (s JobState) IsTerminal() bool { return s.Status.IsTerminal() }

// Outcome is how a lifecycle ended, from the user's point of view.
type Outcome string

const (
	OutcomeNone           Outcome = ""
	OutcomeCompleted      Outcome = "completed"
	OutcomeTrainingFailed Outcome = "training_failed"
	OutcomeCouldNotStart  Outcome = "could_not_start"
	OutcomeConnectionLost Outcome = "connection_lost"
	OutcomeStopped        Outcome = "stopped"
)

// OutcomeFor maps a terminal status to its outcome.
func OutcomeFor(s JobStatus) Outcome {
	switch s {
	case JobStatusCompleted:
		return OutcomeCompleted
	case JobStatusFailed:
		return OutcomeTrainingFailed
	}
	return OutcomeNone
}

type AnomalyKind string

const (
	AnomalyProgressRegression AnomalyKind = "progress_regression"
	AnomalyStatusRegression   AnomalyKind = "status_regression"
)

// Anomaly records an incoming value that was rejected during reconciliation.
type Anomaly struct {
	Kind     AnomalyKind `json:"kind"`
	JobID    JobID       `json:"job_id"`
	Current  string      `json:"current"`
	Incoming string      `json:"incoming"`
}

func (a Anomaly) Error() string {
	return fmt.Sprintf("%s for job %s: current=%s incoming=%s", a.Kind, a.JobID, a.Current, a.Incoming)
}

func (a Anomaly) Unwrap() error {
	if a.Kind == AnomalyStatusRegression {
		return domain.ErrStatusRegression
	}
	return domain.ErrProgressRegression
}

// Update is delivered to subscribers after every reconciled change.
type Update struct {
	State        JobState  `json:"state"`
	Outcome      Outcome   `json:"outcome,omitempty"`
	PollFailures int       `json:"poll_failures"`
	Anomalies    []Anomaly `json:"anomalies,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}
