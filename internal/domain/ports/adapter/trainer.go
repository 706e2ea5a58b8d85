package adapter

import (
	"context"

	"neuroforge/internal/domain/model"
)

// BackendInfo is the remote service's health/info response.
type BackendInfo struct {
	Status    string `json:"status"`
	ModelPath string `json:"model_path"`
}

// JobSubmitter issues exactly one training request per call; no retry.
type JobSubmitter interface {
	Submit(ctx context.Context, modelID, datasetRef string) (model.JobID, error)
}

// StatusFetcher returns one validated snapshot for a job.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, id model.JobID) (model.Snapshot, error)
}

// ChatSender posts one message with its prior history to the command channel.
type ChatSender interface {
	Chat(ctx context.Context, message string, history []model.ChatMessage) (string, error)
}

// TrainingService is the port for the remote training service.
type TrainingService interface {
	JobSubmitter
	StatusFetcher
	ChatSender
	Info(ctx context.Context) (BackendInfo, error)
}
