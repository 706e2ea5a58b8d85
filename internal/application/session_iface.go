package application

import (
	"context"

	"neuroforge/internal/domain/model"
)

// ---- small interfaces to decouple the session from concrete usecase structs ----
// usecase.LifecycleUseCase and usecase.ChatUseCase satisfy these.

type LifecycleIface interface {
	Start(ctx context.Context, modelID, datasetRef string) (model.JobID, error)
	State() (model.JobState, bool)
	Outcome() model.Outcome
	Wait(ctx context.Context) (model.Outcome, error)
	Stop()
	Reset()
}

type ChatIface interface {
	SendMessage(ctx context.Context, text string) (string, error)
	History() []model.ChatMessage
	Reset()
}
