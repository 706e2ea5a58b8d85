package application

import (
	"context"
	"fmt"
	"sync"

	"neuroforge/internal/domain/model"
	"neuroforge/internal/presenter"
)

// Session is one user's pass through the training flow: wizard selections,
// the job they start and the chat beside it.
type Session struct {
	Lifecycle LifecycleIface
	Chat      ChatIface

	mu     sync.Mutex
	wizard *presenter.Wizard
}

// NewSession constructs a session. chat may be nil when the command channel is not used.
func NewSession(lifecycle LifecycleIface, chat ChatIface) *Session {
	return &Session{Lifecycle: lifecycle, Chat: chat, wizard: presenter.NewWizard()}
}

func (s *Session) SelectModel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wizard.SelectModel(id)
}

func (s *Session) SetDataset(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wizard.SetDataset(path)
}

func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wizard.Next()
}

func (s *Session) Back() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wizard.Back()
}

// Step is the wizard step to show, pinned to review while a job exists.
func (s *Session) Step() presenter.Step {
	s.mu.Lock()
	step := s.wizard.Step()
	s.mu.Unlock()
	if st, ok := s.Lifecycle.State(); ok {
		return presenter.StepForState(step, &st)
	}
	return step
}

// Wizard returns a copy of the current selections for rendering.
func (s *Session) Wizard() presenter.Wizard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.wizard
}

// Configure fills the wizard in one go, walking each step's guard.
func (s *Session) Configure(modelID, dataset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := presenter.NewWizard()
	if err := w.SelectModel(modelID); err != nil {
		return err
	}
	if err := w.Next(); err != nil {
		return err
	}
	w.SetDataset(dataset)
	if err := w.Next(); err != nil {
		return err
	}
	s.wizard = w
	return nil
}

// StartTraining submits the reviewed selections.
func (s *Session) StartTraining(ctx context.Context) (model.JobID, error) {
	s.mu.Lock()
	if err := s.wizard.Ready(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	m, _ := s.wizard.Model()
	dataset := s.wizard.Dataset()
	s.mu.Unlock()

	id, err := s.Lifecycle.Start(ctx, m.ID, dataset)
	if err != nil {
		return "", fmt.Errorf("start training: %w", err)
	}
	return id, nil
}

// NewSession discards the job, the selections and the chat.
func (s *Session) NewSession() {
	s.Lifecycle.Reset()
	if s.Chat != nil {
		s.Chat.Reset()
	}
	s.mu.Lock()
	s.wizard = presenter.NewWizard()
	s.mu.Unlock()
}
