package presenter

import (
	"errors"
	"fmt"
	"strings"

	"neuroforge/internal/domain"
	"neuroforge/internal/domain/model"
)

// Step is a page of the training wizard.
type Step int

const (
	StepSelectModel Step = iota + 1
	StepConfigureDataset
	StepReview
)

func (s Step) Title() string {
	switch s {
	case StepSelectModel:
		return "Select Base Model"
	case StepConfigureDataset:
		return "Configure Dataset"
	case StepReview:
		return "Review & Start"
	}
	return "Unknown"
}

var (
	ErrNoModelSelected = errors.New("select a base model first")
	ErrNoDataset       = errors.New("enter a dataset path first")
)

// Wizard holds the user's selections. It never touches JobState.
type Wizard struct {
	step    Step
	model   *model.CatalogEntry
	dataset string
}

func NewWizard() *Wizard {
	return &Wizard{step: StepSelectModel}
}

func (w *Wizard) Step() Step { return w.step }

func (w *Wizard) Model() (model.CatalogEntry, bool) {
	if w.model == nil {
		return model.CatalogEntry{}, false
	}
	return *w.model, true
}

func (w *Wizard) Dataset() string { return w.dataset }

func (w *Wizard) SelectModel(id string) error {
	m, err := model.LookupModel(id)
	if err != nil {
		return err
	}
	w.model = &m
	return nil
}

func (w *Wizard) SetDataset(path string) {
	w.dataset = strings.TrimSpace(path)
}

// Next advances one step when the current step's input is complete.
func (w *Wizard) Next() error {
	switch w.step {
	case StepSelectModel:
		if w.model == nil {
			return ErrNoModelSelected
		}
	case StepConfigureDataset:
		if w.dataset == "" {
			return ErrNoDataset
		}
	case StepReview:
		return nil
	}
	w.step++
	return nil
}

func (w *Wizard) Back() {
	if w.step > StepSelectModel {
		w.step--
	}
}

// Ready reports whether a job may be started from the current selections.
func (w *Wizard) Ready() error {
	if w.step != StepReview {
		return fmt.Errorf("%w: wizard is on step %d", domain.ErrInvalidArgument, w.step)
	}
	if w.model == nil {
		return ErrNoModelSelected
	}
	if w.dataset == "" {
		return ErrNoDataset
	}
	return nil
}

// StepForState pins the wizard to the review step while a job exists.
func StepForState(current Step, st *model.JobState) Step {
	if st != nil && st.ID != "" {
		return StepReview
	}
	return current
}
