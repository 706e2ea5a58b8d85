package presenter

import "neuroforge/internal/domain/model"

const (
	LogPlaceholder = "Initializing connection..."

	LabelStart      = "Start Training"
	LabelInProgress = "Training in Progress..."
	LabelComplete   = "Training Complete"
	LabelFailed     = "Training Failed"
)

// TerminalMessage is the user-facing text for how a lifecycle ended. Each outcome
// gets its own wording so the user can tell a job that never started from one that
// was lost or one that failed remotely.
func TerminalMessage(o model.Outcome) string {
	switch o {
	case model.OutcomeCompleted:
		return "Training complete! Your fine-tuned model is ready."
	case model.OutcomeTrainingFailed:
		return "Training failed on the training service. Check the logs above for details."
	case model.OutcomeCouldNotStart:
		return "Could not start training: the training service did not accept the request."
	case model.OutcomeConnectionLost:
		return "Lost connection to the training service while the job was running. It may still be running remotely."
	case model.OutcomeStopped:
		return "Stopped watching this job. It may still be running on the training service."
	}
	return ""
}

// ButtonLabel mirrors the start button of the review step.
func ButtonLabel(st *model.JobState) string {
	if st == nil || st.ID == "" {
		return LabelStart
	}
	switch st.Status {
	case model.JobStatusCompleted:
		return LabelComplete
	case model.JobStatusFailed:
		return LabelFailed
	}
	return LabelInProgress
}
