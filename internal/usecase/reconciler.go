package usecase

import (
	"fmt"
	"strconv"

	"github.com/jonboulle/clockwork"

	"neuroforge/internal/domain"
	"neuroforge/internal/domain/model"
)

// LogMerge selects how incoming log lines are folded into the history.
type LogMerge string

const (
	// LogMergeByValue appends every line not already in the history. Correct for
	// both full-history and incremental snapshots.
	LogMergeByValue LogMerge = "value"
	// LogMergeByOffset treats each snapshot as the full history and appends the
	// suffix beyond what is already known. Keeps repeated identical lines.
	LogMergeByOffset LogMerge = "offset"
)

func ParseLogMerge(s string) (LogMerge, error) {
	switch m := LogMerge(s); m {
	case LogMergeByValue, LogMergeByOffset:
		return m, nil
	case "":
		return LogMergeByValue, nil
	}
	return "", fmt.Errorf("%w: log merge %q", domain.ErrInvalidArgument, s)
}

// Reconciler folds snapshots into a JobState. It is pure apart from reading the clock.
type Reconciler struct {
	clock clockwork.Clock
	merge LogMerge
}

func NewReconciler(clock clockwork.Clock, merge LogMerge) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if merge == "" {
		merge = LogMergeByValue
	}
	return &Reconciler{clock: clock, merge: merge}
}

// Reconcile returns the next state and any anomalies. current is never mutated.
// A terminal current state is returned unchanged.
func (r *Reconciler) Reconcile(current model.JobState, incoming model.Snapshot) (model.JobState, []model.Anomaly) {
	if current.IsTerminal() {
		return current, nil
	}

	next := current.Clone()
	var anomalies []model.Anomaly

	if incoming.Status.Rank() >= current.Status.Rank() {
		next.Status = incoming.Status
	} else {
		anomalies = append(anomalies, model.Anomaly{
			Kind:     model.AnomalyStatusRegression,
			JobID:    current.ID,
			Current:  string(current.Status),
			Incoming: string(incoming.Status),
		})
	}

	switch {
	case incoming.Progress > current.Progress:
		next.Progress = incoming.Progress
	case incoming.Progress < current.Progress && !incoming.Status.IsTerminal():
		anomalies = append(anomalies, model.Anomaly{
			Kind:     model.AnomalyProgressRegression,
			JobID:    current.ID,
			Current:  strconv.Itoa(current.Progress),
			Incoming: strconv.Itoa(incoming.Progress),
		})
	}

	next.LogHistory = r.mergeLogs(next.LogHistory, incoming.Logs)

	now := r.clock.Now()
	next.UpdatedAt = now
	if next.IsTerminal() && next.TerminatedAt == nil {
		next.TerminatedAt = &now
	}
	return next, anomalies
}

// mergeLogs appends to history, which must already be a private copy.
func (r *Reconciler) mergeLogs(history, incoming []string) []string {
	if r.merge == LogMergeByOffset {
		if len(incoming) > len(history) {
			history = append(history, incoming[len(history):]...)
		}
		return history
	}

	seen := make(map[string]struct{}, len(history)+len(incoming))
	for _, l := range history {
		seen[l] = struct{}{}
	}
	for _, l := range incoming {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		history = append(history, l)
	}
	return history
}
