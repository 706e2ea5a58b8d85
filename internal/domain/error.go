package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownModel    = errors.New("unknown base model")
	ErrJobActive       = errors.New("a training job is already active")

	// Remote lifecycle errors
	ErrSubmissionFailed  = errors.New("submission failed")
	ErrPollTransport     = errors.New("poll transport error")
	ErrMalformedSnapshot = errors.New("malformed status snapshot")
	ErrChatFailed        = errors.New("chat request failed")

	// Reconciliation anomalies; reported, never applied.
	ErrProgressRegression = errors.New("progress regression")
	ErrStatusRegression   = errors.New("status regression")
)
