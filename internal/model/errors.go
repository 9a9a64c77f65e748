package model

import (
	"errors"
	"fmt"
)

// ErrPersonaNotFound is returned by the registry when an id does not
// resolve to a persona (including ids that belong to human participants).
var ErrPersonaNotFound = errors.New("persona not found")

// ErrMessageNotFound is returned when a message id does not exist,
// including messages already removed by the purge.
var ErrMessageNotFound = errors.New("message not found")

// ValidationError rejects a malformed or self-referential message draft.
// Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// AuthorizationError rejects a viewed-state transition attempted by
// anyone other than the message's receiver. Never retried.
type AuthorizationError struct {
	MessageID string
	ViewerID  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization: %s may not view message %s", e.ViewerID, e.MessageID)
}

// GenerationError wraps a generation backend failure. Retryable failures
// (timeouts, rate limits, 5xx) are retried per policy; the rest are not.
type GenerationError struct {
	Retryable bool
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (retryable=%t): %v", e.Retryable, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// StorageUnavailable wraps a driver-level failure at the store boundary.
// Reactive events are redelivered by the change stream; scheduler ticks
// skip and retry on the next interval.
type StorageUnavailable struct {
	Op  string
	Err error
}

func (e *StorageUnavailable) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailable) Unwrap() error { return e.Err }

// IsRetryableGeneration reports whether err is a generation failure worth
// another attempt.
func IsRetryableGeneration(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge) && ge.Retryable
}
