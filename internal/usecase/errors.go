package usecase

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrActivityNotFound indicates that the requested activity does not exist.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrSessionKeyRequired indicates an upsert was attempted without a web-session key.
	ErrSessionKeyRequired = errors.New("session key is required")
	// ErrSessionKeyTooLong indicates a web-session key wider than the session key column.
	ErrSessionKeyTooLong = errors.New("session key is too long")
	// ErrSessionRequired indicates an activity was logged without a persisted session.
	ErrSessionRequired = errors.New("activity requires a persisted session")
	// ErrInvalidEventName indicates a custom event was submitted without a usable name.
	ErrInvalidEventName = errors.New("event name is required")
	// ErrInvalidFilter indicates an admin listing was requested with an unknown filter value.
	ErrInvalidFilter = errors.New("invalid filter")
)

// Stage names the tracking pipeline step that failed.
type Stage string

const (
	StageSession  Stage = "session"
	StageActivity Stage = "activity"
	StageBot      Stage = "bot"
)

// TrackingError is returned by every tracking pipeline stage. The middleware logs it
// and carries on; it never reaches the client.
type TrackingError struct {
	Stage Stage
	Err   error
}

func (e *TrackingError) Error() string {
	return fmt.Sprintf("tracking %s: %v", e.Stage, e.Err)
}

func (e *TrackingError) Unwrap() error {
	return e.Err
}

func trackingError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var existing *TrackingError
	if errors.As(err, &existing) {
		return err
	}
	return &TrackingError{Stage: stage, Err: err}
}

// RecoveredError converts a recovered panic value into a TrackingError for stage.
func RecoveredError(stage Stage, recovered any) *TrackingError {
	if err, ok := recovered.(error); ok {
		return &TrackingError{Stage: stage, Err: fmt.Errorf("panic: %w", err)}
	}
	return &TrackingError{Stage: stage, Err: fmt.Errorf("panic: %v", recovered)}
}
