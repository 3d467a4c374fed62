package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies task, schedule and provider configuration failures.
	ErrValidation = errors.New("scheduler validation error")
	// ErrConflict classifies lock ownership conflicts and duplicate tasks.
	ErrConflict = errors.New("scheduler conflict")
	// ErrNotFound classifies unknown tasks.
	ErrNotFound = errors.New("scheduler not found")
	// ErrRetryable classifies transient lock backend failures.
	ErrRetryable = errors.New("scheduler retryable error")
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("scheduler invalid argument")
	// ErrNotInitialized classifies use of a nil or closed component.
	ErrNotInitialized = errors.New("scheduler not initialized")
)

func schedulerError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
