package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies invalid queue input or configuration.
	ErrValidation = errors.New("queue validation error")
	// ErrConflict classifies duplicate registrations.
	ErrConflict = errors.New("queue conflict")
	// ErrNotFound classifies missing items or unknown job names.
	ErrNotFound = errors.New("queue not found")
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("queue invalid argument")
	// ErrPayload classifies payloads that cannot be encoded or decoded.
	ErrPayload = errors.New("queue payload error")
)

func queueError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
