package statuscheck

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies invalid constructor or job arguments.
	ErrInvalidArgument = errors.New("statuscheck invalid argument")
	// ErrResponse classifies remote status responses that can not be used.
	ErrResponse = errors.New("statuscheck bad response")
)

func statusError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
