package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies malformed or contradictory arguments. It is
	// always returned before anything is persisted.
	ErrValidation = errors.New("ledger validation error")
	// ErrStorage classifies failures of the ledger storage.
	ErrStorage = errors.New("ledger storage error")
	// ErrNotFound classifies missing masters. It is returned together with ErrStorage.
	ErrNotFound = errors.New("ledger not found")
)

func ledgerError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// storageError wraps err as ErrStorage unless it already carries a ledger kind.
func storageError(operation string, err error) error {
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, operation, err)
}

func notFoundError(ref Ref) error {
	return fmt.Errorf("%w: %w: transaction %s can not be found", ErrStorage, ErrNotFound, ref)
}
