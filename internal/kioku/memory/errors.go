package memory

import (
	"errors"
	"fmt"
)

// ErrRowNotFound is wrapped in a PersistenceError when an embedding
// write-back targets a row that does not exist.
var ErrRowNotFound = errors.New("row not found")

// PersistenceError reports a storage read or write failure: connectivity,
// constraint violation, or a missing row.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ProviderError reports a failed or malformed call to the embedding or
// summarisation provider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ValidationError reports caller input that can never succeed as given.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Persistence wraps err as a PersistenceError unless it is nil or already
// one of the three taxonomy errors.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClassified(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsClassified reports whether err already carries a taxonomy type.
func IsClassified(err error) bool {
	var pe *PersistenceError
	var pr *ProviderError
	var ve *ValidationError
	return errors.As(err, &pe) || errors.As(err, &pr) || errors.As(err, &ve)
}
