package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited means the caller is over quota for the operation
	// class. Expected on hot paths; retry after the class window.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound means the session does not exist or belongs to
	// another owner.
	ErrNotFound = errors.New("session not found")
	// ErrValidation means a required argument was empty or malformed.
	ErrValidation = errors.New("invalid argument")
)

// StorageError wraps a durable-engine failure. Handlers surface it as a
// generic failure; the engine cause stays in logs.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
