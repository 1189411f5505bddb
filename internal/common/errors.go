// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Workflow errors.
	ErrNotPrivileged    = errors.New("operation requires a privileged role")
	ErrLockDenied       = errors.New("record is not available for editing")
	ErrNoRecognizedText = errors.New("record has no recognized text")
	ErrInvalidRole      = errors.New("invalid role")
	ErrDuplicateRecord  = errors.New("record already exists")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// LockDeniedError reports why a reviewer could not open a record.
// It names the current holder so reviewers can coordinate out of band.
type LockDeniedError struct {
	LockedBy  string
	RecordID  int64
	Completed bool
}

func (e *LockDeniedError) Error() string {
	if e.Completed {
		return fmt.Sprintf("record %d is completed; only a supervisor can reopen it", e.RecordID)
	}
	return fmt.Sprintf("record %d is being edited by %s", e.RecordID, e.LockedBy)
}

func (e *LockDeniedError) Unwrap() error {
	return ErrLockDenied
}
