package services

import (
	"errors"
	"fmt"

	"github.com/rtolen/vairify-dev-sub001/internal/database"
)

// ErrNotFound is returned when a session, group or code pair does not exist
// or is not visible to the caller.
var ErrNotFound = errors.New("not found")

// ValidationError reports bad caller input. It is surfaced immediately and
// no side effect has happened.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports an operation that clashes with current state: a
// second open session, a transition from the wrong state, or deleting a
// group still in use.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func conflict(format string, args ...interface{}) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// DependencyFailure wraps an error from an outbound collaborator (guardian
// channel, responder lookup). It is logged and never fails a transition.
type DependencyFailure struct {
	Dependency string
	Err        error
}

func (e *DependencyFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Dependency, e.Err)
}

func (e *DependencyFailure) Unwrap() error { return e.Err }

// IntegrityError reports stored data that contradicts itself, such as a
// queued deadline for a session that no longer exists. It aborts only the
// unit of work that hit it.
type IntegrityError struct {
	Message string
	Err     error
}

func (e *IntegrityError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// storeErr maps store sentinels onto the service taxonomy. what names the
// entity for the message.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, database.ErrDuplicate):
		return conflict("%s already exists", what)
	case errors.Is(err, database.ErrReferenced):
		return conflict("%s is used by an open session", what)
	}
	return err
}
