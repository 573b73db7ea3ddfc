package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("status conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)

// FailureClass tells the pipeline whether an error is worth retrying.
// Adapters classify their own failures; callers never guess from error text.
type FailureClass string

const (
	ClassTransient FailureClass = "TRANSIENT"
	ClassPermanent FailureClass = "PERMANENT"
)

// ClassifiedError is a stage failure with an explicit retry classification.
type ClassifiedError struct {
	Class   FailureClass
	Stage   string
	Message string
	Cause   error
}

func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Class, e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Class, e.Stage, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// Transient builds a retryable failure.
func Transient(stage, message string, cause error) *ClassifiedError {
	return &ClassifiedError{Class: ClassTransient, Stage: stage, Message: message, Cause: cause}
}

// Permanent builds a terminal failure.
func Permanent(stage, message string, cause error) *ClassifiedError {
	return &ClassifiedError{Class: ClassPermanent, Stage: stage, Message: message, Cause: cause}
}

// AsClassified extracts a ClassifiedError from err's chain, wrapping
// unclassified errors as transient under the given stage. A lost network
// packet and a crashed adapter look the same from here, so the safe
// default is to retry until attempts run out.
func AsClassified(stage string, err error) *ClassifiedError {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return Transient(stage, "unclassified failure", err)
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Class == ClassPermanent
}

// WrapError annotates err with a message, preserving the chain.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
