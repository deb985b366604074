package services

import (
	"errors"
	"fmt"
)

// ErrPostClosed is returned when commenting on a closed post.
var ErrPostClosed = &ForbiddenError{Action: "comment", Reason: "post is closed"}

// ValidationError represents a missing or malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error (%s): %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError represents a missing post, comment, attachment or user.
type NotFoundError struct {
	Resource string
	ID       uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Resource, e.ID)
}

// ForbiddenError represents an ownership or role violation.
type ForbiddenError struct {
	Action string
	Reason string
}

func (e *ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("not authorized to %s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("not authorized to %s", e.Action)
}

// UpstreamError wraps a backing store failure.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// IsValidationError checks if error is a validation error
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsForbidden checks if error is an authorization failure
func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

// IsUpstream checks if error came from the backing store
func IsUpstream(err error) bool {
	var e *UpstreamError
	return errors.As(err, &e)
}
