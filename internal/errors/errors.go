// Package errors provides custom error types for workflow ingestion errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidEnvelope      = errors.New("invalid event envelope")
	ErrUnsupportedEventType = errors.New("unsupported event type")
	ErrNoWorkspace          = errors.New("no workspace session")
	ErrExecutionBlocked     = errors.New("system execution blocked by risk governor")
	ErrPacketNotFound       = errors.New("decision packet not found")
	ErrRateLimited          = errors.New("rate limited")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrDatabaseError        = errors.New("database error")
	ErrInputValidation      = errors.New("input validation failed")
)

// ValidationError represents a validation error on a single field of a batch.
type ValidationError struct {
	Index   int // position of the event in the batch, -1 for request-level errors
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("validation error: events[%d].%s: %s", e.Index, e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidEnvelope
}

// NewValidationError creates a new ValidationError.
func NewValidationError(index int, field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Index:   index,
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// PolicyError represents a risk governor block that aborts a request.
type PolicyError struct {
	ReasonCode string
	Reason     string
	PacketID   string
	Symbol     string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy blocked [%s]: %s", e.ReasonCode, e.Reason)
}

func (e *PolicyError) Unwrap() error {
	return ErrExecutionBlocked
}

// NewPolicyError creates a new PolicyError.
func NewPolicyError(reasonCode, reason, packetID, symbol string) *PolicyError {
	return &PolicyError{
		ReasonCode: reasonCode,
		Reason:     reason,
		PacketID:   packetID,
		Symbol:     symbol,
	}
}

// StoreError represents a persistence failure for one operation.
type StoreError struct {
	Operation string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [%s]: %v", e.Operation, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrDatabaseError, e.Err}
}

// NewStoreError creates a new StoreError.
func NewStoreError(operation string, err error) *StoreError {
	return &StoreError{Operation: operation, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
