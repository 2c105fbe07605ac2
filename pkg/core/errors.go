package core

import (
	"errors"
	"fmt"
)

// Registry errors
var (
	ErrRegistrationConflict = errors.New("workflows: registry id already bound to a different definition")
	ErrNotFound             = errors.New("workflows: not found")
	ErrValidation           = errors.New("workflows: invalid definition")
)

// Input validation errors
var (
	ErrInvalidRegistryID = errors.New("workflows: invalid registry id")
	ErrRegistryIDTooLong = errors.New("workflows: registry id too long")
	ErrInvalidQueueName  = errors.New("workflows: invalid queue name")
	ErrQueueNameTooLong  = errors.New("workflows: queue name too long")
	ErrInputTooLarge     = errors.New("workflows: input body exceeds size limit")
	ErrInvalidInput      = errors.New("workflows: input failed schema validation")
)

// Store errors
var (
	ErrClaimConflict = errors.New("workflows: claim conflict")
	ErrNotOwned      = errors.New("workflows: row not owned by this worker")
	ErrNotQueued     = errors.New("workflows: row is not queued")
	ErrStreamClosed  = errors.New("workflows: stream closed")
)

// Worker errors
var (
	ErrWorkerDraining = errors.New("workflows: worker is draining")
	ErrCancelled      = errors.New("workflows: cancelled")
)

// ValidationError reports a definition whose signature or options are invalid.
type ValidationError struct {
	Definition string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Definition, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// SoftTimeoutError is the cancellation cause given to an action that exceeded
// a soft limit.
type SoftTimeoutError struct {
	Measurement TimeoutMeasurement
	Seconds     float64
}

func (e *SoftTimeoutError) Error() string {
	return fmt.Sprintf("soft timeout: %s exceeded %gs", e.Measurement, e.Seconds)
}

// HardTimeoutError is recorded for an action whose worker was terminated for
// exceeding a hard limit.
type HardTimeoutError struct {
	Measurement TimeoutMeasurement
	Seconds     float64
}

func (e *HardTimeoutError) Error() string {
	return fmt.Sprintf("hard timeout: %s exceeded %gs", e.Measurement, e.Seconds)
}

// ActionError is what a workflow receives when an action finished with an
// exception after exhausting its retries.
type ActionError struct {
	ActionID   string
	RegistryID string
	Message    string
	Stack      string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed: %s", e.RegistryID, e.Message)
}

// InstanceError is returned when waiting on a workflow instance that finished
// with an exception.
type InstanceError struct {
	InstanceID string
	Message    string
	Stack      string
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("workflow instance %s failed: %s", e.InstanceID, e.Message)
}

// PanicError wraps a value recovered from a panicking action or workflow.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// IsNoRetry reports whether err asks to skip remaining retries.
func IsNoRetry(err error) bool {
	var nr *NoRetryError
	return errors.As(err, &nr)
}
