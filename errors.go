package workflows

import "github.com/jdziat/simple-durable-workflows/pkg/core"

type (
	// ValidationError reports an invalid definition.
	ValidationError = core.ValidationError

	// ActionError is what a workflow receives from an action that failed
	// after exhausting its retries.
	ActionError = core.ActionError

	// InstanceError is returned when waiting on an instance that failed.
	InstanceError = core.InstanceError

	// SoftTimeoutError is the cancellation cause of a soft-timed-out action.
	SoftTimeoutError = core.SoftTimeoutError

	// HardTimeoutError is recorded for an action whose worker was terminated.
	HardTimeoutError = core.HardTimeoutError

	// PanicError wraps a value recovered from a panicking action or workflow.
	PanicError = core.PanicError

	// NoRetryError indicates an error that should not be retried.
	NoRetryError = core.NoRetryError
)

// Error variables
var (
	ErrRegistrationConflict = core.ErrRegistrationConflict
	ErrNotFound             = core.ErrNotFound
	ErrValidation           = core.ErrValidation
	ErrInvalidRegistryID    = core.ErrInvalidRegistryID
	ErrInvalidQueueName     = core.ErrInvalidQueueName
	ErrInputTooLarge        = core.ErrInputTooLarge
	ErrInvalidInput         = core.ErrInvalidInput
	ErrCancelled            = core.ErrCancelled
)

// NoRetry wraps an error so the action fails without further retries.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// IsNoRetry reports whether err asks to skip remaining retries.
func IsNoRetry(err error) bool {
	return core.IsNoRetry(err)
}
