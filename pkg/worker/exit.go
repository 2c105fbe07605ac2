package worker

import (
	"errors"
	"fmt"
)

// Process exit codes of a worker.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitRecycle     = 75
	ExitHardTimeout = 124
)

// ExitError asks the hosting process to exit with Code.
type ExitError struct {
	Code   int
	Reason string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("worker exit %d: %s", e.Code, e.Reason)
}

// ExitCode maps the error returned by Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}
