package supervisor

import (
	"fmt"
	"time"
)

// TimeoutError reports that an operation did not complete within its budget.
// The caller has been returned to; the underlying database call may still be
// draining in the background.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %s", e.Name, e.Timeout)
}

// OperationError reports that an operation failed on its final attempt, after
// every configured retry was spent.
type OperationError struct {
	Name     string
	Attempts int
	Cause    error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %q failed after %d attempt(s): %v", e.Name, e.Attempts, e.Cause)
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}
