package fn

import "errors"

// CriticalError wraps an error that should shut down the daemon once it is
// reported on the main error channel.
type CriticalError struct {
	Err error
}

// NewCriticalError creates a new CriticalError.
func NewCriticalError(err error) *CriticalError {
	return &CriticalError{Err: err}
}

// Error returns the error message of the wrapped error.
func (e *CriticalError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *CriticalError) Unwrap() error {
	return e.Err
}

// ErrorAs is errors.As without the need to declare the target first.
func ErrorAs[Target error](err error) bool {
	var targetErr Target

	return errors.As(err, &targetErr)
}
