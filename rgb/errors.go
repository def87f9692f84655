package rgb

import (
	"errors"
	"fmt"
)

// ValidationError is returned for malformed requests and unknown contracts.
// It is always returned before any side effect took place.
type ValidationError struct {
	msg string
}

// NewValidationError creates a new validation error from the given format
// string.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		msg: fmt.Sprintf(format, args...),
	}
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return "validation error: " + e.msg
}

// InsufficientBalanceError is returned if a funding request asks for more
// than the spendable balance of a contract.
type InsufficientBalanceError struct {
	// ContractID is the contract the request was made for.
	ContractID ContractID

	// Requested is the requested amount.
	Requested uint64

	// Available is the spendable amount at the time of the check.
	Available uint64
}

// Error returns the error message.
func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %v: requested %d, "+
		"spendable %d", e.ContractID, e.Requested, e.Available)
}

// HostNegotiationError is returned when one of the host's funding primitives
// fails.
type HostNegotiationError struct {
	// Op is the host operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns the error message.
func (e *HostNegotiationError) Error() string {
	return fmt.Sprintf("host %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *HostNegotiationError) Unwrap() error {
	return e.Err
}

// CommitmentError is returned when the state transition commitment can't be
// built.
type CommitmentError struct {
	Err error
}

// Error returns the error message.
func (e *CommitmentError) Error() string {
	return fmt.Sprintf("commitment error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *CommitmentError) Unwrap() error {
	return e.Err
}

// DeliveryError is returned when a consignment couldn't be handed to the
// out-of-band delivery service.
type DeliveryError struct {
	// RecipientID identifies the consignment that failed to be delivered.
	RecipientID string

	Err error
}

// Error returns the error message.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of %v failed: %v", e.RecipientID, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// StorageError wraps any failure of the underlying storage that isn't a
// missing key.
type StorageError struct {
	// Key is the storage key that was accessed.
	Key string

	Err error
}

// Error returns the error message.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error for key %v: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetrySafe returns true if the operation that returned the error can be
// retried as is. Transient host, delivery and storage failures are retry safe,
// everything else requires the caller to change the request or the local
// state first.
func IsRetrySafe(err error) bool {
	var (
		hostErr     *HostNegotiationError
		deliveryErr *DeliveryError
		storageErr  *StorageError
	)

	switch {
	case errors.As(err, &hostErr):
		return true

	case errors.As(err, &deliveryErr):
		return true

	case errors.As(err, &storageErr):
		return true

	default:
		return false
	}
}
