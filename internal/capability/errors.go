package capability

import (
	"errors"
	"fmt"
)

// Capability outcomes form a trichotomy: nil error (success), TransientError
// (infra fault, retry per policy) and PermanentError (business decline, route
// to the failure edge without retry). Adapters never return bare booleans.

// TransientError marks a failure worth retrying (timeout, throttling).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks an explicit decline (payment refused, out of stock).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Transientf is Transient over a formatted error.
func Transientf(format string, args ...interface{}) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// Permanent wraps err as a non-retryable decline.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Permanentf is Permanent over a formatted error.
func Permanentf(format string, args ...interface{}) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// CompensationError records that a compensating operation itself failed after
// exhausting retries. It implies funds may remain captured against a failed
// order, so it is always surfaced at elevated severity, never swallowed.
type CompensationError struct {
	OrderID          string
	PaymentReference string
	Err              error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed for order %s (payment %s): %v", e.OrderID, e.PaymentReference, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }
