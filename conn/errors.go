package conn

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure classes. The typed errors below
// pair with these through Is, so callers can match either form.
var (
	// ErrClosed is returned when a connection is used after Close.
	ErrClosed = errors.New("conn: connection is closed")

	// ErrTimeout is the class of time-budget expirations.
	ErrTimeout = errors.New("conn: operation timed out")

	// ErrExhausted is the class of safeguard scheduling failures.
	ErrExhausted = errors.New("conn: execution safeguard exhausted")

	// ErrCircuitOpen is the class of circuit-breaker rejections.
	ErrCircuitOpen = errors.New("conn: circuit open")

	// ErrNoTransaction is returned by Commit/Rollback with no active
	// transaction.
	ErrNoTransaction = errors.New("conn: no active transaction")

	// ErrTxStarted is returned by Begin when a transaction is already
	// active.
	ErrTxStarted = errors.New("conn: transaction already active")
)

// TimeoutError reports that an operation exceeded its time budget.
// The underlying statement may or may not have been aborted by the
// backend; expiry only stops the wait.
type TimeoutError struct {
	Op     string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("conn: %s operation timed out after %s", e.Op, e.Budget)
}

func (e *TimeoutError) Is(err error) bool { return err == ErrTimeout }

// IsTimeout reports whether err is a time-budget expiration.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var e *TimeoutError
	return errors.As(err, &e) || errors.Is(err, ErrTimeout)
}

// ExhaustedError reports that the execution safeguard could not even
// schedule the call. Distinct from a true timeout: the statement never
// started, so retrying later is safe.
type ExhaustedError struct {
	Op string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("conn: %s safeguard failed, too many in-flight statements; try again later", e.Op)
}

func (e *ExhaustedError) Is(err error) bool { return err == ErrExhausted }

// IsExhausted reports whether err is a safeguard scheduling failure.
func IsExhausted(err error) bool {
	if err == nil {
		return false
	}
	var e *ExhaustedError
	return errors.As(err, &e) || errors.Is(err, ErrExhausted)
}

// CircuitOpenError reports that a named operation is inside its
// failure cool-down window and was rejected without reaching the
// backend.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("conn: circuit %q open, retry after %s", e.Name, e.RetryAfter)
}

func (e *CircuitOpenError) Is(err error) bool { return err == ErrCircuitOpen }

// IsCircuitOpen reports whether err is a circuit-breaker rejection.
func IsCircuitOpen(err error) bool {
	if err == nil {
		return false
	}
	var e *CircuitOpenError
	return errors.As(err, &e) || errors.Is(err, ErrCircuitOpen)
}
