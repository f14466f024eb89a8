package adapters

import (
	"github.com/pkg/errors"
)

// Adapter failures fall into three kinds that drive the parse worker's
// retry behavior.

// RetryableError marks transient failures: network errors, throttling,
// 5xx responses, fetch timeouts. The parse worker retries with backoff.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// NonRetryableError marks permanent failures: 404, malformed URL,
// format changes. The parse worker fails immediately and dead-letters.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// AuthRequiredError marks invalid or expired credentials. Not retried
// automatically; surfaced to the operator via last_error_type.
type AuthRequiredError struct {
	Err error
}

func (e *AuthRequiredError) Error() string { return e.Err.Error() }
func (e *AuthRequiredError) Unwrap() error { return e.Err }

// Retryable wraps err as a RetryableError.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// NonRetryable wraps err as a NonRetryableError.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// AuthRequired wraps err as an AuthRequiredError.
func AuthRequired(err error) error {
	if err == nil {
		return nil
	}
	return &AuthRequiredError{Err: err}
}

// ErrorType classifies err for persistence in last_error_type. Unknown
// errors classify as non-retryable; the parse worker does not retry them.
func ErrorType(err error) string {
	var retryable *RetryableError
	var auth *AuthRequiredError
	switch {
	case errors.As(err, &retryable):
		return "retryable"
	case errors.As(err, &auth):
		return "auth_required"
	default:
		return "non_retryable"
	}
}

// ShouldRetry reports whether the parse worker should retry after err.
// Auth failures are retried within one dequeue so a refreshed credential
// can take effect, matching the retryable path.
func ShouldRetry(err error) bool {
	var retryable *RetryableError
	var auth *AuthRequiredError
	return errors.As(err, &retryable) || errors.As(err, &auth)
}
