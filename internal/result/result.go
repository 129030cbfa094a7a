// Package result carries the outcome of one asynchronous API call.
package result

import (
	"fmt"

	apperrors "cadbridge/internal/errors"
)

// Failure describes an unsuccessful outcome. StatusCode is 0 when no HTTP
// status is available, which is the case for transport failures.
type Failure struct {
	StatusCode int
	Message    string
	Err        error
}

// Error implements error so a Failure can travel through error-returning APIs.
func (f Failure) Error() string {
	if f.StatusCode == 0 {
		return f.Message
	}
	return fmt.Sprintf("%d: %s", f.StatusCode, f.Message)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// HasStatus reports whether the failure carries an HTTP status code.
func (f Failure) HasStatus() bool {
	return f.StatusCode != 0
}

// Kind classifies the failure cause.
func (f Failure) Kind() apperrors.Kind {
	if f.Err != nil {
		return apperrors.Classify(f.Err)
	}
	if f.StatusCode == 0 {
		return apperrors.KindTransport
	}
	return apperrors.KindHTTP
}

// Result is either a success value or a Failure, never both.
type Result[T any] struct {
	value   T
	failure Failure
	failed  bool
}

// Success wraps a value.
func Success[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Fail builds a failure result.
func Fail[T any](statusCode int, message string) Result[T] {
	return Result[T]{failure: Failure{StatusCode: statusCode, Message: message}, failed: true}
}

// FailWith builds a failure result that keeps the classified cause.
func FailWith[T any](statusCode int, message string, cause error) Result[T] {
	return Result[T]{failure: Failure{StatusCode: statusCode, Message: message, Err: cause}, failed: true}
}

// FromFailure re-types an existing failure.
func FromFailure[T any](f Failure) Result[T] {
	return Result[T]{failure: f, failed: true}
}

// IsFailure reports which variant is populated.
func (r Result[T]) IsFailure() bool {
	return r.failed
}

// Unwrap returns the success value, or a contract violation for a failure.
func (r Result[T]) Unwrap() (T, error) {
	if r.failed {
		var zero T
		return zero, apperrors.ContractViolation("unwrap called on failure result (%s)", r.failure.Error())
	}
	return r.value, nil
}

// UnwrapError returns the failure, or a contract violation for a success.
func (r Result[T]) UnwrapError() (Failure, error) {
	if !r.failed {
		return Failure{}, apperrors.ContractViolation("unwrap error called on success result")
	}
	return r.failure, nil
}

// MustUnwrap panics on a failure result. Tests only.
func (r Result[T]) MustUnwrap() T {
	v, err := r.Unwrap()
	if err != nil {
		panic(err)
	}
	return v
}
