package main

import (
	"errors"

	apperrors "cadbridge/internal/errors"
	"cadbridge/internal/result"
)

// Exit codes scripts can rely on. Everything else exits 1.
const (
	exitAuthRequired = 2
	exitTransport    = 3
)

// ExitCodeError wraps an error with a specific process exit code.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// withExitCode maps failed calls to stable exit codes.
func withExitCode(err error) error {
	if err == nil {
		return nil
	}
	var failure result.Failure
	kind := apperrors.Classify(err)
	if errors.As(err, &failure) {
		kind = failure.Kind()
	}
	switch kind {
	case apperrors.KindAuthRequired:
		return &ExitCodeError{Code: exitAuthRequired, Err: err}
	case apperrors.KindTransport:
		return &ExitCodeError{Code: exitTransport, Err: err}
	default:
		return err
	}
}
