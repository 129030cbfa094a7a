package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failure for callers that need to branch on it.
type Kind int

const (
	// KindUnknown - unclassified error
	KindUnknown Kind = iota
	// KindTransport - no HTTP status was produced (connection, DNS, timeout)
	KindTransport
	// KindHTTP - the server answered with an error status
	KindHTTP
	// KindAuthRequired - the caller is not logged in
	KindAuthRequired
	// KindDecode - the response body did not have the expected shape
	KindDecode
	// KindContractViolation - internal misuse of an API
	KindContractViolation
	// KindNotFound - a lookup produced nothing
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindHTTP:
		return "http"
	case KindAuthRequired:
		return "auth_required"
	case KindDecode:
		return "decode"
	case KindContractViolation:
		return "contract_violation"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

var (
	// ErrContractViolation marks programming errors such as unwrapping the
	// wrong result variant or resolving a pending call twice.
	ErrContractViolation = errors.New("contract violation")
	// ErrNotFound is returned when a lookup over an empty set has no answer.
	ErrNotFound = errors.New("not found")
	// ErrCircuitOpen is returned by the transport while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// TransportError wraps failures that happened before any HTTP status arrived.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport error"
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError represents a response with status >= 400.
type HTTPError struct {
	StatusCode int
	Reason     string
}

func (e *HTTPError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, reason)
}

// AuthRequiredError signals "not logged in" rather than a generic failure.
type AuthRequiredError struct {
	Message string
}

func (e *AuthRequiredError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "authentication required"
}

// DecodeError reports a response body that could not be mapped onto the
// expected endpoint shape.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("decode response: %v", e.Err)
	}
	return fmt.Sprintf("decode %s response: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err unless it already is a TransportError.
func NewTransportError(err error) error {
	if err == nil {
		return nil
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return err
	}
	return &TransportError{Err: err}
}

// NewDecodeError builds a DecodeError for endpoint.
func NewDecodeError(endpoint string, format string, args ...any) error {
	return &DecodeError{Endpoint: endpoint, Err: fmt.Errorf(format, args...)}
}

// ContractViolation formats a message wrapping ErrContractViolation.
func ContractViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}

// IsContractViolation reports whether err wraps ErrContractViolation.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}

// IsAuthRequired reports whether err signals a missing session.
func IsAuthRequired(err error) bool {
	var authErr *AuthRequiredError
	return errors.As(err, &authErr)
}

// IsTransport reports whether err happened below the HTTP layer.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	return isNetworkError(err)
}

// Classify maps err onto a Kind. Order matters: an AuthRequiredError is also
// reported with an HTTP-like status, but callers care about the former.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var (
		authErr   *AuthRequiredError
		decodeErr *DecodeError
		httpErr   *HTTPError
	)
	switch {
	case errors.As(err, &authErr):
		return KindAuthRequired
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.Is(err, ErrContractViolation):
		return KindContractViolation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.As(err, &httpErr):
		return KindHTTP
	case IsTransport(err):
		return KindTransport
	default:
		return KindUnknown
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
