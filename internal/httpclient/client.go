package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "cadbridge/internal/errors"
	"cadbridge/internal/logging"
)

const defaultTimeout = 60 * time.Second

// Options configures the HTTP client used for API calls.
type Options struct {
	Timeout           time.Duration
	MaxBodyBytes      int64
	RequestsPerSecond float64
	Burst             int
	// CircuitBreaker enables the breaker when non-nil.
	CircuitBreaker *apperrors.CircuitBreakerConfig
	// Base overrides the innermost round tripper (tests).
	Base   http.RoundTripper
	Logger logging.Logger
}

// New builds an *http.Client that never follows redirects on its own. 3xx
// responses are returned to the caller, which decides whether to chase them.
func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := logging.OrNop(opts.Logger)

	transport := opts.Base
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	if opts.CircuitBreaker != nil {
		transport = WrapTransportWithCircuitBreaker(transport, "cad-api", *opts.CircuitBreaker, logger)
	}
	if opts.RequestsPerSecond > 0 {
		transport = WrapTransportWithRateLimit(transport, opts.RequestsPerSecond, opts.Burst)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Reason     string
	Header     http.Header
	Body       []byte
	URL        *url.URL
}

// Cookie returns the value of the named Set-Cookie entry.
func (r *Response) Cookie(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, c := range (&http.Response{Header: r.Header}).Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Location resolves the Location header against the request URL.
func (r *Response) Location() (*url.URL, error) {
	raw := strings.TrimSpace(r.Header.Get("Location"))
	if raw == "" {
		return nil, fmt.Errorf("redirect %d without Location header", r.StatusCode)
	}
	loc, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse Location %q: %w", raw, err)
	}
	if r.URL != nil {
		loc = r.URL.ResolveReference(loc)
	}
	return loc, nil
}

// Transport sends one request and returns the fully-read response.
type Transport interface {
	Do(ctx context.Context, req *http.Request) (*Response, error)
}

// HTTPTransport adapts an *http.Client to Transport.
type HTTPTransport struct {
	client       *http.Client
	maxBodyBytes int64
}

// NewTransport wraps client. maxBodyBytes <= 0 selects the default limit.
func NewTransport(client *http.Client, maxBodyBytes int64) *HTTPTransport {
	if client == nil {
		client = New(Options{})
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &HTTPTransport{client: client, maxBodyBytes: maxBodyBytes}
}

// Do sends req. Every error it returns is a *errors.TransportError; HTTP
// error statuses are not errors at this layer.
func (t *HTTPTransport) Do(ctx context.Context, req *http.Request) (*Response, error) {
	if req == nil {
		return nil, apperrors.NewTransportError(fmt.Errorf("nil request"))
	}
	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, apperrors.NewTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readLimited(resp.Body, t.maxBodyBytes, "body")
	if err != nil {
		return nil, apperrors.NewTransportError(fmt.Errorf("read response body: %w", err))
	}
	if !resp.Uncompressed {
		body, err = DecodeContent(resp.Header.Get("Content-Encoding"), body, t.maxBodyBytes)
		if err != nil {
			return nil, apperrors.NewTransportError(err)
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Reason:     ReasonPhrase(resp.StatusCode, resp.Status),
		Header:     resp.Header,
		Body:       body,
		URL:        req.URL,
	}, nil
}

// ReasonPhrase extracts the server's reason phrase from a status line such as
// "404 Not Found", falling back to the standard text for the code.
func ReasonPhrase(statusCode int, status string) string {
	reason := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(status), strconv.Itoa(statusCode)))
	if reason != "" {
		return reason
	}
	return http.StatusText(statusCode)
}
