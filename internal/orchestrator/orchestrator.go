// Package orchestrator issues asynchronous API calls, chases redirects and
// delivers exactly one outcome per logical call.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cadbridge/internal/auth"
	apperrors "cadbridge/internal/errors"
	"cadbridge/internal/httpclient"
	"cadbridge/internal/logging"
	"cadbridge/internal/observability"
	"cadbridge/internal/onshape"
	"cadbridge/internal/pending"
	"cadbridge/internal/result"
	"cadbridge/internal/shared/async"
)

const (
	// DefaultMaxRedirects bounds redirect chasing for one logical call.
	DefaultMaxRedirects = 5

	tooManyRedirectsMessage = "too many redirects"
	bodyExcerptLimit        = 512
)

// FailureFunc receives the failure outcome of a logical call.
type FailureFunc func(result.Failure)

// TokenSource supplies the authentication token used to decorate requests.
// The orchestrator only reads it.
type TokenSource interface {
	Token() onshape.AuthToken
}

// StaticToken is a TokenSource that always returns itself.
type StaticToken onshape.AuthToken

func (t StaticToken) Token() onshape.AuthToken { return onshape.AuthToken(t) }

type tokenKey struct{}

// WithAuthToken overrides the token source for calls issued with ctx.
func WithAuthToken(ctx context.Context, token onshape.AuthToken) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// Dependencies wires an Orchestrator.
type Dependencies struct {
	Transport httpclient.Transport
	Endpoints onshape.Endpoints
	Auth      *auth.Manager
	Tokens    TokenSource
	// Executor runs completions. Defaults to running them on the transport
	// goroutine; use an async.Loop for a single thread of control.
	Executor     async.Executor
	Registry     *pending.Registry
	Metrics      *Metrics
	Tracer       *observability.TracerProvider
	Logger       logging.Logger
	MaxRedirects int
	NewCallID    func() string
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	transport    httpclient.Transport
	endpoints    onshape.Endpoints
	auth         *auth.Manager
	tokens       TokenSource
	executor     async.Executor
	registry     *pending.Registry
	metrics      *Metrics
	tracer       *observability.TracerProvider
	logger       logging.Logger
	maxRedirects int
	newCallID    func() string
}

// New validates deps and fills defaults.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("orchestrator requires a transport")
	}
	if deps.Endpoints.IsZero() {
		return nil, fmt.Errorf("orchestrator requires endpoints")
	}
	o := &Orchestrator{
		transport:    deps.Transport,
		endpoints:    deps.Endpoints,
		auth:         deps.Auth,
		tokens:       deps.Tokens,
		executor:     deps.Executor,
		registry:     deps.Registry,
		metrics:      deps.Metrics,
		tracer:       deps.Tracer,
		logger:       logging.OrNop(deps.Logger),
		maxRedirects: deps.MaxRedirects,
		newCallID:    deps.NewCallID,
	}
	if o.auth == nil {
		o.auth = auth.NewManager(deps.Endpoints, auth.DefaultCookieScope())
	}
	if o.tokens == nil {
		o.tokens = StaticToken{}
	}
	if o.executor == nil {
		o.executor = async.Inline
	}
	if o.registry == nil {
		o.registry = pending.NewRegistry()
	}
	if o.metrics == nil {
		o.metrics = defaultMetrics()
	}
	if o.tracer == nil {
		o.tracer = observability.NoopTracerProvider()
	}
	if o.maxRedirects <= 0 {
		o.maxRedirects = DefaultMaxRedirects
	}
	if o.newCallID == nil {
		o.newCallID = uuid.NewString
	}
	return o, nil
}

// InFlight lists logical calls awaiting a transport response.
func (o *Orchestrator) InFlight() []pending.Snapshot {
	return o.registry.Snapshot()
}

// Endpoints returns the endpoint builder in use.
func (o *Orchestrator) Endpoints() onshape.Endpoints {
	return o.endpoints
}

func (o *Orchestrator) tokenFor(ctx context.Context) onshape.AuthToken {
	if token, ok := ctx.Value(tokenKey{}).(onshape.AuthToken); ok {
		return token
	}
	return o.tokens.Token()
}

// call is the state of one logical call. It is owned by the pending registry
// while a transport request is outstanding.
type call[T any] struct {
	o         *Orchestrator
	ctx       context.Context
	id        string
	operation string
	decode    onshape.Decoder[T]
	onSuccess func(T)
	onFailure FailureFunc
	logger    logging.Logger
	span      trace.Span
	started   time.Time
	resolved  atomic.Bool
}

// issue starts a logical call. It never blocks on I/O; the outcome is
// delivered through the executor. When build fails the failure is delivered
// the same way.
func issue[T any](
	ctx context.Context,
	o *Orchestrator,
	operation string,
	decorate bool,
	build func(ctx context.Context) (*http.Request, error),
	decode onshape.Decoder[T],
	onSuccess func(T),
	onFailure FailureFunc,
) {
	if ctx == nil {
		ctx = context.Background()
	}
	id := o.newCallID()
	ctx = observability.ContextWithCallID(ctx, id)
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanLogicalCall,
		attribute.String(observability.AttrOperation, operation))

	c := &call[T]{
		o:         o,
		ctx:       ctx,
		id:        id,
		operation: operation,
		decode:    decode,
		onSuccess: onSuccess,
		onFailure: onFailure,
		logger:    logging.WithCallID(o.logger, id),
		span:      span,
		started:   time.Now(),
	}
	o.metrics.CallStarted()

	req, err := build(ctx)
	if err != nil {
		o.executor.Submit(func() {
			c.fail(result.Failure{Message: err.Error(), Err: err})
		})
		return
	}
	if decorate {
		req = o.auth.Decorate(req, o.tokenFor(ctx))
	}
	dispatch(c, req, 0)
}

// dispatch registers the call and sends req on a background goroutine.
func dispatch[T any](c *call[T], req *http.Request, redirectCount int) {
	o := c.o
	handle := o.registry.Register(&pending.Call{
		ID:            c.id,
		Operation:     c.operation,
		Method:        req.Method,
		URL:           req.URL.String(),
		RedirectCount: redirectCount,
		StartedAt:     c.started,
		Owner:         c,
	})
	o.metrics.IncDispatch(c.operation)
	c.span.AddEvent(observability.EventDispatch,
		trace.WithAttributes(observability.DispatchAttrs(req.Method, req.URL.String(), redirectCount)...))
	c.logger.Info("%s %s %s (redirects=%d)", c.operation, req.Method, req.URL.Redacted(), redirectCount)
	c.logger.Debug("request headers: %s", formatHeaders(req.Header))

	async.Go(o.logger, "dispatch:"+c.operation, func() {
		resp, err := o.transport.Do(c.ctx, req)
		o.executor.Submit(func() {
			complete(c, handle, resp, err)
		})
	})
}

// complete resolves the registry entry and routes the response: success,
// redirect, or failure.
func complete[T any](c *call[T], handle pending.Handle, resp *httpclient.Response, transportErr error) {
	record, err := c.o.registry.Resolve(handle)
	if err != nil {
		c.logger.Error("completion for %s: %v", c.operation, err)
		return
	}
	if transportErr != nil {
		c.logger.Warn("%s transport failure: %v", c.operation, transportErr)
		c.fail(result.Failure{Message: transportErr.Error(), Err: apperrors.NewTransportError(transportErr)})
		return
	}
	c.logger.Info("%s reply status %d", c.operation, resp.StatusCode)

	res := c.safeDecode(resp)
	if !res.IsFailure() {
		value, _ := res.Unwrap()
		c.succeed(value)
		return
	}
	failure, _ := res.UnwrapError()
	if isRedirect(failure.StatusCode) {
		redirect(c, resp, record.RedirectCount, failure)
		return
	}
	if !failure.HasStatus() || failure.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("%s returned status %d (%s) body %q", resp.URL.Redacted(), failure.StatusCode, failure.Message, excerpt(resp.Body))
	}
	c.fail(failure)
}

// redirect re-issues the call against the Location target with the same
// decoder and continuations.
func redirect[T any](c *call[T], resp *httpclient.Response, redirectCount int, failure result.Failure) {
	o := c.o
	if redirectCount >= o.maxRedirects {
		c.fail(result.Failure{
			StatusCode: failure.StatusCode,
			Message:    tooManyRedirectsMessage,
			Err:        &apperrors.HTTPError{StatusCode: failure.StatusCode, Reason: tooManyRedirectsMessage},
		})
		return
	}
	if err := c.ctx.Err(); err != nil {
		c.fail(result.Failure{Message: err.Error(), Err: apperrors.NewTransportError(err)})
		return
	}
	target, err := resp.Location()
	if err != nil {
		c.fail(result.Failure{StatusCode: failure.StatusCode, Message: err.Error(), Err: failure.Err})
		return
	}
	next, err := http.NewRequestWithContext(c.ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		c.fail(result.Failure{StatusCode: failure.StatusCode, Message: err.Error(), Err: failure.Err})
		return
	}
	next.Header.Set("Accept-Encoding", httpclient.AcceptEncoding)
	next = o.auth.Decorate(next, o.tokenFor(c.ctx))

	o.metrics.IncRedirect(c.operation)
	c.span.AddEvent(observability.EventRedirect,
		trace.WithAttributes(attribute.Int(observability.AttrStatusCode, failure.StatusCode)))
	c.logger.Info("redirect %d to %s", failure.StatusCode, target.Redacted())
	dispatch(c, next, redirectCount+1)
}

func (c *call[T]) safeDecode(resp *httpclient.Response) (res result.Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = onshape.DecodeFailure[T](c.operation, fmt.Errorf("decoder panic: %v", r))
		}
	}()
	return c.decode(resp)
}

func (c *call[T]) succeed(value T) {
	if !c.resolved.CompareAndSwap(false, true) {
		c.logger.Error("%s resolved twice", c.operation)
		return
	}
	c.finish("success", 0, nil)
	if c.onSuccess != nil {
		c.onSuccess(value)
	}
}

func (c *call[T]) fail(failure result.Failure) {
	if !c.resolved.CompareAndSwap(false, true) {
		c.logger.Error("%s resolved twice", c.operation)
		return
	}
	c.finish(outcomeLabel(failure), failure.StatusCode, failure)
	if c.onFailure != nil {
		c.onFailure(failure)
		return
	}
	c.logger.Warn("%s failed without a failure handler: %s", c.operation, failure.Error())
}

func (c *call[T]) finish(outcome string, status int, err error) {
	c.o.metrics.CallFinished(c.operation, outcome, time.Since(c.started))
	c.span.SetAttributes(observability.OutcomeAttrs(outcome, status)...)
	if err != nil {
		c.span.SetAttributes(observability.ErrorAttrs(err)...)
		c.span.SetStatus(codes.Error, err.Error())
	}
	c.span.End()
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect:
		return true
	default:
		return false
	}
}

func outcomeLabel(f result.Failure) string {
	switch f.Kind() {
	case apperrors.KindTransport:
		return "transport_error"
	case apperrors.KindAuthRequired:
		return "auth_required"
	case apperrors.KindDecode:
		return "decode_error"
	default:
		return "http_error"
	}
}

func formatHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value := strings.Join(h[k], ", ")
		if strings.EqualFold(k, "Cookie") {
			value = observability.MaskSecret(value)
		}
		parts = append(parts, k+": "+value)
	}
	return strings.Join(parts, "; ")
}

func excerpt(body []byte) string {
	if len(body) <= bodyExcerptLimit {
		return string(body)
	}
	return string(body[:bodyExcerptLimit]) + "..."
}

// Await blocks until the call started by start resolves. A failure outcome is
// returned as a result.Failure error. Do not use Await from a callback
// running on an async.Loop that the call completes on.
func Await[T any](ctx context.Context, start func(onSuccess func(T), onFailure FailureFunc)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	start(
		func(v T) { done <- outcome{value: v} },
		func(f result.Failure) { done <- outcome{err: f} },
	)
	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, apperrors.NewTransportError(ctx.Err())
	}
}
