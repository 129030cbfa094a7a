package httpclient

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	apperrors "cadbridge/internal/errors"
)

type rateLimitedRoundTripper struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

// WrapTransportWithRateLimit delays requests so that at most rps are sent per
// second on average. Waiting honours the request context.
func WrapTransportWithRateLimit(base http.RoundTripper, rps float64, burst int) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedRoundTripper{
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (t *rateLimitedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, apperrors.NewTransportError(fmt.Errorf("rate limit wait: %w", err))
	}
	return t.base.RoundTrip(req)
}
