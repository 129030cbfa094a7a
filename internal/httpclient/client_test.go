package httpclient

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	apperrors "cadbridge/internal/errors"
)

func TestTransportDoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	var targetHits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/export":
			http.Redirect(w, r, "/blob/1", http.StatusTemporaryRedirect)
		case "/blob/1":
			atomic.AddInt32(&targetHits, 1)
			_, _ = w.Write([]byte("solid"))
		}
	}))
	defer server.Close()

	transport := NewTransport(New(Options{Timeout: 5 * time.Second}), 0)
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/export", nil)

	resp, err := transport.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&targetHits) != 0 {
		t.Fatalf("redirect target must not be fetched by the transport")
	}
	loc, err := resp.Location()
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if loc.String() != server.URL+"/blob/1" {
		t.Fatalf("expected absolute location, got %s", loc)
	}
}

func TestTransportReportsReasonAndCookies(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "on", Value: "session-abc"})
		http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "xsrf-def"})
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	transport := NewTransport(New(Options{}), 0)
	req, _ := http.NewRequest(http.MethodPost, server.URL, nil)
	resp, err := transport.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Reason != "I'm a teapot" {
		t.Fatalf("unexpected reason %q", resp.Reason)
	}
	if v, ok := resp.Cookie("on"); !ok || v != "session-abc" {
		t.Fatalf("expected on cookie, got %q %v", v, ok)
	}
	if v, ok := resp.Cookie("XSRF-TOKEN"); !ok || v != "xsrf-def" {
		t.Fatalf("expected XSRF cookie, got %q %v", v, ok)
	}
	if _, ok := resp.Cookie("missing"); ok {
		t.Fatalf("unexpected cookie")
	}
}

func TestTransportDecodesRequestedEncodings(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("facet normal 0 0 1\n"), 64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("enc") {
		case "gzip":
			w.Header().Set("Content-Encoding", "gzip")
			zw := gzip.NewWriter(w)
			_, _ = zw.Write(payload)
			_ = zw.Close()
		case "br":
			w.Header().Set("Content-Encoding", "br")
			bw := brotli.NewWriter(w)
			_, _ = bw.Write(payload)
			_ = bw.Close()
		}
	}))
	defer server.Close()

	transport := NewTransport(New(Options{}), 0)
	for _, enc := range []string{"gzip", "br"} {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"?enc="+enc, nil)
		req.Header.Set("Accept-Encoding", AcceptEncoding)
		resp, err := transport.Do(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", enc, err)
		}
		if !bytes.Equal(resp.Body, payload) {
			t.Fatalf("%s: body not decoded (%d bytes)", enc, len(resp.Body))
		}
	}
}

func TestTransportErrorsAreClassified(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	transport := NewTransport(New(Options{Timeout: time.Second}), 0)
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	_, err := transport.Do(context.Background(), req)
	if err == nil {
		t.Fatal("expected error against closed server")
	}
	if !apperrors.IsTransport(err) {
		t.Fatalf("expected transport error, got %T %v", err, err)
	}
}

func TestTransportBodyLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer server.Close()

	transport := NewTransport(New(Options{}), 16)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, err := transport.Do(context.Background(), req)
	if !IsBodyTooLarge(err) {
		t.Fatalf("expected response too large, got %v", err)
	}
}

func TestReasonPhrase(t *testing.T) {
	cases := []struct {
		code   int
		status string
		want   string
	}{
		{200, "200 OK", "OK"},
		{404, "404 Document Missing", "Document Missing"},
		{503, "503", "Service Unavailable"},
		{204, "", "No Content"},
	}
	for _, tc := range cases {
		if got := ReasonPhrase(tc.code, tc.status); got != tc.want {
			t.Fatalf("ReasonPhrase(%d, %q) = %q, want %q", tc.code, tc.status, got, tc.want)
		}
	}
}

func TestDecodeContentRejectsUnknownCoding(t *testing.T) {
	if _, err := DecodeContent("compress", []byte("x"), 0); err == nil {
		t.Fatal("expected error for unsupported coding")
	}
	got, err := DecodeContent("identity", []byte("x"), 0)
	if err != nil || string(got) != "x" {
		t.Fatalf("identity should pass through, got %q %v", got, err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestCircuitBreakerRoundTripperOpens(t *testing.T) {
	var calls int32
	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("connection reset")
	})
	rt := WrapTransportWithCircuitBreaker(base, "test", apperrors.CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, "http://cad.invalid/", nil)
		_, _ = rt.RoundTrip(req)
	}
	req, _ := http.NewRequest(http.MethodGet, "http://cad.invalid/", nil)
	_, err := rt.RoundTrip(req)
	if !errors.Is(err, apperrors.ErrCircuitOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected base to be skipped while open, got %d calls", calls)
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
	})
	rt := WrapTransportWithRateLimit(base, 0.001, 1)

	req, _ := http.NewRequest(http.MethodGet, "http://cad.invalid/", nil)
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("first request should use the burst token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ = http.NewRequestWithContext(ctx, http.MethodGet, "http://cad.invalid/", nil)
	_, err := rt.RoundTrip(req)
	if !apperrors.IsTransport(err) {
		t.Fatalf("expected transport error from limiter, got %v", err)
	}
}
