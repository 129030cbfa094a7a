// Package auth builds the login and session requests and attaches the session
// cookie to outgoing API requests.
package auth

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apperrors "cadbridge/internal/errors"
	"cadbridge/internal/httpclient"
	"cadbridge/internal/onshape"
	"cadbridge/internal/result"
	jsonx "cadbridge/internal/shared/json"
)

// CookieScope limits which requests receive the session cookie. An empty
// Domain means the API host only; a leading dot matches subdomains.
type CookieScope struct {
	Domain string
	Secure bool
}

// DefaultCookieScope matches every host of the public API over TLS.
func DefaultCookieScope() CookieScope {
	return CookieScope{Domain: ".onshape.com", Secure: true}
}

// Manager owns the authentication call shapes. It holds no token state:
// every request is decorated from the token passed in.
type Manager struct {
	endpoints onshape.Endpoints
	scope     CookieScope
}

// NewManager creates a Manager for the given API endpoints.
func NewManager(endpoints onshape.Endpoints, scope CookieScope) *Manager {
	if base := endpoints.Base(); scope.Domain == "" && base != nil {
		scope.Domain = base.Hostname()
	}
	return &Manager{endpoints: endpoints, scope: scope}
}

// Scope returns the cookie scope in effect.
func (m *Manager) Scope() CookieScope {
	return m.scope
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest builds the POST that creates a session. It is never decorated:
// login always starts from an empty cookie set.
func (m *Manager) LoginRequest(ctx context.Context, username, password string) (*http.Request, error) {
	body, err := jsonx.Marshal(loginBody{Email: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("encode login body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.Login(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// SessionRequest builds the session-info GET.
func (m *Manager) SessionRequest(ctx context.Context) (*http.Request, error) {
	return JSONGet(ctx, m.endpoints.SessionInfo())
}

// JSONGet builds a GET that expects a JSON answer.
func JSONGet(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Decorate returns a copy of req carrying exactly the session cookie of token,
// when the request target is inside the cookie scope. The input request is
// not modified. The XSRF cookie is kept on the token but never sent.
func (m *Manager) Decorate(req *http.Request, token onshape.AuthToken) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Del("Cookie")
	if token.IsZero() || !m.inScope(out) {
		return out
	}
	out.AddCookie(&http.Cookie{Name: onshape.SessionCookieName, Value: token.SessionCookie})
	return out
}

func (m *Manager) inScope(req *http.Request) bool {
	return m.Covers(req.URL)
}

// Covers reports whether a request to u would carry the session cookie.
func (m *Manager) Covers(u *url.URL) bool {
	if u == nil {
		return false
	}
	if m.scope.Secure && !strings.EqualFold(u.Scheme, "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	domain := strings.ToLower(m.scope.Domain)
	if strings.HasPrefix(domain, ".") {
		bare := strings.TrimPrefix(domain, ".")
		return host == bare || strings.HasSuffix(host, domain)
	}
	return host == domain
}

// CoversBase reports whether calls to the API base URL carry the session
// cookie. A false result means every authenticated call will be rejected.
func (m *Manager) CoversBase() bool {
	return m.Covers(m.endpoints.Base())
}

// missingCookieMessage is reported when login succeeds without both cookies.
const missingCookieMessage = "Cookie named 'on' not found"

// DecodeLogin extracts the session and XSRF cookies from a login response.
func DecodeLogin(resp *httpclient.Response) result.Result[onshape.AuthToken] {
	if resp.StatusCode != http.StatusOK {
		return onshape.StatusFailure[onshape.AuthToken](resp)
	}
	session, okSession := resp.Cookie(onshape.SessionCookieName)
	xsrf, okXSRF := resp.Cookie(onshape.XSRFCookieName)
	if !okSession || !okXSRF || session == "" || xsrf == "" {
		return result.FailWith[onshape.AuthToken](http.StatusNotFound, missingCookieMessage,
			&apperrors.AuthRequiredError{Message: missingCookieMessage})
	}
	return result.Success(onshape.AuthToken{SessionCookie: session, XSRFCookie: xsrf})
}

// noSessionMessage is reported when the session-info endpoint answers 204.
const noSessionMessage = "no current session"

// DecodeSession maps the session-info status onto authenticated or not.
func DecodeSession(resp *httpclient.Response) result.Result[struct{}] {
	switch resp.StatusCode {
	case http.StatusOK:
		return result.Success(struct{}{})
	case http.StatusNoContent:
		return result.FailWith[struct{}](http.StatusUnauthorized, noSessionMessage,
			&apperrors.AuthRequiredError{Message: noSessionMessage})
	default:
		return onshape.StatusFailure[struct{}](resp)
	}
}
