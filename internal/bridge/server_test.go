package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cadbridge/internal/errors"
	"cadbridge/internal/onshape"
	"cadbridge/internal/orchestrator"
	"cadbridge/internal/pending"
	"cadbridge/internal/result"
	"cadbridge/internal/thumbnails"
	"cadbridge/internal/tokenstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeClient struct {
	mu          sync.Mutex
	loginErr    *result.Failure
	sessionErr  *result.Failure
	docs        []onshape.DocumentSummary
	lastQuery   string
	lastType    string
	lastOptions onshape.ExportOptions
	lastRef     onshape.ElementRef
}

func (f *fakeClient) Authenticate(_ context.Context, username, _ string, ok func(onshape.AuthToken), fail orchestrator.FailureFunc) {
	if f.loginErr != nil {
		fail(*f.loginErr)
		return
	}
	ok(onshape.AuthToken{SessionCookie: "cookie-for-" + username, XSRFCookie: "x"})
}

func (f *fakeClient) CheckSession(_ context.Context, ok func(), fail orchestrator.FailureFunc) {
	if f.sessionErr != nil {
		fail(*f.sessionErr)
		return
	}
	ok()
}

func (f *fakeClient) ListDocuments(_ context.Context, query string, ok func([]onshape.DocumentSummary), _ orchestrator.FailureFunc) {
	f.mu.Lock()
	f.lastQuery = query
	f.mu.Unlock()
	ok(f.docs)
}

func (f *fakeClient) ListElements(_ context.Context, did, wid string, ok func([]onshape.ElementSummary), _ orchestrator.FailureFunc) {
	ok([]onshape.ElementSummary{{Name: "Part Studio 1", ID: "e1", DocumentID: did, WorkspaceID: wid, Type: onshape.ElementTypePartStudio}})
}

func (f *fakeClient) ListPartIDs(_ context.Context, ref onshape.ElementRef, ok func([]string), fail orchestrator.FailureFunc) {
	if ref.ElementID == "broken" {
		fail(result.Failure{StatusCode: onshape.DecodeFailureStatus, Message: "unexpected parts shape",
			Err: apperrors.NewDecodeError("parts", "missing partId")})
		return
	}
	ok([]string{"JHD", "JHK"})
}

func (f *fakeClient) ExportElementSTL(_ context.Context, ref onshape.ElementRef, elementType string, opts onshape.ExportOptions, ok func([]byte), _ orchestrator.FailureFunc) {
	f.mu.Lock()
	f.lastRef, f.lastType, f.lastOptions = ref, elementType, opts
	f.mu.Unlock()
	ok([]byte("solid cube\nendsolid cube\n"))
}

func (f *fakeClient) InFlight() []pending.Snapshot {
	return []pending.Snapshot{{Handle: 1, ID: "call-1", Operation: orchestrator.OpListDocuments}}
}

type fakeThumbs struct {
	mu        sync.Mutex
	listeners []thumbnails.Listener
	prefetch  chan []string
}

func (f *fakeThumbs) Get(_ context.Context, href string) (string, error) {
	if href == "missing" {
		return "", result.Failure{StatusCode: http.StatusUnauthorized, Message: "Could not load image"}
	}
	return thumbnails.DataURLPrefix + "AAAA", nil
}

func (f *fakeThumbs) Prefetch(_ context.Context, hrefs []string) error {
	if f.prefetch != nil {
		f.prefetch <- hrefs
	}
	return nil
}

func (f *fakeThumbs) Subscribe(fn thumbnails.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	return func() {}
}

func (f *fakeThumbs) emit(href, dataURL string) {
	f.mu.Lock()
	listeners := append([]thumbnails.Listener(nil), f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(href, dataURL)
	}
}

type harness struct {
	server *Server
	client *fakeClient
	thumbs *fakeThumbs
	tokens *tokenstore.Memory
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		client: &fakeClient{},
		thumbs: &fakeThumbs{},
		tokens: tokenstore.NewMemory(),
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "cadbridge_test_total", Help: "test"}))
	srv, err := NewServer(Dependencies{
		Client:     h.client,
		Thumbnails: h.thumbs,
		Tokens:     h.tokens,
		Gatherer:   registry,
	}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	h.server = srv
	return h
}

func (h *harness) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestLoginSavesToken(t *testing.T) {
	h := newHarness(t, Config{})
	rec, resp := h.do(t, http.MethodPost, "/api/session", `{"username":"ada","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)

	saved, ok := h.tokens.Current()
	require.True(t, ok)
	assert.Equal(t, "ada", saved.Username)
	assert.Equal(t, "cookie-for-ada", saved.Token.SessionCookie)
}

func TestLoginFailureKeepsStoreUntouched(t *testing.T) {
	h := newHarness(t, Config{})
	h.client.loginErr = &result.Failure{StatusCode: http.StatusNotFound, Message: "Cookie named 'on' not found"}

	rec, resp := h.do(t, http.MethodPost, "/api/session", `{"username":"ada","password":"bad"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "Cookie named 'on' not found", resp.Error)
	_, ok := h.tokens.Current()
	assert.False(t, ok)
}

func TestLoginRequiresCredentialsAndJSON(t *testing.T) {
	h := newHarness(t, Config{})
	rec, _ := h.do(t, http.MethodPost, "/api/session", `{"username":"ada"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader("username=ada"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	out := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, out.Code)
}

func TestSessionStates(t *testing.T) {
	h := newHarness(t, Config{})
	rec, _ := h.do(t, http.MethodGet, "/api/session", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.NoError(t, h.tokens.Save(context.Background(), tokenstore.Record{
		Username: "ada", Token: onshape.AuthToken{SessionCookie: "s"},
	}))
	rec, resp := h.do(t, http.MethodGet, "/api/session", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	h.client.sessionErr = &result.Failure{StatusCode: http.StatusUnauthorized, Message: "no current session"}
	rec, resp = h.do(t, http.MethodGet, "/api/session", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "no current session", resp.Error)

	rec, _ = h.do(t, http.MethodDelete, "/api/session", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	_, ok := h.tokens.Current()
	assert.False(t, ok)
}

func TestDocumentsPassQueryAndPrefetchThumbnails(t *testing.T) {
	h := newHarness(t, Config{PrefetchThumbnails: true})
	h.thumbs.prefetch = make(chan []string, 1)
	h.client.docs = []onshape.DocumentSummary{
		{Name: "Bracket", ID: "d1", ThumbnailRef: "https://cad.example/thumb/d1"},
		{Name: "Plain", ID: "d2"},
	}

	rec, resp := h.do(t, http.MethodGet, "/api/documents?q=brack", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "brack", h.client.lastQuery)
	assert.Contains(t, rec.Body.String(), `"Bracket"`)

	select {
	case hrefs := <-h.thumbs.prefetch:
		assert.Equal(t, []string{"https://cad.example/thumb/d1", ""}, hrefs)
	case <-time.After(2 * time.Second):
		t.Fatal("prefetch was not started")
	}
}

func TestElementsAndParts(t *testing.T) {
	h := newHarness(t, Config{})
	rec, _ := h.do(t, http.MethodGet, "/api/documents/d1/w/w1/elements", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"documentId":"d1"`)

	rec, _ = h.do(t, http.MethodGet, "/api/documents/d1/w/w1/e/e1/parts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"JHD"`)

	rec, resp := h.do(t, http.MethodGet, "/api/documents/d1/w/w1/e/broken/parts", "")
	assert.Equal(t, onshape.DecodeFailureStatus, rec.Code)
	assert.Equal(t, onshape.DecodeFailureStatus, resp.Status)
}

func TestExportMergesDefaults(t *testing.T) {
	h := newHarness(t, Config{ExportDefaults: onshape.ExportOptions{Scale: "1", Units: "inch", ChordTolerance: "0.2"}})
	rec, _ := h.do(t, http.MethodGet, "/api/documents/d1/w/w1/e/e9/stl?type=ASSEMBLY&units=millimeter", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "model/stl", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `e9.stl`)
	assert.Equal(t, "solid cube\nendsolid cube\n", rec.Body.String())

	assert.Equal(t, onshape.ElementTypeAssembly, h.client.lastType)
	assert.Equal(t, onshape.ElementRef{DocumentID: "d1", WorkspaceID: "w1", ElementID: "e9"}, h.client.lastRef)
	assert.Equal(t, "millimeter", h.client.lastOptions.Units)
	assert.Equal(t, "1", h.client.lastOptions.Scale)
	assert.Equal(t, "0.2", h.client.lastOptions.ChordTolerance)
}

func TestThumbnailEndpoint(t *testing.T) {
	h := newHarness(t, Config{})
	rec, _ := h.do(t, http.MethodGet, "/api/thumbnail", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/thumbnail?href=https://cad.example/t.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), thumbnails.DataURLPrefix+"AAAA")

	rec, resp := h.do(t, http.MethodGet, "/api/thumbnail?href=missing", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Could not load image", resp.Error)
}

func TestTransportFailureMapsToBadGateway(t *testing.T) {
	h := newHarness(t, Config{})
	h.client.loginErr = &result.Failure{Message: "connection refused", Err: apperrors.NewTransportError(context.DeadlineExceeded)}
	rec, resp := h.do(t, http.MethodPost, "/api/session", `{"username":"ada","password":"pw"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Zero(t, resp.Status)
}

func TestHealthCallsAndMetrics(t *testing.T) {
	h := newHarness(t, Config{})
	rec, resp := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = h.do(t, http.MethodGet, "/api/calls", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"operation":"list_documents"`)

	rec, _ = h.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cadbridge_test_total")
}

func TestEventsPushThumbnailLoaded(t *testing.T) {
	h := newHarness(t, Config{})
	ts := httptest.NewServer(h.server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.server.events.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.thumbs.emit("https://cad.example/t.png", thumbnails.DataURLPrefix+"BBBB")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, EventThumbnailLoaded, evt.Type)
	assert.Equal(t, "https://cad.example/t.png", evt.Href)
	assert.Equal(t, thumbnails.DataURLPrefix+"BBBB", evt.DataURL)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestNewServerValidatesDependencies(t *testing.T) {
	_, err := NewServer(Dependencies{Tokens: tokenstore.NewMemory()}, Config{})
	assert.Error(t, err)
	_, err = NewServer(Dependencies{Client: &fakeClient{}}, Config{})
	assert.Error(t, err)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:5173/"})
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	assert.True(t, check(req))
	req.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, check(req))
	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))
}
