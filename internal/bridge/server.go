// Package bridge serves the client over a local JSON and WebSocket API for a
// browser front end.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cadbridge/internal/logging"
	"cadbridge/internal/onshape"
	"cadbridge/internal/orchestrator"
	"cadbridge/internal/pending"
	"cadbridge/internal/result"
	"cadbridge/internal/shared/async"
	"cadbridge/internal/thumbnails"
	"cadbridge/internal/tokenstore"
)

// Client is the part of the orchestrator the bridge calls.
type Client interface {
	Authenticate(ctx context.Context, username, password string, onSuccess func(onshape.AuthToken), onFailure orchestrator.FailureFunc)
	CheckSession(ctx context.Context, onAuthenticated func(), onFailure orchestrator.FailureFunc)
	ListDocuments(ctx context.Context, query string, onSuccess func([]onshape.DocumentSummary), onFailure orchestrator.FailureFunc)
	ListElements(ctx context.Context, documentID, workspaceID string, onSuccess func([]onshape.ElementSummary), onFailure orchestrator.FailureFunc)
	ListPartIDs(ctx context.Context, ref onshape.ElementRef, onSuccess func([]string), onFailure orchestrator.FailureFunc)
	ExportElementSTL(ctx context.Context, ref onshape.ElementRef, elementType string, opts onshape.ExportOptions, onSuccess func([]byte), onFailure orchestrator.FailureFunc)
	InFlight() []pending.Snapshot
}

// Thumbnails resolves and announces thumbnail images.
type Thumbnails interface {
	Get(ctx context.Context, href string) (string, error)
	Prefetch(ctx context.Context, hrefs []string) error
	Subscribe(fn thumbnails.Listener) func()
}

// Config configures the HTTP listener.
type Config struct {
	Addr           string
	CORSOrigins    []string
	ExportDefaults onshape.ExportOptions
	Debug          bool
	ReadTimeout    time.Duration
	// PrefetchThumbnails warms thumbnails of listed documents and elements in
	// the background; results arrive as thumbnail_loaded events.
	PrefetchThumbnails bool
}

// Dependencies wires a Server.
type Dependencies struct {
	Client     Client
	Thumbnails Thumbnails
	Tokens     tokenstore.Store
	// Gatherer backs /metrics. Defaults to the process registry.
	Gatherer prometheus.Gatherer
	Logger   logging.Logger
}

// Server is the bridge HTTP server.
type Server struct {
	client     Client
	thumbs     Thumbnails
	tokens     tokenstore.Store
	cfg        Config
	logger     logging.Logger
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	events     *hub
	startTime  time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// NewServer builds the routes. Thumbnail loads are forwarded to WebSocket
// clients until Shutdown.
func NewServer(deps Dependencies, cfg Config) (*Server, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("bridge requires a client")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("bridge requires a token store")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	logger := logging.OrNop(deps.Logger)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		client: deps.Client,
		thumbs: deps.Thumbnails,
		tokens: deps.Tokens,
		cfg:    cfg,
		logger: logger,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.CORSOrigins),
		},
		events:    newHub(logger),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}
	if s.thumbs != nil {
		s.unsubscribe = s.thumbs.Subscribe(func(href, dataURL string) {
			s.events.publish(Event{Type: EventThumbnailLoaded, Href: href, DataURL: dataURL})
		})
	}
	s.setupRoutes(deps.Gatherer)
	return s, nil
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	api.Use(requireJSON())

	session := api.Group("/session")
	{
		session.POST("", s.handleLogin)
		session.GET("", s.handleSession)
		session.DELETE("", s.handleLogout)
	}

	api.GET("/documents", s.handleDocuments)
	workspace := api.Group("/documents/:did/w/:wid")
	{
		workspace.GET("/elements", s.handleElements)
		workspace.GET("/e/:eid/parts", s.handleParts)
		workspace.GET("/e/:eid/stl", s.handleExport)
	}

	api.GET("/thumbnail", s.handleThumbnail)
	api.GET("/calls", s.handleCalls)
	api.GET("/events", s.handleEvents)
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	async.Go(s.logger, "bridge-listen", func() {
		s.logger.Info("bridge listening on %s", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("bridge listen: %w", err)
			return
		}
		errCh <- nil
	})
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown closes event clients and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.events.closeAll()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("bridge shutdown: %v", err)
		return err
	}
	s.logger.Info("bridge stopped")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		},
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: "username and password are required"})
		return
	}
	ctx := c.Request.Context()
	token, err := orchestrator.Await(ctx, func(ok func(onshape.AuthToken), fail orchestrator.FailureFunc) {
		s.client.Authenticate(ctx, req.Username, req.Password, ok, fail)
	})
	if err != nil {
		s.respondFailure(c, err)
		return
	}
	rec := tokenstore.Record{Username: req.Username, Token: token}
	if err := s.tokens.Save(ctx, rec); err != nil {
		s.logger.Error("save token for %s: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, APIResponse{Success: false, Error: "could not save session"})
		return
	}
	saved, _ := s.tokens.Current()
	s.events.publish(Event{Type: EventSessionChanged, Username: req.Username})
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    SessionResponse{Authenticated: true, Username: saved.Username, SavedAt: saved.SavedAt},
	})
}

func (s *Server) handleSession(c *gin.Context) {
	rec, ok := s.tokens.Current()
	if !ok {
		c.JSON(http.StatusUnauthorized, APIResponse{Success: false, Error: "not logged in", Status: http.StatusUnauthorized})
		return
	}
	ctx := c.Request.Context()
	_, err := orchestrator.Await(ctx, func(ok func(struct{}), fail orchestrator.FailureFunc) {
		s.client.CheckSession(ctx, func() { ok(struct{}{}) }, fail)
	})
	if err != nil {
		s.respondFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    SessionResponse{Authenticated: true, Username: rec.Username, SavedAt: rec.SavedAt},
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.tokens.Clear(c.Request.Context()); err != nil {
		s.logger.Error("clear token: %v", err)
		c.JSON(http.StatusInternalServerError, APIResponse{Success: false, Error: "could not clear session"})
		return
	}
	s.events.publish(Event{Type: EventSessionChanged})
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: SessionResponse{}})
}

func (s *Server) handleDocuments(c *gin.Context) {
	ctx := c.Request.Context()
	query := c.Query("q")
	docs, err := orchestrator.Await(ctx, func(ok func([]onshape.DocumentSummary), fail orchestrator.FailureFunc) {
		s.client.ListDocuments(ctx, query, ok, fail)
	})
	if err != nil {
		s.respondFailure(c, err)
		return
	}
	hrefs := make([]string, 0, len(docs))
	for _, d := range docs {
		hrefs = append(hrefs, d.ThumbnailRef)
	}
	s.prefetch(hrefs)
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: DocumentsResponse{Documents: docs}})
}

func (s *Server) handleElements(c *gin.Context) {
	ctx := c.Request.Context()
	did, wid := c.Param("did"), c.Param("wid")
	elements, err := orchestrator.Await(ctx, func(ok func([]onshape.ElementSummary), fail orchestrator.FailureFunc) {
		s.client.ListElements(ctx, did, wid, ok, fail)
	})
	if err != nil {
		s.respondFailure(c, err)
		return
	}
	hrefs := make([]string, 0, len(elements))
	for _, e := range elements {
		hrefs = append(hrefs, e.ThumbnailRef)
	}
	s.prefetch(hrefs)
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: ElementsResponse{Elements: elements}})
}

func (s *Server) handleParts(c *gin.Context) {
	ctx := c.Request.Context()
	ref := elementRef(c)
	ids, err := orchestrator.Await(ctx, func(ok func([]string), fail orchestrator.FailureFunc) {
		s.client.ListPartIDs(ctx, ref, ok, fail)
	})
	if err != nil {
		s.respondFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: PartsResponse{PartIDs: ids}})
}

func (s *Server) handleExport(c *gin.Context) {
	ctx := c.Request.Context()
	ref := elementRef(c)
	elementType := c.DefaultQuery("type", onshape.ElementTypePartStudio)
	opts := onshape.ExportOptions{
		Scale:          c.Query("scale"),
		Units:          c.Query("units"),
		AngleTolerance: c.Query("angle"),
		ChordTolerance: c.Query("chord"),
		MaxFacetWidth:  c.Query("max_facet"),
		MinFacetWidth:  c.Query("min_facet"),
	}.Merge(s.cfg.ExportDefaults)

	stl, err := orchestrator.Await(ctx, func(ok func([]byte), fail orchestrator.FailureFunc) {
		s.client.ExportElementSTL(ctx, ref, elementType, opts, ok, fail)
	})
	if err != nil {
		s.respondFailure(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ref.ElementID+".stl"))
	c.Data(http.StatusOK, "model/stl", stl)
}

func (s *Server) handleThumbnail(c *gin.Context) {
	href := c.Query("href")
	if href == "" {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: "href is required"})
		return
	}
	if s.thumbs == nil {
		c.JSON(http.StatusServiceUnavailable, APIResponse{Success: false, Error: "thumbnails disabled"})
		return
	}
	dataURL, err := s.thumbs.Get(c.Request.Context(), href)
	if err != nil {
		s.respondFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: ThumbnailResponse{Href: href, DataURL: dataURL}})
}

func (s *Server) handleCalls(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: CallsResponse{Calls: s.client.InFlight()}})
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}
	s.events.serve(conn)
}

func (s *Server) prefetch(hrefs []string) {
	if s.thumbs == nil || !s.cfg.PrefetchThumbnails || len(hrefs) == 0 {
		return
	}
	async.Go(s.logger, "bridge-prefetch", func() {
		if err := s.thumbs.Prefetch(s.ctx, hrefs); err != nil {
			s.logger.Debug("thumbnail prefetch stopped: %v", err)
		}
	})
}

func elementRef(c *gin.Context) onshape.ElementRef {
	return onshape.ElementRef{
		DocumentID:  c.Param("did"),
		WorkspaceID: c.Param("wid"),
		ElementID:   c.Param("eid"),
	}
}

// respondFailure maps a call failure to an HTTP reply. Upstream statuses of
// 400 and above pass through; transport failures become 502.
func (s *Server) respondFailure(c *gin.Context, err error) {
	var failure result.Failure
	if !errors.As(err, &failure) {
		failure = result.Failure{Message: err.Error(), Err: err}
	}
	status := failure.StatusCode
	if status < http.StatusBadRequest {
		status = http.StatusBadGateway
	}
	c.JSON(status, APIResponse{
		Success: false,
		Error:   failure.Message,
		Status:  failure.StatusCode,
	})
}
