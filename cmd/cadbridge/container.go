package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cadbridge/internal/auth"
	"cadbridge/internal/config"
	"cadbridge/internal/httpclient"
	"cadbridge/internal/logging"
	"cadbridge/internal/observability"
	"cadbridge/internal/onshape"
	"cadbridge/internal/orchestrator"
	"cadbridge/internal/shared/async"
	"cadbridge/internal/thumbnails"
	"cadbridge/internal/tokenstore"
)

// Container holds every wired component for one CLI invocation.
type Container struct {
	Config     config.Loaded
	Logger     *observability.Logger
	Tracer     *observability.TracerProvider
	Registry   *prometheus.Registry
	Tokens     tokenstore.Store
	Client     *orchestrator.Orchestrator
	Thumbnails *thumbnails.Resolver

	closers []func(context.Context) error
}

type containerOptions struct {
	// executor runs call completions; nil runs them inline.
	executor async.Executor
	logOut   io.Writer
}

func buildContainer(ctx context.Context, flags *rootFlags, opts containerOptions) (*Container, error) {
	loaded, err := config.Load(config.WithConfigPath(flags.configPath))
	if err != nil {
		return nil, err
	}
	if flags.debug {
		loaded.Log.Level = "debug"
	}
	if flags.logFormat != "" {
		loaded.Log.Format = flags.logFormat
	}

	logCfg := loaded.Log.Logging()
	logCfg.Output = opts.logOut
	if logCfg.Output == nil {
		logCfg.Output = os.Stderr
	}
	logger := observability.NewLogger(logCfg)
	logging.SetDefault(logger)

	c := &Container{Config: loaded, Logger: logger}

	c.Tracer = observability.NoopTracerProvider()
	if loaded.Tracing.Enabled {
		tp, err := observability.NewTracerProvider(loaded.Tracing)
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		c.Tracer = tp
		c.closers = append(c.closers, tp.Shutdown)
	}

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := tokenstore.Open(ctx, loaded.Token.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}
	c.Tokens = store
	if closer, ok := store.(io.Closer); ok {
		c.closers = append(c.closers, func(context.Context) error { return closer.Close() })
	}

	endpoints, err := onshape.NewEndpoints(loaded.API.BaseURL)
	if err != nil {
		return nil, err
	}
	httpClient := httpclient.New(httpclient.Options{
		Timeout:           loaded.API.Timeout,
		MaxBodyBytes:      loaded.API.MaxBodyBytes,
		RequestsPerSecond: loaded.API.RequestsPerSecond,
		Burst:             loaded.API.Burst,
		CircuitBreaker:    loaded.API.CircuitBreaker.Breaker(),
		Logger:            logging.NewComponentLogger("httpclient"),
	})

	authManager := auth.NewManager(endpoints, auth.CookieScope{
		Domain: loaded.API.CookieDomain,
		Secure: loaded.API.CookieSecure,
	})
	warnCookieScope(logging.NewComponentLogger("auth"), authManager, endpoints)

	client, err := orchestrator.New(orchestrator.Dependencies{
		Transport:    httpclient.NewTransport(httpClient, loaded.API.MaxBodyBytes),
		Endpoints:    endpoints,
		Auth:         authManager,
		Tokens:       store,
		Executor:     opts.executor,
		Metrics:      orchestrator.MustNewMetrics(c.Registry),
		Tracer:       c.Tracer,
		Logger:       logging.NewComponentLogger("orchestrator"),
		MaxRedirects: loaded.API.MaxRedirects,
	})
	if err != nil {
		return nil, err
	}
	c.Client = client

	resolver, err := thumbnails.NewResolver(client, thumbnails.Config{
		CacheSize:           loaded.Thumbnails.CacheSize,
		TTL:                 loaded.Thumbnails.TTL,
		PrefetchConcurrency: loaded.Thumbnails.PrefetchConcurrency,
	}, logging.NewComponentLogger("thumbnails"))
	if err != nil {
		return nil, err
	}
	c.Thumbnails = resolver
	return c, nil
}

// Cleanup flushes tracing and closes the token store.
func (c *Container) Cleanup(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// warnCookieScope flags a base URL the session cookie would never be sent to.
func warnCookieScope(logger logging.Logger, manager *auth.Manager, endpoints onshape.Endpoints) bool {
	if manager.CoversBase() {
		return true
	}
	scope := manager.Scope()
	logger.Warn("api.base_url %s is outside api.cookie_domain %q (secure=%t); requests will carry no session cookie",
		endpoints.Base(), scope.Domain, scope.Secure)
	return false
}
