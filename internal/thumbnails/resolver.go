// Package thumbnails resolves thumbnail hrefs into data URLs that a UI can
// bind to directly.
package thumbnails

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	apperrors "cadbridge/internal/errors"
	"cadbridge/internal/logging"
	"cadbridge/internal/orchestrator"
	"cadbridge/internal/shared/async"
)

const (
	// DataURLPrefix is prepended to the base64 image payload.
	DataURLPrefix = "data:image/png;base64,"

	defaultCacheSize           = 512
	defaultCacheTTL            = 10 * time.Minute
	defaultPrefetchConcurrency = 4
)

// ImageFetcher downloads one image and delivers it base64-encoded.
type ImageFetcher interface {
	FetchImage(ctx context.Context, href string, onSuccess func(string), onFailure orchestrator.FailureFunc)
}

// Config configures the resolver cache.
type Config struct {
	CacheSize           int
	TTL                 time.Duration
	PrefetchConcurrency int
}

type cacheEntry struct {
	dataURL  string
	storedAt time.Time
}

// Listener is told about every image loaded from the network.
type Listener func(href, dataURL string)

// Resolver caches resolved thumbnails and collapses concurrent fetches of the
// same href into one request.
type Resolver struct {
	fetcher     ImageFetcher
	cache       *lru.Cache[string, cacheEntry]
	ttl         time.Duration
	concurrency int
	group       singleflight.Group
	logger      logging.Logger
	now         func() time.Time

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// NewResolver builds a Resolver. Zero config values fall back to defaults.
func NewResolver(fetcher ImageFetcher, cfg Config, logger logging.Logger) (*Resolver, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("thumbnail resolver requires an image fetcher")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	if cfg.PrefetchConcurrency <= 0 {
		cfg.PrefetchConcurrency = defaultPrefetchConcurrency
	}
	cache, err := lru.New[string, cacheEntry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create thumbnail cache: %w", err)
	}
	return &Resolver{
		fetcher:     fetcher,
		cache:       cache,
		ttl:         cfg.TTL,
		concurrency: cfg.PrefetchConcurrency,
		logger:      logging.OrNop(logger),
		now:         time.Now,
		listeners:   make(map[int]Listener),
	}, nil
}

// Resolve delivers the data URL for href. Cached images are delivered before
// Resolve returns; otherwise the image is fetched in the background. A failed
// fetch is logged and delivers an empty string.
func (r *Resolver) Resolve(ctx context.Context, href string, deliver func(dataURL string)) {
	if deliver == nil {
		deliver = func(string) {}
	}
	if strings.TrimSpace(href) == "" {
		deliver("")
		return
	}
	if dataURL, ok := r.cached(href); ok {
		deliver(dataURL)
		return
	}
	async.Go(r.logger, "thumbnail-resolve", func() {
		dataURL, err := r.Get(ctx, href)
		if err != nil {
			r.logger.Info("thumbnail %s not loaded: %v", href, err)
		}
		deliver(dataURL)
	})
}

// Get resolves href and blocks until the image is available or ctx is done.
// Concurrent callers share one fetch, which runs detached from any single
// caller's cancellation; each caller stops waiting on its own ctx.
func (r *Resolver) Get(ctx context.Context, href string) (string, error) {
	if strings.TrimSpace(href) == "" {
		return "", nil
	}
	if dataURL, ok := r.cached(href); ok {
		return dataURL, nil
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(href, func() (any, error) {
		b64, err := orchestrator.Await(fetchCtx, func(ok func(string), fail orchestrator.FailureFunc) {
			r.fetcher.FetchImage(fetchCtx, href, ok, fail)
		})
		if err != nil {
			return "", err
		}
		dataURL := DataURLPrefix + b64
		r.cache.Add(href, cacheEntry{dataURL: dataURL, storedAt: r.now()})
		r.notify(href, dataURL)
		return dataURL, nil
	})
	select {
	case <-ctx.Done():
		return "", apperrors.NewTransportError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Prefetch warms the cache for hrefs with bounded concurrency. Individual
// failures are logged and do not stop the batch; only ctx cancellation is
// returned.
func (r *Resolver) Prefetch(ctx context.Context, hrefs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	seen := make(map[string]bool, len(hrefs))
	for _, href := range hrefs {
		if href == "" || seen[href] {
			continue
		}
		seen[href] = true
		href := href
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := r.Get(gctx, href); err != nil {
				r.logger.Debug("prefetch %s: %v", href, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Subscribe registers fn for images loaded from the network. The returned
// function removes the subscription.
func (r *Resolver) Subscribe(fn Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Len reports the number of cached entries, including expired ones not yet evicted.
func (r *Resolver) Len() int {
	return r.cache.Len()
}

func (r *Resolver) cached(href string) (string, bool) {
	entry, ok := r.cache.Get(href)
	if !ok {
		return "", false
	}
	if r.now().Sub(entry.storedAt) >= r.ttl {
		r.cache.Remove(href)
		return "", false
	}
	return entry.dataURL, true
}

func (r *Resolver) notify(href, dataURL string) {
	r.mu.RLock()
	listeners := make([]Listener, 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(href, dataURL)
	}
}
