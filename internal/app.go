package internal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Config is the composition root's single input: every collaborator App
// wires is either derived from one of these fields or constructed entirely
// internally. Exported so package main never needs to reach past it into
// unexported constructors (controllerMetrics, cacheMetrics, and friends).
type Config struct {
	// DSN is the Postgres connection string backing both the canonical
	// Store and the durable cache/persister tier.
	DSN string

	// Objects is the durable blob store backing ObjectStoreCache and
	// CoverOrchestrator's large-image convention. Callers typically
	// construct this via NewS3Store.
	Objects ObjectStore

	GoogleBooksAPIKey string
	GoogleBooksConfig GoogleBooksConfig
	OpenLibrary       OpenLibraryConfig
	Longitood         LongitoodConfig
	NYT               NYTConfig

	// ProviderRPS is the steady-state requests/sec budget shared by every
	// provider's RateLimiter when a per-provider override isn't given
	// above (a zero RateLimiter field on a provider config).
	ProviderRPS float64

	Breaker CircuitBreakerConfig
}

// App is the fully-wired engine: identity resolution, tiered fetch/search,
// cover orchestration, recommendations, scheduled jobs, and the HTTP
// surface, constructed once and held for the process lifetime. Factored
// into NewApp so cmd/bookfinder's main.go -- a separate package -- can
// build one without reaching into internal's unexported metrics and
// resolver-config types.
type App struct {
	Registry *prometheus.Registry

	store     *Store
	resolver  *TieredResolver
	cover     *CoverOrchestrator
	recommend *RecommendationEngine
	scheduler *Scheduler
	handler   *Handler
}

// NewApp constructs every collaborator and returns a ready-to-run App. The
// returned App still needs Recover, then RunScheduler/RunDenormalizer
// started in their own goroutines, before Mux is served.
func NewApp(ctx context.Context, cfg Config) (*App, error) {
	pool, err := newDB(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	store, err := NewStore(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	reg := NewMetrics()
	controllerM := newControllerMetrics(reg)
	cacheM := newCacheMetrics(reg)
	providerM := newProviderMetrics(reg)
	_ = newDBMetrics(pool, reg)

	rps := cfg.ProviderRPS
	if rps == 0 {
		rps = 1
	}
	breakerCfg := cfg.Breaker
	if breakerCfg == (CircuitBreakerConfig{}) {
		breakerCfg = DefaultCircuitBreakerConfig()
	}

	gbCfg := cfg.GoogleBooksConfig
	gbCfg.Metrics = providerM
	if gbCfg.Limiter == nil {
		gbCfg.Limiter = NewRateLimiter(10, rps)
	}
	if gbCfg.Breaker == nil {
		gbCfg.Breaker = NewCircuitBreaker(breakerCfg)
	}
	if gbCfg.APIKey == "" {
		gbCfg.APIKey = cfg.GoogleBooksAPIKey
	}
	googleBooksAuthed := NewGoogleBooksClient(gbCfg)

	gbUnauthedCfg := gbCfg
	gbUnauthedCfg.APIKey = ""
	gbUnauthedCfg.Limiter = NewRateLimiter(5, rps/2)
	gbUnauthedCfg.Breaker = NewCircuitBreaker(breakerCfg)
	googleBooksUnauthed := NewGoogleBooksClient(gbUnauthedCfg)

	olCfg := cfg.OpenLibrary
	olCfg.Metrics = providerM
	if olCfg.Limiter == nil {
		olCfg.Limiter = NewRateLimiter(10, rps)
	}
	if olCfg.Breaker == nil {
		olCfg.Breaker = NewCircuitBreaker(breakerCfg)
	}
	openLibrary := NewOpenLibraryClient(olCfg)

	ltCfg := cfg.Longitood
	ltCfg.Metrics = providerM
	if ltCfg.Limiter == nil {
		ltCfg.Limiter = NewRateLimiter(10, rps)
	}
	if ltCfg.Breaker == nil {
		ltCfg.Breaker = NewCircuitBreaker(breakerCfg)
	}
	longitood := NewLongitoodClient(ltCfg)

	nytCfg := cfg.NYT
	nytCfg.Metrics = providerM
	if nytCfg.Limiter == nil {
		nytCfg.Limiter = NewRateLimiter(5, rps/2)
	}
	if nytCfg.Breaker == nil {
		nytCfg.Breaker = NewCircuitBreaker(breakerCfg)
	}
	nyt := NewNYTClient(nytCfg)

	var objects *ObjectStoreCache
	if cfg.Objects != nil {
		objects = NewObjectStoreCache(cfg.Objects, cacheM)
	}

	identity := NewIdentityResolver(store)

	jobCache, err := newCache(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("initializing job cache: %w", err)
	}
	persister, err := NewRefreshPersister(ctx, jobCache, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("initializing refresh persister: %w", err)
	}

	coverProviders := map[CoverSourceTag]coverFetcher{
		CoverGoogleBooks: googleBooksAuthed,
		CoverOpenLibrary: openLibrary,
		CoverLongitood:   longitood,
	}
	cover := NewCoverOrchestrator(store, cfg.Objects, coverProviders, persister)

	recommend := NewRecommendationEngine(store, persister)

	resolver := NewTieredResolver(ResolverConfig{
		Store:                     store,
		Identity:                  identity,
		Objects:                   objects,
		Cover:                     cover,
		Providers:                 []ProviderClient{googleBooksAuthed, openLibrary, longitood},
		SearchGoogleBooksAuthed:   googleBooksAuthed,
		SearchGoogleBooksUnauthed: googleBooksUnauthed,
		SearchOpenLibrary:         openLibrary,
		Metrics:                   controllerM,
	})

	scheduler := NewScheduler(resolver, store, objects, nyt, identity)

	handler := NewHandler(resolver, cover, recommend)

	return &App{
		Registry:  reg,
		store:     store,
		resolver:  resolver,
		cover:     cover,
		recommend: recommend,
		scheduler: scheduler,
		handler:   handler,
	}, nil
}

// Mux returns the fully-instrumented HTTP handler.
func (a *App) Mux() http.Handler {
	return instrument(a.Registry, NewMux(a.handler))
}

// Store returns the canonical Store, for direct access outside the normal
// request path.
func (a *App) Store() *Store {
	return a.store
}

// Recover re-triggers any cover or recommendation work left in flight when
// the process last stopped.
func (a *App) Recover(ctx context.Context) {
	a.cover.Recover(ctx)
	a.recommend.Recover(ctx)
}

// RunScheduler starts the engine's periodic jobs and blocks until ctx is
// cancelled. Meant to run in its own goroutine.
func (a *App) RunScheduler(ctx context.Context) {
	a.scheduler.Run(ctx)
}

// RunDenormalizer drains the resolver's background denormalization queue
// until ctx is cancelled. Meant to run in its own goroutine.
func (a *App) RunDenormalizer(ctx context.Context) {
	a.resolver.Run(ctx)
}

// Shutdown stops accepting new denormalization work so RunDenormalizer can
// finish draining what's already queued.
func (a *App) Shutdown(ctx context.Context) {
	a.resolver.Shutdown(ctx)
}

// TriggerReindex runs the full-text search index refresh once, outside the
// scheduler's own ticker loop. Used by the CLI's reindex command.
func (a *App) TriggerReindex(ctx context.Context) {
	a.scheduler.TriggerSearchRefresh(ctx)
}
