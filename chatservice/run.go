// Package chatservice boots the chat backend: durable stores, the
// generative provider, the throttled request queue, the context cache,
// and the HTTP surface.
package chatservice

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/serenemind/serenemind-backend/internal/api"
	"github.com/serenemind/serenemind-backend/internal/config"
	"github.com/serenemind/serenemind-backend/internal/events"
	"github.com/serenemind/serenemind-backend/internal/factextract"
	"github.com/serenemind/serenemind-backend/internal/health"
	"github.com/serenemind/serenemind-backend/internal/memcache"
	"github.com/serenemind/serenemind-backend/internal/platform/logger"
	"github.com/serenemind/serenemind-backend/internal/prompt"
	"github.com/serenemind/serenemind-backend/internal/provider"
	"github.com/serenemind/serenemind-backend/internal/services"
	"github.com/serenemind/serenemind-backend/internal/store"
	"github.com/serenemind/serenemind-backend/internal/store/postgres"
	"github.com/serenemind/serenemind-backend/internal/store/sqlite"
	"github.com/serenemind/serenemind-backend/internal/throttle"
)

// Run starts the chat service HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("chat-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	ctx, stop := newServerContext()
	defer stop()

	st, db, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Store adapter unavailable")
		return err
	}
	defer func() { _ = db.Close() }()

	prov := provider.NewOllama(cfg.ProviderBaseURL, cfg.ProviderModel, cfg.ProviderTimeout())

	router, cache, queue, bus := buildService(st, prov, cfg, log)

	// Background workers: the single queue worker, the cache sweeper,
	// and the fact-event cache invalidator.
	go queue.Start(ctx)
	go cache.StartSweeper(ctx, cfg.CacheSweepInterval())
	go invalidateOnFactEvents(ctx, bus, cache, log)

	svcHealth := startHealthCheckers(ctx, cfg, log, st, prov)
	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Err(err).Msg("startup health check failed")
		return err
	}

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}
}

// openStore selects the store adapter by configured driver.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, *sql.DB, error) {
	switch cfg.DBDriver {
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := sqlite.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite store ready")
		return sqlite.NewWithDB(db), db, nil
	case "postgres":
		if err := postgres.Bootstrap(ctx, cfg.PostgresDSN); err != nil {
			return nil, nil, err
		}
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("postgres store ready")
		return postgres.NewWithDB(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}
}

// buildService wires the engine components and the HTTP routes.
func buildService(st store.Store, prov provider.Provider, cfg *config.Config, log zerolog.Logger) (*mux.Router, *memcache.Cache, *throttle.Queue, *events.Bus) {
	params := provider.Params{Temperature: cfg.ProviderTemperature, TopP: cfg.ProviderTopP}

	limiter := throttle.NewLimiter(cfg.UserWindowLimit, cfg.GlobalWindowLimit, cfg.RateWindow())
	queue := throttle.NewQueue(prov, throttle.Config{
		Depth:             cfg.QueueDepth,
		QueueTimeout:      cfg.QueueTimeout(),
		InterRequestDelay: cfg.InterRequestDelay(),
		AttemptTimeout:    cfg.ProviderTimeout(),
		MaxRetries:        cfg.MaxRetries,
		RetryInitialDelay: cfg.RetryInitialDelay(),
		RetryMaxDelay:     cfg.RetryMaxDelay(),
	}, log)
	cache := memcache.New(cfg.CacheTTL(), cfg.CacheCapacity, log)
	// Summarization shares the queue so only one provider call is ever
	// in flight, chat or otherwise.
	compactor := prompt.NewCompactor(queue, params, log)
	bus := events.NewBus(cfg.QueueDepth)
	pipeline := factextract.NewPipeline(st.Facts(), cfg.FactCapPerUser, bus, log)

	chatSvc := services.NewChatService(st, limiter, queue, cache, compactor, pipeline, cfg, log)
	profileSvc := services.NewProfileService(st, cache, log)
	factSvc := services.NewFactService(st)

	router := api.NewRouter(chatSvc, profileSvc, factSvc, cfg, log)
	return router, cache, queue, bus
}

// invalidateOnFactEvents drops a user's cached context whenever the
// extraction pipeline stores or reinforces a fact. The next chat turn
// then rebuilds the blob with the fresh fact instead of waiting out the
// TTL.
func invalidateOnFactEvents(ctx context.Context, bus *events.Bus, cache *memcache.Cache, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-bus.Subscribe():
			removed := cache.Invalidate(evt.UserID)
			log.Debug().
				Str("user_id", evt.UserID).
				Str("kind", string(evt.Kind)).
				Int("removed", removed).
				Msg("context cache invalidated")
		}
	}
}

// startHealthCheckers starts component checkers and the service-level
// aggregator, and binds the health endpoint.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, prov provider.Provider) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	var checkers []health.HealthChecker
	if p, ok := st.(health.HealthPinger); ok {
		storeChecker := health.NewPingChecker("store", p, log, probeTimeout)
		go storeChecker.Start(ctx, interval)
		checkers = append(checkers, storeChecker)
	}
	provChecker := health.NewPingChecker("provider", prov, log, probeTimeout)
	go provChecker.Start(ctx, interval)
	checkers = append(checkers, provChecker)

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	api.BindServiceHealth(svcHealth.IsHealthy)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Streaming responses can outlive a flat write timeout; the
		// queue-residency budget bounds request lifetime instead.
		WriteTimeout: 2 * cfg.QueueTimeout(),
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health timeout in
// seconds: interval*2 with a minimum of 60 seconds.
func calculateStartupHealthTimeout(healthIntervalSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < 60 {
		return 60
	}
	return timeout
}

// waitUntilHealthy blocks until service health is healthy or the startup
// window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := calculateStartupHealthTimeout(cfg.HealthIntervalSeconds)
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context bound to SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
