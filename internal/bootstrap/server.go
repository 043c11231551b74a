package bootstrap

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/echo-platform/echogate/internal/cache"
	"github.com/echo-platform/echogate/internal/config"
	"github.com/echo-platform/echogate/internal/metrics"
	"github.com/echo-platform/echogate/internal/services"
	"github.com/echo-platform/echogate/internal/store"

	"github.com/appleboy/graceful"
)

// createHTTPServer creates the HTTP server instance. WriteTimeout is left
// at zero: completion streams stay open longer than any sane fixed timeout,
// and the upstream client timeout already bounds non-streaming requests.
func createHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// startWithGracefulShutdown runs the server and background jobs until a
// termination signal arrives
func (app *Application) startWithGracefulShutdown() {
	m := graceful.NewManager()

	addServerRunningJob(m, app.Server)
	addServerShutdownJob(m, app.Server)
	addMetricsGaugeUpdateJob(m, app.Config, app.DB, app.MetricsRecorder, app.GaugeCache)
	addCredentialCleanupJob(m, app.Config, app.SessionService)
	addCacheShutdownJob(m, app.GaugeCache.Close)

	logServerStartup(app.Config)
	<-m.Done()
}

// addServerRunningJob adds the HTTP server running job
func addServerRunningJob(m *graceful.Manager, srv *http.Server) {
	m.AddRunningJob(func(ctx context.Context) error {
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start server: %v", err)
			}
		}()
		<-ctx.Done()
		return nil
	})
}

// addServerShutdownJob adds HTTP server shutdown handler
func addServerShutdownJob(m *graceful.Manager, srv *http.Server) {
	m.AddShutdownJob(func() error {
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
			return err
		}

		log.Println("Server exited")
		return nil
	})
}

// addMetricsGaugeUpdateJob adds the periodic session and refresh token
// gauge update job. Counts are cached so multi-replica deployments do not
// multiply the COUNT queries.
func addMetricsGaugeUpdateJob(
	m *graceful.Manager,
	cfg *config.Config,
	db *store.Store,
	recorder metrics.Recorder,
	gaugeCache cache.Cache[int64],
) {
	if !cfg.MetricsEnabled || !cfg.GaugeUpdateEnabled {
		return
	}

	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.GaugeUpdateEvery)
		defer ticker.Stop()

		wrapper := metrics.NewCacheWrapper(db, gaugeCache)

		updateGaugeMetrics(ctx, wrapper, recorder, cfg.GaugeUpdateEvery)

		for {
			select {
			case <-ticker.C:
				updateGaugeMetrics(ctx, wrapper, recorder, cfg.GaugeUpdateEvery)
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// addCredentialCleanupJob adds the periodic credential housekeeping job:
// expired refresh tokens are archived and stale browser sessions revoked
func addCredentialCleanupJob(
	m *graceful.Manager,
	cfg *config.Config,
	sessionService *services.SessionService,
) {
	if cfg.CredentialCleanupInterval <= 0 {
		return
	}

	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.CredentialCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sessionService.Cleanup(cfg.SessionIdleTimeout)
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// addCacheShutdownJob closes the gauge cache on shutdown
func addCacheShutdownJob(m *graceful.Manager, closer func() error) {
	if closer == nil {
		return
	}

	m.AddShutdownJob(func() error {
		if err := closer(); err != nil {
			log.Printf("Error closing gauge cache: %v", err)
		} else {
			log.Println("Gauge cache closed")
		}
		return nil
	})
}

// errorLogger handles rate-limited error logging
type errorLogger struct {
	lastErrorTimes  map[string]time.Time
	rateLimitWindow time.Duration
}

func newErrorLogger() *errorLogger {
	return &errorLogger{
		lastErrorTimes:  make(map[string]time.Time),
		rateLimitWindow: 5 * time.Minute, // Log at most once per 5 minutes per operation
	}
}

// logIfNeeded logs an error only if rate limit allows
func (e *errorLogger) logIfNeeded(operation string, err error) {
	now := time.Now()
	lastTime, exists := e.lastErrorTimes[operation]

	if !exists || now.Sub(lastTime) >= e.rateLimitWindow {
		log.Printf("Database query failed for %s: %v (further errors will be suppressed for %v)",
			operation, err, e.rateLimitWindow)
		e.lastErrorTimes[operation] = now
	}
}

var gaugeErrorLogger = newErrorLogger()

// updateGaugeMetrics refreshes the session and refresh token gauges.
// The cache TTL matches the update interval so each window does at most
// one COUNT query per gauge across all replicas.
func updateGaugeMetrics(
	ctx context.Context,
	wrapper *metrics.CacheWrapper,
	recorder metrics.Recorder,
	cacheTTL time.Duration,
) {
	sessions, err := wrapper.GetActiveSessionsCount(ctx, cacheTTL)
	if err != nil {
		recorder.RecordDatabaseQueryError("count_active_sessions")
		gaugeErrorLogger.logIfNeeded("count_active_sessions", err)
	} else {
		recorder.SetActiveSessionsCount(sessions)
	}

	refreshTokens, err := wrapper.GetActiveRefreshTokensCount(ctx, cacheTTL)
	if err != nil {
		recorder.RecordDatabaseQueryError("count_active_refresh_tokens")
		gaugeErrorLogger.logIfNeeded("count_active_refresh_tokens", err)
	} else {
		recorder.SetActiveRefreshTokensCount(refreshTokens)
	}
}

func logServerStartup(cfg *config.Config) {
	log.Printf("Starting server on %s", cfg.ServerAddr)
	log.Printf("Base URL: %s", cfg.BaseURL)
	if !cfg.IsProduction {
		log.Printf("Swagger UI: %s/swagger/index.html", cfg.BaseURL)
	}
}
