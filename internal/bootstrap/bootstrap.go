package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/echo-platform/echogate/internal/cache"
	"github.com/echo-platform/echogate/internal/config"
	"github.com/echo-platform/echogate/internal/metrics"
	"github.com/echo-platform/echogate/internal/proxy"
	"github.com/echo-platform/echogate/internal/services"
	"github.com/echo-platform/echogate/internal/store"
	"github.com/echo-platform/echogate/internal/token"

	"github.com/gin-gonic/gin"
)

// Application holds all initialized components
type Application struct {
	Config *config.Config

	// Core infrastructure
	DB              *store.Store
	Codec           *token.Codec
	MetricsRecorder metrics.Recorder
	GaugeCache      cache.Cache[int64]

	// Services
	UserService    *services.UserService
	OAuthService   *services.OAuthService
	SessionService *services.SessionService
	BalanceService *services.BalanceService

	// Proxy
	Proxy *proxy.Proxy

	// HTTP
	Handlers handlerSet
	Router   *gin.Engine
	Server   *http.Server
}

// Run initializes and starts the application, blocking until shutdown
func Run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{Config: cfg}

	if err := app.initializeInfrastructure(); err != nil {
		return err
	}
	app.initializeBusinessLayer()
	if err := app.initializeProxy(); err != nil {
		return err
	}
	app.initializeHTTPLayer()

	app.startWithGracefulShutdown()
	return nil
}

// initializeInfrastructure sets up the database, token codec, metrics and
// the gauge cache
func (app *Application) initializeInfrastructure() error {
	db, err := store.New(app.Config.DatabaseDriver, app.Config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.DB = db

	app.Codec = token.NewCodec(app.Config)
	app.MetricsRecorder = metrics.Init(app.Config.MetricsEnabled)
	app.GaugeCache = initializeGaugeCache(app.Config)
	return nil
}

func (app *Application) initializeBusinessLayer() {
	app.UserService = services.NewUserService(app.DB)
	app.OAuthService = services.NewOAuthService(app.DB, app.Codec, app.Config, app.MetricsRecorder)
	app.SessionService = services.NewSessionService(app.DB, app.MetricsRecorder)
	app.BalanceService = services.NewBalanceService(app.DB)
}

func (app *Application) initializeProxy() error {
	providers, err := proxy.BuildProviders(app.Config)
	if err != nil {
		return fmt.Errorf("failed to build upstream providers: %w", err)
	}
	logProviderStatus(providers)

	identityCache, err := proxy.NewIdentityCache(context.Background(), app.Config)
	if err != nil {
		return fmt.Errorf("failed to build identity cache: %w", err)
	}

	app.Proxy = proxy.New(
		app.DB,
		app.BalanceService,
		app.MetricsRecorder,
		identityCache,
		app.Config.IdentityCacheTTL,
		providers,
	)
	return nil
}

func (app *Application) initializeHTTPLayer() {
	app.Handlers = initializeHandlers(
		app.Config,
		app.UserService,
		app.OAuthService,
		app.SessionService,
		app.MetricsRecorder,
	)
	app.Router = setupRouter(app.Config, app.DB, app.Codec, app.Handlers, app.Proxy, app.MetricsRecorder)
	app.Server = createHTTPServer(app.Config, app.Router)
}
