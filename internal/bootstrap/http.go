package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/consultaflow/dispatcher/config"
	httpx "github.com/consultaflow/dispatcher/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := buildHTTPHandler(httpHandlerConfig{
		Logger:   logger,
		Services: routerServices(cfg, appCfg, logger),
		HTTP:     appCfg.HTTP,
	})

	return startServer(logger, handler, appCfg.HTTP)
}

func routerServices(cfg *HTTPServerConfig, appCfg *config.AppConfig, logger *slog.Logger) httpx.RouterServices {
	services := httpx.RouterServices{
		Jobs:      cfg.Services.Intake,
		Checks:    readinessChecks(cfg),
		APIToken:  appCfg.HTTP.APIToken,
		ListLimit: appCfg.HTTP.ListLimit,
		Logger:    logger,
	}
	// Typed nils would pass the router's nil checks.
	if cfg.Services.Intake != nil {
		services.Accounts = cfg.Services.Intake
	}
	if cfg.Services.Dispatcher != nil {
		services.Runs = cfg.Services.Dispatcher
	}
	return services
}

func readinessChecks(cfg *HTTPServerConfig) map[string]httpx.HealthCheck {
	checks := make(map[string]httpx.HealthCheck, 2)
	if cfg.DB != nil {
		checks["postgres"] = PingDB(cfg.DB)
	}
	if cfg.Services.Locker != nil {
		checks["redis"] = cfg.Services.Locker.Health
	}
	return checks
}

type httpHandlerConfig struct {
	Logger   *slog.Logger
	Services httpx.RouterServices
	HTTP     config.HTTPConfig
}

// Order: Recover -> Logging -> LimitBody -> Router.
func buildHTTPHandler(cfg httpHandlerConfig) http.Handler {
	h := httpx.NewRouter(cfg.Services)
	h = httpx.LimitBody(cfg.HTTP.MaxBodyBytes)(h)
	h = httpx.Logging(cfg.Logger)(h)
	h = httpx.Recover(cfg.Logger)(h)
	return h
}

func startServer(logger *slog.Logger, handler http.Handler, cfg config.HTTPConfig) *http.Server {
	addr := cfg.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
