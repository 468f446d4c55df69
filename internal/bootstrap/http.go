package bootstrap

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/target/learnhub/config"
	httpx "github.com/target/learnhub/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// NewHTTPServer builds the HTTP server without starting it.
func NewHTTPServer(cfg *HTTPServerConfig) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := BuildHTTPHandler(logger, httpx.RouterServices{
		Clients:   cfg.Services.Registry,
		Cookies:   cfg.Services.Cookies,
		Paths:     guardPaths(appCfg.Auth.Paths),
		GuardWait: appCfg.Auth.GuardWait,
		Readiness: cfg.Services.Readiness,
		Metrics:   cfg.Services.MetricsSink(),
		Logger:    logger,
	})

	addr := appCfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}
	readHeader := appCfg.HTTP.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 10 * time.Second
	}

	// No WriteTimeout: /auth/events is a long-lived stream. Shutdown cancels
	// the base context so open streams return and the server can drain.
	baseCtx, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeader,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancel)
	return server
}

func guardPaths(p config.GuardPaths) httpx.GuardPaths {
	return httpx.GuardPaths{
		Login:    p.Login,
		Checkout: p.Checkout,
		Admin:    p.Admin,
		Teacher:  p.Teacher,
		Student:  p.Student,
	}
}

// BuildHTTPHandler wraps the router in the standard middleware chain.
// Order: Recover -> Logging -> Router.
func BuildHTTPHandler(logger *slog.Logger, services httpx.RouterServices) http.Handler {
	h := httpx.NewRouter(services)
	h = httpx.Logging(logger)(h)
	h = httpx.Recover(logger)(h)
	return h
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	parent := cfg.Context
	if parent == nil {
		parent = context.Background()
	}
	shutdownCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}
	return nil
}
