package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/target/learnhub/config"
	"github.com/target/learnhub/internal/data"
	httpx "github.com/target/learnhub/internal/http"
	"github.com/target/learnhub/internal/observability/statsd"
	"github.com/target/learnhub/internal/service"
	"golang.org/x/sync/errgroup"
)

// ServiceContainer holds the long-lived components shared by the HTTP layer.
type ServiceContainer struct {
	Profiles  *data.ProfileRepo
	Registry  *service.SessionRegistry
	Cookies   *httpx.SessionCookies
	Readiness []httpx.ReadinessCheck
	// Metrics is nil when metrics are disabled.
	Metrics *statsd.Client
}

// MetricsSink returns Metrics as a Sink, or nil when metrics are disabled.
//
//nolint:ireturn // callers only need the sink behaviour.
func (s ServiceContainer) MetricsSink() statsd.Sink {
	if s.Metrics == nil {
		return nil
	}
	return s.Metrics
}

// ServiceDeps contains the infrastructure NewServices builds on.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices builds the profile store, identity provider and session registry.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	profiles := data.NewProfileRepo(deps.DB)
	authCfg := AuthConfig{
		Auth:        cfg.Auth,
		Session:     cfg.Session,
		Profiles:    profiles,
		RedisClient: deps.RedisClient,
		Logger:      logger,
	}
	providers, err := BuildProviderFactory(ctx, authCfg)
	if err != nil {
		return ServiceContainer{}, err
	}

	if cfg.Session.HashKey == "" {
		logger.Warn("SESSION_HASH_KEY not set; browser sessions reset on restart")
	}
	cookies := httpx.NewSessionCookies(httpx.SessionCookieConfig{
		Name:     cfg.Session.CookieName,
		Domain:   cfg.HTTP.CookieDomain,
		Secure:   cfg.HTTP.SecureCookies(),
		MaxAge:   cfg.Session.CookieMaxAge,
		HashKey:  []byte(cfg.Session.HashKey),
		BlockKey: []byte(cfg.Session.BlockKey),
	})

	return ServiceContainer{
		Profiles:  profiles,
		Registry:  BuildSessionRegistry(authCfg, providers),
		Cookies:   cookies,
		Readiness: readinessChecks(deps.DB, deps.RedisClient),
		Metrics:   buildMetricsClient(cfg.Metrics, logger),
	}, nil
}

func readinessChecks(db *sql.DB, rdb redis.UniversalClient) []httpx.ReadinessCheck {
	var checks []httpx.ReadinessCheck
	if db != nil {
		checks = append(checks, httpx.ReadinessCheck{Name: "postgres", Check: db.PingContext})
	}
	if rdb != nil {
		checks = append(checks, httpx.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	return checks
}

// ServiceOrchestrationConfig contains everything RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown serves HTTP and sweeps idle browser sessions until
// SIGINT/SIGTERM or a component fails, then shuts everything down.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := NewHTTPServer(&HTTPServerConfig{
		Config:   cfg.Config,
		Services: cfg.Services,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		cfg.Services.Registry.RunSweeper(gctx, cfg.Config.Session.SweepInterval)
		return nil
	})
	g.Go(func() error {
		reportSessionGauges(gctx, cfg.Services.Registry, cfg.Services.MetricsSink(), cfg.Config.Session.SweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down services...")
		err := ShutdownHTTPServer(ShutdownConfig{
			Context: context.WithoutCancel(gctx),
			Server:  server,
			Timeout: cfg.Config.HTTP.ShutdownTimeout,
			Logger:  logger,
		})
		cfg.Services.Registry.Close()
		if cerr := cfg.Services.Metrics.Close(); cerr != nil {
			logger.Warn("statsd close failed", "error", cerr)
		}
		return err
	})

	err := g.Wait()
	if err != nil {
		logger.Error("service error", "error", err)
	}
	return err
}
