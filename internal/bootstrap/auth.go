package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/learnhub/config"
	"github.com/target/learnhub/internal/adapters/devauth"
	"github.com/target/learnhub/internal/adapters/oidc"
	redisadapter "github.com/target/learnhub/internal/adapters/redis"
	"github.com/target/learnhub/internal/ports"
	"github.com/target/learnhub/internal/service"
)

// AuthConfig contains configuration for the identity provider and session registry.
type AuthConfig struct {
	Auth        config.AuthConfig
	Session     config.SessionConfig
	Profiles    ports.ProfileStore
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// BuildProviderFactory creates the identity provider selected by the auth mode.
//
//nolint:ireturn // the mode picks the concrete provider at runtime.
func BuildProviderFactory(ctx context.Context, cfg AuthConfig) (ports.ProviderFactory, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeDev:
		return buildDevDirectory(cfg)
	case config.AuthModeOIDC:
		return buildOIDCProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

func buildDevDirectory(cfg AuthConfig) (*devauth.Directory, error) {
	users, err := devauth.ParseCredentials(cfg.Auth.DevAuth.Users)
	if err != nil {
		return nil, err
	}
	dir, err := devauth.NewDirectory(devauth.Config{
		Users:           users,
		SigningKey:      []byte(cfg.Auth.DevAuth.SigningKey),
		SessionDuration: cfg.Auth.DevAuth.SessionDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("create dev identity provider: %w", err)
	}
	if cfg.Logger != nil {
		cfg.Logger.Warn("dev identity provider enabled; do not use in production", "seeded_users", len(users))
	}
	return dir, nil
}

func buildOIDCProvider(ctx context.Context, cfg AuthConfig) (*oidc.Provider, error) {
	if cfg.RedisClient == nil {
		return nil, errors.New("oidc mode requires redis for token storage")
	}
	oauth := cfg.Auth.OAuth
	prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
		ClientID:        oauth.ClientID,
		ClientSecret:    oauth.ClientSecret,
		Scope:           oauth.Scope,
		DiscoveryURL:    oauth.DiscoveryURL,
		RegistrationURL: oauth.RegistrationURL,
		RefreshTTL:      oauth.RefreshTTL,
		Tokens:          redisadapter.NewTokenStore(cfg.RedisClient),
	})
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("OIDC identity provider configured", "discovery_url", oauth.DiscoveryURL)
	}
	return prov, nil
}

// BuildSessionRegistry wires the profile resolver, hint cache and provider
// factory into the per-browser client registry.
func BuildSessionRegistry(cfg AuthConfig, providers ports.ProviderFactory) *service.SessionRegistry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := service.NewProfileResolver(service.ProfileResolverOptions{
		Store:         cfg.Profiles,
		Retries:       cfg.Auth.ResolveRetries,
		RetryDelay:    cfg.Auth.ResolveRetryDelay,
		Timeout:       cfg.Auth.ReconcileTimeout,
		AutoProvision: cfg.Auth.AutoProvision,
		Logger:        logger,
	})

	var caches ports.AuthCacheFactory
	if cfg.RedisClient != nil {
		caches = redisadapter.NewAuthCacheFactory(cfg.RedisClient, cfg.Session.CacheTTL)
	} else {
		logger.Info("auth hint cache disabled: redis not configured")
	}

	return service.NewSessionRegistry(service.SessionRegistryOptions{
		Deps: service.ClientDeps{
			Providers:        providers,
			Caches:           caches,
			Resolver:         resolver,
			Policy:           service.FallbackPolicy(cfg.Auth.FallbackPolicy),
			ReconcileTimeout: cfg.Auth.ReconcileTimeout,
			LoginPath:        cfg.Auth.Paths.Login,
			LogoutTimeout:    cfg.Auth.LogoutTimeout,
			Logger:           logger,
		},
		Capacity: cfg.Session.Capacity,
		IdleTTL:  cfg.Session.IdleTTL,
	})
}
