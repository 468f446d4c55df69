package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/target/learnhub/internal/ports"
)

// LocalSession is the local state a logout must purge.
type LocalSession interface {
	Reset(ctx context.Context) error
}

// LogoutCoordinatorOptions groups dependencies for LogoutCoordinator.
type LogoutCoordinatorOptions struct {
	Provider ports.IdentityProvider
	Local    LocalSession
	// LoginPath is where the caller navigates once local state is gone.
	LoginPath string
	// ProviderTimeout bounds the remote sign-out so local cleanup always runs.
	ProviderTimeout time.Duration
	Logger          *slog.Logger
}

// LogoutResult tells the caller where to navigate after logout.
type LogoutResult struct {
	RedirectTo string
}

// LogoutCoordinator makes logout terminal and idempotent regardless of the
// provider's availability.
type LogoutCoordinator struct {
	provider  ports.IdentityProvider
	local     LocalSession
	loginPath string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewLogoutCoordinator constructs a LogoutCoordinator.
func NewLogoutCoordinator(opts LogoutCoordinatorOptions) *LogoutCoordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loginPath := opts.LoginPath
	if loginPath == "" {
		loginPath = "/login"
	}
	timeout := opts.ProviderTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LogoutCoordinator{
		provider:  opts.Provider,
		local:     opts.Local,
		loginPath: loginPath,
		timeout:   timeout,
		logger:    logger.With("component", "logout"),
	}
}

// Logout signs out at the provider, then clears local state and cache whether or
// not the provider call succeeded. The result is always usable for navigation;
// the error reports what failed along the way.
func (c *LogoutCoordinator) Logout(ctx context.Context) (LogoutResult, error) {
	result := LogoutResult{RedirectTo: c.loginPath}

	providerCtx, cancel := context.WithTimeout(ctx, c.timeout)
	providerErr := c.provider.SignOut(providerCtx)
	cancel()
	if providerErr != nil {
		c.logger.WarnContext(ctx, "provider sign-out failed, clearing local session anyway", "error", providerErr)
		providerErr = classifyProviderError(providerErr)
	}

	// Local cleanup must not be cut short by the caller going away.
	localErr := c.local.Reset(context.WithoutCancel(ctx))
	if localErr != nil {
		c.logger.ErrorContext(ctx, "clear local session failed", "error", localErr)
		return result, localErr
	}
	if providerErr != nil {
		return result, providerErr
	}
	return result, nil
}
