package httpx

import (
	"context"

	domainauth "github.com/target/learnhub/internal/domain/auth"
	"github.com/target/learnhub/internal/service"
)

// clientKey and stateKey are unexported context key types to avoid collisions across packages.
type (
	clientKey struct{}
	stateKey  struct{}
)

// SetClientInContext returns a child context carrying the browser session's client.
func SetClientInContext(ctx context.Context, c *service.Client) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFromContext returns the client attached by BrowserSession.
func ClientFromContext(ctx context.Context) (*service.Client, bool) {
	c, ok := ctx.Value(clientKey{}).(*service.Client)
	return c, ok && c != nil
}

// SetStateInContext records the AuthState a guard admitted the request with.
func SetStateInContext(ctx context.Context, st domainauth.AuthState) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

// StateFromContext returns the AuthState recorded by a guard.
func StateFromContext(ctx context.Context) (domainauth.AuthState, bool) {
	st, ok := ctx.Value(stateKey{}).(domainauth.AuthState)
	return st, ok
}

// UserFromContext returns the user admitted by a guard, or nil.
func UserFromContext(ctx context.Context) *domainauth.UserProfile {
	if st, ok := StateFromContext(ctx); ok {
		return st.User
	}
	return nil
}
