package ports

// Package ports defines interfaces (hexagonal ports) for identity and profile behavior.
// Implementations live in internal/adapters and internal/data; orchestration in internal/service.

import (
	"context"
	"errors"
	"time"

	domainauth "github.com/target/learnhub/internal/domain/auth"
)

// SessionListener receives provider session-change events.
// Providers may invoke it while holding internal locks, so it must not call
// back into the provider.
type SessionListener func(evt domainauth.SessionEvent)

// Subscription cancels a session-change listener registration.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function into a Subscription.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() { f() }

// SignUpInput groups parameters for creating a provider identity.
type SignUpInput struct {
	Email    string
	Password string
	Metadata map[string]string
}

// IdentityProvider is the client-side handle on an external identity provider.
// One instance holds at most one session.
type IdentityProvider interface {
	// SignIn verifies credentials and establishes a session.
	SignIn(ctx context.Context, email, password string) (*domainauth.Session, error)
	// SignOut ends the session. Local provider state is cleared even when the
	// remote call fails.
	SignOut(ctx context.Context) error
	// CurrentSession returns the live session or nil when signed out.
	CurrentSession(ctx context.Context) (*domainauth.Session, error)
	// OnSessionChange registers a listener for session-change events.
	OnSessionChange(listener SessionListener) Subscription
	// SignUp creates an identity and returns its subject id.
	SignUp(ctx context.Context, in SignUpInput) (string, error)
}

// ProviderFactory creates one IdentityProvider per browser session.
type ProviderFactory interface {
	NewClient(sid string) (IdentityProvider, error)
}

// ErrProfileExists is returned by ProfileStore.InsertProfile when the row already exists.
var ErrProfileExists = errors.New("profile already exists")

// ProfileStore is the relational store for user profiles.
// Lookups return domainauth.ErrProfileNotFound when no row exists.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*domainauth.UserProfile, error)
	InsertProfile(ctx context.Context, p domainauth.UserProfile) (*domainauth.UserProfile, error)
	GetActive(ctx context.Context, id string) (bool, error)
	UpdateName(ctx context.Context, id, name string) (*domainauth.UserProfile, error)
}

// AuthCache is the single named cache entry holding the last-known profile for
// one browser session. It is a startup hint, never an authority.
type AuthCache interface {
	Load(ctx context.Context) (*domainauth.UserProfile, error)
	Save(ctx context.Context, p domainauth.UserProfile) error
	Clear(ctx context.Context) error
}

// AuthCacheFactory scopes an AuthCache to one browser session id.
type AuthCacheFactory interface {
	ForSession(sid string) AuthCache
}

// ErrTokenNotFound is returned by TokenStore.Load when nothing is stored.
var ErrTokenNotFound = errors.New("token not found")

// TokenStore keeps opaque identity provider token blobs per browser session id.
type TokenStore interface {
	Save(ctx context.Context, sid string, data []byte, ttl time.Duration) error
	Load(ctx context.Context, sid string) ([]byte, error)
	Delete(ctx context.Context, sid string) error
}
