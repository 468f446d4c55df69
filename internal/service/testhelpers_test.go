package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	domainauth "github.com/target/learnhub/internal/domain/auth"
	authmocks "github.com/target/learnhub/internal/mocks/auth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProfile(id string, role domainauth.Role, active bool) domainauth.UserProfile {
	return domainauth.UserProfile{
		ID:       id,
		Email:    id + "@example.com",
		Name:     "Name " + id,
		Role:     role,
		IsActive: active,
	}
}

func testSession(id string) *domainauth.Session {
	return authmocks.SessionFor(id, id+"@example.com")
}

// storeFixture wires a SessionStore to in-memory doubles.
type storeFixture struct {
	provider *authmocks.FakeProvider
	profiles *authmocks.MemoryProfileStore
	cache    *authmocks.MemoryAuthCache
	resolver *ProfileResolver
	store    *SessionStore
}

func newStoreFixture(t *testing.T, policy FallbackPolicy, profiles ...domainauth.UserProfile) *storeFixture {
	t.Helper()
	f := &storeFixture{
		provider: authmocks.NewFakeProvider(),
		profiles: authmocks.NewMemoryProfileStore(profiles...),
		cache:    &authmocks.MemoryAuthCache{},
	}
	f.resolver = NewProfileResolver(ProfileResolverOptions{Store: f.profiles, Logger: discardLogger()})
	f.store = NewSessionStore(SessionStoreOptions{
		Provider:         f.provider,
		Profiles:         f.resolver,
		Cache:            f.cache,
		Policy:           policy,
		ReconcileTimeout: 2 * time.Second,
		Logger:           discardLogger(),
	})
	t.Cleanup(f.store.Close)
	return f
}

// start runs the initial session check and waits for it to settle.
func (f *storeFixture) start(t *testing.T) domainauth.AuthState {
	t.Helper()
	f.store.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := f.store.AwaitSettled(ctx)
	require.NoError(t, err)
	return st
}

func (f *storeFixture) eventually(t *testing.T, cond func(domainauth.AuthState) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(f.store.Snapshot()) }, 2*time.Second, 5*time.Millisecond)
}

// nextState waits for the next published state on ch.
func nextState(t *testing.T, ch <-chan domainauth.AuthState) domainauth.AuthState {
	t.Helper()
	select {
	case st, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state")
		return domainauth.AuthState{}
	}
}
