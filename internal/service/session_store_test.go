package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/learnhub/internal/domain/auth"
)

func TestSessionStore_NoSessionSettlesUnauthenticated(t *testing.T) {
	f := newStoreFixture(t, FallbackDegrade)

	st := f.start(t)

	assert.Equal(t, domainauth.StatusUnauthenticated, st.Status)
	assert.Nil(t, st.User)
	assert.Nil(t, f.store.Session())
}

func TestSessionStore_ExistingSessionResolvesProfile(t *testing.T) {
	p := testProfile("sub-1", domainauth.RoleTeacher, true)
	f := newStoreFixture(t, FallbackDegrade, p)
	f.provider.SetSession(testSession("sub-1"))

	st := f.start(t)

	require.Equal(t, domainauth.StatusAuthenticated, st.Status)
	assert.Equal(t, p, *st.User)
	require.Eventually(t, func() bool { return f.cache.Peek() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "sub-1", f.cache.Peek().ID)
	assert.Equal(t, "sub-1", f.store.Session().SubjectID)
}

func TestSessionStore_ProviderEventsConverge(t *testing.T) {
	p := testProfile("user-a@example.com", domainauth.RoleStudent, true)
	f := newStoreFixture(t, FallbackDegrade, p)
	f.start(t)

	_, err := f.provider.SignIn(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	f.eventually(t, func(st domainauth.AuthState) bool {
		return st.Status == domainauth.StatusAuthenticated && st.User.ID == p.ID
	})

	require.NoError(t, f.provider.SignOut(context.Background()))
	f.eventually(t, func(st domainauth.AuthState) bool {
		return st.Status == domainauth.StatusUnauthenticated
	})
	require.Eventually(t, func() bool { return f.cache.Peek() == nil }, 2*time.Second, 5*time.Millisecond)
}

func TestSessionStore_ListenerNeverCallsBackIntoProvider(t *testing.T) {
	p := testProfile("user-a@example.com", domainauth.RoleStudent, true)
	f := newStoreFixture(t, FallbackDegrade, p)
	f.provider.ReentrancyWait = 50 * time.Millisecond
	f.start(t)

	for range 3 {
		_, err := f.provider.SignIn(context.Background(), "a@example.com", "pw")
		require.NoError(t, err)
		f.store.Refresh()
		require.NoError(t, f.provider.SignOut(context.Background()))
	}
	f.store.Refresh()
	f.eventually(t, func(st domainauth.AuthState) bool {
		return st.Status == domainauth.StatusUnauthenticated
	})

	assert.Zero(t, f.provider.ReentrantCalls.Load())
}

func TestSessionStore_StaleWriteDiscarded(t *testing.T) {
	p := testProfile("sub-1", domainauth.RoleTeacher, true)
	f := newStoreFixture(t, FallbackDegrade, p)

	_, ok := f.store.commitState(5, nil, domainauth.Unauthenticated())
	require.True(t, ok)

	st, ok := f.store.commitState(3, testSession("sub-1"), domainauth.Authenticated(p))
	assert.False(t, ok)
	assert.Equal(t, domainauth.StatusUnauthenticated, st.Status)
	assert.Nil(t, f.store.Session())
}

func TestSessionStore_LogoutBeatsSlowLogin(t *testing.T) {
	p := testProfile("sub-1", domainauth.RoleTeacher, true)
	f := newStoreFixture(t, FallbackDegrade, p)
	f.start(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.profiles.GetHook = func(context.Context, string) error {
		close(entered)
		<-release
		return nil
	}

	type result struct {
		st  domainauth.AuthState
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := f.store.ReconcileNow(context.Background(), *testSession("sub-1"))
		done <- result{st, err}
	}()

	<-entered
	require.NoError(t, f.store.Reset(context.Background()))
	close(release)

	res := <-done
	assert.ErrorIs(t, res.err, domainauth.ErrSessionSuperseded)
	assert.Equal(t, domainauth.StatusUnauthenticated, f.store.Snapshot().Status)
	assert.Nil(t, f.cache.Peek(), "a discarded login must not reach the cache")
}

func TestSessionStore_MissingProfileDegrades(t *testing.T) {
	f := newStoreFixture(t, FallbackDegrade)
	f.provider.SetSession(testSession("ghost"))

	st := f.start(t)

	require.Equal(t, domainauth.StatusAuthenticated, st.Status)
	assert.True(t, st.User.Fallback)
	assert.Equal(t, domainauth.RoleStudent, st.User.Role)
	assert.False(t, st.User.IsActive)
	assert.Equal(t, "ghost", st.User.Name)
	assert.Nil(t, f.cache.Peek(), "fallback profiles are never cached")
}

func TestSessionStore_MissingProfileDenied(t *testing.T) {
	f := newStoreFixture(t, FallbackDeny)
	f.provider.SetSession(testSession("ghost"))

	st := f.start(t)

	assert.Equal(t, domainauth.StatusUnauthenticated, st.Status)
	assert.Nil(t, f.store.Session())
}

func TestSessionStore_TransientErrorKeepsCurrentUser(t *testing.T) {
	p := testProfile("sub-1", domainauth.RoleAdmin, true)
	f := newStoreFixture(t, FallbackDegrade, p)
	f.provider.SetSession(testSession("sub-1"))
	f.start(t)

	ch, cancel := f.store.Subscribe()
	defer cancel()
	nextState(t, ch)

	f.profiles.GetHook = func(context.Context, string) error { return errors.New("connection refused") }
	f.provider.Emit(domainauth.SessionEvent{Kind: domainauth.EventSignedIn, Session: testSession("sub-1")})

	st := nextState(t, ch)
	require.Equal(t, domainauth.StatusAuthenticated, st.Status)
	assert.Equal(t, domainauth.RoleAdmin, st.User.Role)
	assert.False(t, st.User.Fallback)
}

func TestSessionStore_TransientErrorWithoutUserDegrades(t *testing.T) {
	f := newStoreFixture(t, FallbackDegrade, testProfile("sub-1", domainauth.RoleAdmin, true))
	f.profiles.GetHook = func(context.Context, string) error { return errors.New("connection refused") }
	f.provider.SetSession(testSession("sub-1"))

	st := f.start(t)

	require.Equal(t, domainauth.StatusAuthenticated, st.Status)
	assert.True(t, st.User.Fallback)
	assert.Equal(t, domainauth.RoleStudent, st.User.Role)
}

func TestSessionStore_TransientErrorNeverDenies(t *testing.T) {
	f := newStoreFixture(t, FallbackDeny, testProfile("sub-1", domainauth.RoleAdmin, true))
	require.NoError(t, f.cache.Save(context.Background(), testProfile("sub-1", domainauth.RoleAdmin, true)))
	f.profiles.GetHook = func(context.Context, string) error { return errors.New("connection refused") }
	f.provider.SetSession(testSession("sub-1"))

	st := f.start(t)

	require.Equal(t, domainauth.StatusAuthenticated, st.Status)
	assert.True(t, st.User.Fallback)
	assert.NotNil(t, f.cache.Peek(), "an outage does not wipe the cached profile")
}

func TestSessionStore_SetUserSurvivesOlderReconcile(t *testing.T) {
	p := testProfile("sub-1", domainauth.RoleStudent, false)
	f := newStoreFixture(t, FallbackDegrade, p)
	f.provider.SetSession(testSession("sub-1"))
	f.start(t)

	seq := f.store.Reserve()
	fresh := p
	fresh.Name = "Fresh"
	fresh.IsActive = true
	require.NoError(t, f.store.SetUser(context.Background(), fresh))

	// The profile store still holds the old row.
	st, err := f.store.ReconcileReserved(context.Background(), seq, *testSession("sub-1"))

	require.NoError(t, err)
	assert.Equal(t, "Fresh", st.User.Name)
	assert.True(t, f.store.Snapshot().User.IsActive)
	assert.Equal(t, "Fresh", f.cache.Peek().Name)

	// A reconciliation scheduled afterwards does replace it.
	st, err = f.store.ReconcileNow(context.Background(), *testSession("sub-1"))
	require.NoError(t, err)
	assert.Equal(t, p.Name, st.User.Name)
}

func TestSessionStore_CallerLeavingCommitsNothing(t *testing.T) {
	f := newStoreFixture(t, FallbackDegrade, testProfile("sub-1", domainauth.RoleAdmin, true))
	f.start(t)
	release := make(chan struct{})
	defer close(release)
	f.profiles.GetHook = func(context.Context, string) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	st, err := f.store.ReconcileNow(ctx, *testSession("sub-1"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domainauth.StatusUnauthenticated, st.Status)
	assert.Equal(t, domainauth.StatusUnauthenticated, f.store.Snapshot().Status)
}

func TestSessionStore_TokenRefreshKeepsProfileWithoutLookup(t *testing.T) {
	p := testProfile("sub-1", domainauth.RoleTeacher, true)
	f := newStoreFixture(t, FallbackDegrade, p)
	f.provider.SetSession(testSession("sub-1"))
	f.start(t)
	calls := f.profiles.GetCalls.Load()

	ch, cancel := f.store.Subscribe()
	defer cancel()
	nextState(t, ch)

	refreshed := testSession("sub-1")
	refreshed.ExpiresAt = refreshed.ExpiresAt.Add(time.Hour)
	f.provider.Emit(domainauth.SessionEvent{Kind: domainauth.EventTokenRefreshed, Session: refreshed})

	st := nextState(t, ch)
	assert.Equal(t, domainauth.StatusAuthenticated, st.Status)
	assert.Equal(t, calls, f.profiles.GetCalls.Load())
	assert.WithinDuration(t, refreshed.ExpiresAt, f.store.Session().ExpiresAt, time.Second)
}

func TestSessionStore_ExpiredSessionIsSignedOut(t *testing.T) {
	f := newStoreFixture(t, FallbackDegrade, testProfile("sub-1", domainauth.RoleTeacher, true))
	expired := testSession("sub-1")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	f.provider.SetSession(expired)

	assert.Equal(t, domainauth.StatusUnauthenticated, f.start(t).Status)
}

func TestSessionStore_CurrentSessionErrorSettlesUnauthenticated(t *testing.T) {
	f := newStoreFixture(t, FallbackDegrade)
	f.provider.CurrentSessionFunc = func(context.Context) (*domainauth.Session, error) {
		return nil, errors.New("dial tcp: i/o timeout")
	}

	assert.Equal(t, domainauth.StatusUnauthenticated, f.start(t).Status)
}

func TestSessionStore_SetUser(t *testing.T) {
	p := testProfile("sub-1", domainauth.RoleStudent, false)
	f := newStoreFixture(t, FallbackDegrade, p)

	err := f.store.SetUser(context.Background(), p)
	assert.ErrorIs(t, err, ErrNoMatchingSession, "not authenticated yet")

	f.provider.SetSession(testSession("sub-1"))
	f.start(t)

	other := testProfile("sub-2", domainauth.RoleAdmin, true)
	assert.ErrorIs(t, f.store.SetUser(context.Background(), other), ErrNoMatchingSession)
	assert.Equal(t, "sub-1", f.store.Snapshot().User.ID)

	updated := p
	updated.IsActive = true
	updated.Name = "Fresh"
	require.NoError(t, f.store.SetUser(context.Background(), updated))

	st := f.store.Snapshot()
	assert.True(t, st.User.IsActive)
	assert.Equal(t, "Fresh", st.User.Name)
	assert.Equal(t, "Fresh", f.cache.Peek().Name)
}

func TestSessionStore_HintOnlyWhileLoading(t *testing.T) {
	f := newStoreFixture(t, FallbackDegrade)
	cached := testProfile("sub-1", domainauth.RoleAdmin, true)
	require.NoError(t, f.cache.Save(context.Background(), cached))

	release := make(chan struct{})
	f.provider.CurrentSessionFunc = func(ctx context.Context) (*domainauth.Session, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}
	f.store.Start(context.Background())

	assert.Equal(t, domainauth.StatusLoading, f.store.Snapshot().Status)
	hint := f.store.Hint()
	require.NotNil(t, hint)
	assert.Equal(t, "sub-1", hint.ID)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := f.store.AwaitSettled(ctx)
	require.NoError(t, err)

	assert.Equal(t, domainauth.StatusUnauthenticated, st.Status, "the hint never grants access")
	assert.Nil(t, f.store.Hint())
	require.Eventually(t, func() bool { return f.cache.Peek() == nil }, 2*time.Second, 5*time.Millisecond)
}

func TestSessionStore_CloseDiscardsInFlightWork(t *testing.T) {
	f := newStoreFixture(t, FallbackDegrade, testProfile("sub-1", domainauth.RoleAdmin, true))
	entered := make(chan struct{})
	f.provider.CurrentSessionFunc = func(ctx context.Context) (*domainauth.Session, error) {
		close(entered)
		<-ctx.Done()
		return testSession("sub-1"), nil
	}
	f.store.Start(context.Background())
	ch, _ := f.store.Subscribe()
	<-entered

	f.store.Close()

	_, err := f.store.AwaitSettled(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.Equal(t, domainauth.StatusLoading, f.store.Snapshot().Status)
	assert.Equal(t, 0, f.provider.ListenerCount())

	st, err := f.store.ReconcileNow(context.Background(), *testSession("sub-1"))
	assert.ErrorIs(t, err, domainauth.ErrSessionSuperseded)
	assert.Equal(t, domainauth.StatusLoading, st.Status)

	for st := range ch {
		assert.Equal(t, domainauth.StatusLoading, st.Status)
	}
}

func TestSessionStore_SubscribeDeliversLatest(t *testing.T) {
	p := testProfile("sub-1", domainauth.RoleTeacher, true)
	f := newStoreFixture(t, FallbackDegrade, p)

	ch, cancel := f.store.Subscribe()
	assert.Equal(t, domainauth.StatusLoading, nextState(t, ch).Status)

	f.start(t)
	assert.Equal(t, domainauth.StatusUnauthenticated, nextState(t, ch).Status)

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSessionStore_AdminLoginScenario(t *testing.T) {
	admin := testProfile("sub-admin", domainauth.RoleAdmin, false)
	f := newStoreFixture(t, FallbackDegrade, admin)
	f.start(t)

	st, err := f.store.ReconcileNow(context.Background(), *testSession("sub-admin"))
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleAdmin, st.User.Role)
	assert.True(t, st.User.Active(), "only students need activation")

	require.NoError(t, f.store.Reset(context.Background()))
	assert.Equal(t, domainauth.StatusUnauthenticated, f.store.Snapshot().Status)
	assert.Nil(t, f.cache.Peek())
}
