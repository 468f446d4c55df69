package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/learnhub/internal/domain/auth"
	authmocks "github.com/target/learnhub/internal/mocks/auth"
)

type recordingLocal struct {
	calls  int
	err    error
	ctxErr error
}

func (l *recordingLocal) Reset(ctx context.Context) error {
	l.calls++
	l.ctxErr = ctx.Err()
	return l.err
}

func newTestLogout(local LocalSession, provider *authmocks.FakeProvider, timeout time.Duration) *LogoutCoordinator {
	return NewLogoutCoordinator(LogoutCoordinatorOptions{
		Provider:        provider,
		Local:           local,
		ProviderTimeout: timeout,
		Logger:          discardLogger(),
	})
}

func TestLogout_Success(t *testing.T) {
	local := &recordingLocal{}
	provider := authmocks.NewFakeProvider()

	res, err := newTestLogout(local, provider, time.Second).Logout(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "/login", res.RedirectTo)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, int32(1), provider.SignOutCalls.Load())
}

func TestLogout_ProviderFailureStillClearsLocal(t *testing.T) {
	local := &recordingLocal{}
	provider := authmocks.NewFakeProvider()
	provider.SignOutFunc = func(context.Context) error { return errors.New("503 from idp") }

	res, err := newTestLogout(local, provider, time.Second).Logout(context.Background())

	assert.Equal(t, domainauth.KindProviderUnavailable, domainauth.KindOf(err))
	assert.Equal(t, "/login", res.RedirectTo)
	assert.Equal(t, 1, local.calls)
}

func TestLogout_ProviderHangIsBounded(t *testing.T) {
	local := &recordingLocal{}
	provider := authmocks.NewFakeProvider()
	provider.SignOutFunc = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	start := time.Now()
	_, err := newTestLogout(local, provider, 20*time.Millisecond).Logout(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, domainauth.KindProviderUnavailable, domainauth.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, local.calls)
}

func TestLogout_LocalFailureWins(t *testing.T) {
	local := &recordingLocal{err: errors.New("redis down")}
	provider := authmocks.NewFakeProvider()
	provider.SignOutFunc = func(context.Context) error { return errors.New("idp down") }

	res, err := newTestLogout(local, provider, time.Second).Logout(context.Background())

	assert.EqualError(t, err, "redis down")
	assert.Equal(t, "/login", res.RedirectTo)
}

func TestLogout_CanceledCallerStillClearsLocal(t *testing.T) {
	local := &recordingLocal{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _ = newTestLogout(local, authmocks.NewFakeProvider(), time.Second).Logout(ctx)

	assert.Equal(t, 1, local.calls)
	assert.NoError(t, local.ctxErr)
}

func TestLogout_RepeatedIsIdempotent(t *testing.T) {
	f := newStoreFixture(t, FallbackDegrade, testProfile("sub-1", domainauth.RoleTeacher, true))
	f.provider.SetSession(testSession("sub-1"))
	f.start(t)
	c := newTestLogout(f.store, f.provider, time.Second)

	for range 2 {
		res, err := c.Logout(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "/login", res.RedirectTo)
		assert.Equal(t, domainauth.StatusUnauthenticated, f.store.Snapshot().Status)
	}
	assert.Nil(t, f.cache.Peek())
}
