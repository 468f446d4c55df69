package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/learnhub/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestReadinessChecks_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	checks := readinessChecks(nil, rdb)
	require.Len(t, checks, 1)
	assert.Equal(t, "redis", checks[0].Name)
	require.NoError(t, checks[0].Check(context.Background()))

	mr.Close()
	assert.Error(t, checks[0].Check(context.Background()))
}

func TestNewServices_DevMode(t *testing.T) {
	cfg := &config.AppConfig{
		IsDev:   true,
		Auth:    devAuthConfig("dev@example.com:secret-pass"),
		Session: config.SessionConfig{CookieName: "sid", Capacity: 8},
	}

	services, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Logger: discardLogger()})
	require.NoError(t, err)
	t.Cleanup(services.Registry.Close)

	assert.NotNil(t, services.Profiles)
	assert.NotNil(t, services.Cookies)
	assert.Empty(t, services.Readiness)

	server := NewHTTPServer(&HTTPServerConfig{Config: cfg, Services: services, Logger: discardLogger()})
	assert.Equal(t, ":8080", server.Addr)

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/state", nil)
	req.Header.Set("Accept", "application/json")
	server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, "sid", rec.Result().Cookies()[0].Name)
}

func TestNewServices_RequiresConfig(t *testing.T) {
	_, err := NewServices(context.Background(), &ServiceDeps{})
	assert.Error(t, err)
}

func TestShutdownHTTPServer_NilServer(t *testing.T) {
	assert.NoError(t, ShutdownHTTPServer(ShutdownConfig{}))
}
