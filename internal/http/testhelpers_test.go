package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	domainauth "github.com/target/learnhub/internal/domain/auth"
	authmocks "github.com/target/learnhub/internal/mocks/auth"
	"github.com/target/learnhub/internal/observability/statsd"
	"github.com/target/learnhub/internal/service"
)

var testPaths = GuardPaths{ //nolint:gochecknoglobals // read-only test fixture
	Login:    "/login",
	Checkout: "/checkout",
	Admin:    "/admin",
	Teacher:  "/teacher",
	Student:  "/student",
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv wires a real SessionRegistry to in-memory provider, profile store
// and cache doubles behind the full router.
//
// Tests name browsers by the sid they start with. Sign-in and sign-out hand the
// browser a new sid; jar follows those so later requests under the same name
// carry the current cookie, as a real browser would.
type testEnv struct {
	providers *authmocks.FakeProviderFactory
	profiles  *authmocks.MemoryProfileStore
	caches    *authmocks.MemoryAuthCacheFactory
	registry  *service.SessionRegistry
	cookies   *SessionCookies
	metrics   *statsd.Recorder
	handler   http.Handler

	minted atomic.Int64
	jar    map[string]string
}

type envOption func(*envConfig)

type envConfig struct {
	guardWait time.Duration
	policy    service.FallbackPolicy
}

func withGuardWait(d time.Duration) envOption { return func(c *envConfig) { c.guardWait = d } }

func newTestEnv(t *testing.T, profiles []domainauth.UserProfile, opts ...envOption) *testEnv {
	t.Helper()
	cfg := envConfig{guardWait: 2 * time.Second, policy: service.FallbackDegrade}
	for _, o := range opts {
		o(&cfg)
	}

	logger := discardLogger()
	env := &testEnv{
		providers: authmocks.NewFakeProviderFactory(),
		profiles:  authmocks.NewMemoryProfileStore(profiles...),
		caches:    authmocks.NewMemoryAuthCacheFactory(),
		cookies:   NewSessionCookies(SessionCookieConfig{HashKey: []byte(strings.Repeat("h", 32))}),
		metrics:   &statsd.Recorder{},
		jar:       make(map[string]string),
	}
	resolver := service.NewProfileResolver(service.ProfileResolverOptions{Store: env.profiles, Logger: logger})
	env.registry = service.NewSessionRegistry(service.SessionRegistryOptions{
		Deps: service.ClientDeps{
			Providers:        env.providers,
			Caches:           env.caches,
			Resolver:         resolver,
			Policy:           cfg.policy,
			ReconcileTimeout: 2 * time.Second,
			LoginPath:        testPaths.Login,
			LogoutTimeout:    time.Second,
			Logger:           logger,
		},
		Capacity: 16,
	})
	t.Cleanup(env.registry.Close)

	env.handler = NewRouter(RouterServices{
		Clients:   env.registry,
		Cookies:   env.cookies,
		NewSID:    func() string { return fmt.Sprintf("minted-%d", env.minted.Add(1)) },
		Paths:     testPaths,
		GuardWait: cfg.guardWait,
		Metrics:   env.metrics,
		Logger:    logger,
	})
	return env
}

// cookieFor returns a valid session cookie for sid.
func (e *testEnv) cookieFor(t *testing.T, sid string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, e.cookies.Write(rec, sid))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

// sid returns the session id the browser named name currently holds.
func (e *testEnv) sid(name string) string {
	if cur, ok := e.jar[name]; ok {
		return cur
	}
	return name
}

// client returns the registry client for the browser named name once its
// initial check settled.
func (e *testEnv) client(t *testing.T, name string) *service.Client {
	t.Helper()
	c, err := e.registry.Get(context.Background(), e.sid(name))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Store.AwaitSettled(ctx)
	require.NoError(t, err)
	return c
}

type requestOpts struct {
	sid    string
	body   string
	accept string
	form   bool
	header map[string]string
}

func (e *testEnv) do(t *testing.T, method, target string, o requestOpts) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if o.body != "" {
		body = strings.NewReader(o.body)
	}
	req := httptest.NewRequest(method, target, body)
	switch {
	case o.form:
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	case o.body != "":
		req.Header.Set("Content-Type", "application/json")
	}
	accept := o.accept
	if accept == "" {
		accept = "application/json"
	}
	req.Header.Set("Accept", accept)
	for k, v := range o.header {
		req.Header.Set(k, v)
	}
	if o.sid != "" {
		req.AddCookie(e.cookieFor(t, e.sid(o.sid)))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if o.sid != "" {
		if issued, ok := e.issuedSID(rec); ok {
			e.jar[o.sid] = issued
		}
	}
	return rec
}

// issuedSID decodes the sid cookie set on rec, if any.
func (e *testEnv) issuedSID(rec *httptest.ResponseRecorder) (string, bool) {
	for _, ck := range rec.Result().Cookies() {
		if ck.Name != e.cookies.name {
			continue
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(ck)
		return e.cookies.Read(req)
	}
	return "", false
}

// login signs sid in through the HTTP surface and fails the test otherwise.
func (e *testEnv) login(t *testing.T, sid, email string) {
	t.Helper()
	e.client(t, sid)
	rec := e.do(t, http.MethodPost, "/auth/login", requestOpts{
		sid:  sid,
		body: `{"email":"` + email + `","password":"pw-long-enough"}`,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func profile(id string, role domainauth.Role, active bool) domainauth.UserProfile {
	return domainauth.UserProfile{
		ID:       id,
		Email:    strings.TrimPrefix(id, "user-"),
		Name:     "Test " + string(role),
		Role:     role,
		IsActive: active,
	}
}
