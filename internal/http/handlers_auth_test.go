package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/learnhub/internal/domain/auth"
	authmocks "github.com/target/learnhub/internal/mocks/auth"
)

// failSignIn makes every provider created from now on reject sign-in with err.
func (e *testEnv) failSignIn(err error) {
	e.providers.Configure = func(_ string, p *authmocks.FakeProvider) {
		p.SignInFunc = func(context.Context, string, string) (*domainauth.Session, error) {
			return nil, err
		}
	}
}

func TestLogin_JSONSuccess(t *testing.T) {
	env := newTestEnv(t, []domainauth.UserProfile{profile("user-t@example.com", domainauth.RoleTeacher, false)})
	env.client(t, "sid-1")

	rec := env.do(t, http.MethodPost, "/auth/login", requestOpts{
		sid:  "sid-1",
		body: `{"email":" T@Example.com ","password":"pw-long-enough"}`,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[userResponse](t, rec)
	require.NotNil(t, body.User)
	assert.Equal(t, domainauth.RoleTeacher, body.User.Role)
	assert.Equal(t, "/teacher", body.RedirectTo)

	state := decodeBody[stateResponse](t, env.do(t, http.MethodGet, "/auth/state", requestOpts{sid: "sid-1"}))
	assert.Equal(t, domainauth.StatusAuthenticated, state.Status)
	assert.Equal(t, "user-t@example.com", state.User.ID)
}

func TestLogin_IssuesFreshSID(t *testing.T) {
	env := newTestEnv(t, []domainauth.UserProfile{profile("user-v@example.com", domainauth.RoleTeacher, true)})
	// A valid cookie planted before sign-in.
	env.client(t, "planted")

	env.login(t, "planted", "v@example.com")

	assert.NotEqual(t, "planted", env.sid("planted"))
	assert.Equal(t, domainauth.StatusAuthenticated, env.client(t, "planted").Store.Snapshot().Status)

	// The planted id itself was retired without ever being authenticated.
	planted, err := env.registry.Get(context.Background(), "planted")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := planted.Store.AwaitSettled(ctx)
	require.NoError(t, err)
	assert.Equal(t, domainauth.StatusUnauthenticated, st.Status)
}

func TestLogin_InvalidCredentialsLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client(t, "sid-bad")
	env.failSignIn(domainauth.ErrInvalidCredentials)

	rec := env.do(t, http.MethodPost, "/auth/login", requestOpts{
		sid:  "sid-bad",
		body: `{"email":"x@example.com","password":"wrong-password"}`,
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "invalid_credentials", body.Error)
	assert.False(t, body.Retryable)
	assert.Empty(t, rec.Result().Cookies(), "a failed sign-in keeps the browser's sid")
	assert.Equal(t, "sid-bad", env.sid("sid-bad"))
	assert.Equal(t, domainauth.StatusUnauthenticated, env.client(t, "sid-bad").Store.Snapshot().Status)
	assert.Equal(t, 1, env.registry.Len(), "the attempt's client is retired")
}

func TestLogin_ProviderTimeoutIsRetryable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client(t, "sid-timeout")
	env.failSignIn(context.DeadlineExceeded)

	rec := env.do(t, http.MethodPost, "/auth/login", requestOpts{
		sid:  "sid-timeout",
		body: `{"email":"x@example.com","password":"pw-long-enough"}`,
	})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "provider_unavailable", body.Error)
	assert.True(t, body.Retryable)
}

func TestLogin_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/auth/login", requestOpts{
		sid:  "sid-v",
		body: `{"email":"not-an-email","password":""}`,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "validation_failed", body.Error)
	assert.Contains(t, body.Fields, "email")
	assert.Contains(t, body.Fields, "password")
}

func TestLogin_UnknownJSONFieldRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/auth/login", requestOpts{
		sid:  "sid-j",
		body: `{"email":"a@example.com","password":"x","role":"admin"}`,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decodeBody[errorBody](t, rec).Error)
}

func TestLogin_FormPostRedirects(t *testing.T) {
	env := newTestEnv(t, []domainauth.UserProfile{profile("user-f@example.com", domainauth.RoleStudent, true)})
	env.client(t, "sid-form")

	form := url.Values{"email": {"f@example.com"}, "password": {"pw-long-enough"}, "redirect_uri": {"/courses"}}
	rec := env.do(t, http.MethodPost, "/auth/login", requestOpts{
		sid: "sid-form", body: form.Encode(), form: true, accept: "text/html",
	})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/courses", rec.Header().Get("Location"))

	env.failSignIn(domainauth.ErrInvalidCredentials)
	form.Set("redirect_uri", "https://evil.example")
	rec = env.do(t, http.MethodPost, "/auth/login", requestOpts{
		sid: "sid-form2", body: form.Encode(), form: true, accept: "text/html",
	})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?error=invalid_credentials&redirect_uri=%2F", rec.Header().Get("Location"))
}

func TestLogout_ProviderFailureStillSignsOut(t *testing.T) {
	env := newTestEnv(t, []domainauth.UserProfile{profile("user-o@example.com", domainauth.RoleTeacher, true)})
	env.login(t, "sid-out", "o@example.com")
	signedIn := env.sid("sid-out")
	require.NotNil(t, env.caches.Cache(signedIn).Peek())
	env.providers.Provider(signedIn).SignOutFunc = func(context.Context) error {
		return errors.New("connection reset")
	}

	rec := env.do(t, http.MethodPost, "/auth/logout", requestOpts{sid: "sid-out"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[logoutResponse](t, rec)
	assert.Equal(t, "signed_out", body.Status)
	assert.Equal(t, "/login", body.RedirectTo)
	assert.Equal(t, "provider_unavailable", body.Warning)
	assert.Nil(t, env.caches.Cache(signedIn).Peek())
	assert.NotEqual(t, signedIn, env.sid("sid-out"))

	// Even if the provider still held the session under the old id, the
	// browser's new id does not reach it.
	env.providers.Provider(signedIn).SetSession(authmocks.SessionFor("user-o@example.com", "o@example.com"))
	env.do(t, http.MethodGet, "/auth/state", requestOpts{sid: "sid-out"})
	assert.Equal(t, domainauth.StatusUnauthenticated, env.client(t, "sid-out").Store.Snapshot().Status)
}

func TestLogout_BrowserFormRedirects(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client(t, "sid-lf")

	rec := env.do(t, http.MethodPost, "/auth/logout", requestOpts{sid: "sid-lf", form: true, accept: "text/html"})

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	require.Len(t, rec.Result().Cookies(), 1)
	assert.NotEqual(t, "sid-lf", env.sid("sid-lf"))
}

func TestRegister_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client(t, "sid-reg")

	rec := env.do(t, http.MethodPost, "/auth/register", requestOpts{
		sid:  "sid-reg",
		body: `{"email":"grace@example.com","password":"long-password","name":"Grace"}`,
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody[registerResponse](t, rec)
	assert.Equal(t, "user-grace@example.com", body.SubjectID)
	require.NotNil(t, body.User)
	assert.Equal(t, domainauth.RoleStudent, body.User.Role)
	assert.False(t, body.User.IsActive)
	assert.Equal(t, "/student", body.RedirectTo)
	assert.NotEqual(t, "sid-reg", env.sid("sid-reg"))
}

func TestRegister_PartialThenCompleteProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client(t, "sid-partial")
	env.profiles.InsertHook = func(context.Context, domainauth.UserProfile) error {
		return errors.New("connection refused")
	}

	rec := env.do(t, http.MethodPost, "/auth/register", requestOpts{
		sid:  "sid-partial",
		body: `{"email":"p@example.com","password":"long-password","name":"Pat"}`,
	})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decodeBody[registerResponse](t, rec)
	assert.True(t, body.Partial)
	assert.Equal(t, "partial_registration", body.Error)
	assert.Equal(t, "/auth/register/profile", body.RetryURL)
	c := env.client(t, "sid-partial")
	assert.NotEqual(t, "sid-partial", c.SID)

	// The provider's sign-in event lands with a fallback profile.
	require.Eventually(t, func() bool {
		st := c.Store.Snapshot()
		return st.Status == domainauth.StatusAuthenticated && st.User.Fallback
	}, 2*time.Second, 10*time.Millisecond)

	env.profiles.InsertHook = nil
	rec = env.do(t, http.MethodPost, "/auth/register/profile", requestOpts{sid: "sid-partial", body: `{"name":"Pat"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	st := c.Store.Snapshot()
	require.Equal(t, domainauth.StatusAuthenticated, st.Status)
	assert.False(t, st.User.Fallback)
	assert.Equal(t, "Pat", st.User.Name)
}

func TestRegister_ShortPasswordRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/auth/register", requestOpts{
		sid:  "sid-short",
		body: `{"email":"s@example.com","password":"short"}`,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorBody](t, rec).Fields, "password")
}

func TestUpdateProfile_PublishesFreshName(t *testing.T) {
	env := newTestEnv(t, []domainauth.UserProfile{profile("user-n@example.com", domainauth.RoleTeacher, true)})
	env.login(t, "sid-name", "n@example.com")

	rec := env.do(t, http.MethodPut, "/api/profile", requestOpts{sid: "sid-name", body: `{"name":"  Nadia  "}`})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Nadia", decodeBody[userResponse](t, rec).User.Name)
	assert.Equal(t, "Nadia", env.client(t, "sid-name").Store.Snapshot().User.Name)

	rec = env.do(t, http.MethodPut, "/api/profile", requestOpts{sid: "sid-name", body: `{"name":""}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginPage(t *testing.T) {
	env := newTestEnv(t, []domainauth.UserProfile{profile("user-lp@example.com", domainauth.RoleAdmin, true)})
	env.client(t, "sid-lp")

	rec := env.do(t, http.MethodGet, "/login?redirect_uri=%2Fadmin&error=invalid_credentials", requestOpts{sid: "sid-lp", accept: "text/html"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="/admin"`)
	assert.Contains(t, rec.Body.String(), "Invalid email or password.")

	env.login(t, "sid-lp", "lp@example.com")
	rec = env.do(t, http.MethodGet, "/login", requestOpts{sid: "sid-lp", accept: "text/html"})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin", rec.Header().Get("Location"))
}

func TestAuthHandlers_EmitMetrics(t *testing.T) {
	env := newTestEnv(t, []domainauth.UserProfile{profile("user-m@example.com", domainauth.RoleTeacher, true)})
	env.client(t, "sid-m")

	env.do(t, http.MethodPost, "/auth/login", requestOpts{sid: "sid-m", body: `{"email":"m@example.com","password":"pw-long-enough"}`})
	env.failSignIn(domainauth.ErrInvalidCredentials)
	env.do(t, http.MethodPost, "/auth/login", requestOpts{sid: "sid-bad-m", body: `{"email":"m@example.com","password":"pw-long-enough"}`})
	env.do(t, http.MethodPost, "/auth/logout", requestOpts{sid: "sid-m"})

	attempts := env.metrics.Samples("auth.attempt")
	require.Len(t, attempts, 3)
	assert.Equal(t, map[string]string{"operation": "login", "result": "success"}, attempts[0].Tags)
	assert.Equal(t, "invalid_credentials", attempts[1].Tags["error_class"])
	assert.Equal(t, "logout", attempts[2].Tags["operation"])
	assert.Len(t, env.metrics.Samples("auth.duration"), 3)
}
