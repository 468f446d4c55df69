package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/learnhub/internal/domain/auth"
	authmocks "github.com/target/learnhub/internal/mocks/auth"
)

func TestState_Snapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client(t, "sid-st")

	rec := env.do(t, http.MethodGet, "/auth/state", requestOpts{sid: "sid-st"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	body := decodeBody[stateResponse](t, rec)
	assert.Equal(t, domainauth.StatusUnauthenticated, body.Status)
	assert.Nil(t, body.User)
	assert.Nil(t, body.Hint)
}

func TestState_RefreshPicksUpOutOfBandSignIn(t *testing.T) {
	env := newTestEnv(t, []domainauth.UserProfile{profile("user-r@example.com", domainauth.RoleTeacher, true)})
	env.client(t, "sid-ref")

	// Another tab signed in; this client has not heard about it yet.
	env.providers.Provider("sid-ref").SetSession(authmocks.SessionFor("user-r@example.com", "r@example.com"))

	rec := env.do(t, http.MethodGet, "/auth/state", requestOpts{sid: "sid-ref"})
	assert.Equal(t, domainauth.StatusUnauthenticated, decodeBody[stateResponse](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/auth/state?refresh=1", requestOpts{sid: "sid-ref"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[stateResponse](t, rec)
	assert.Equal(t, domainauth.StatusAuthenticated, body.Status)
	require.NotNil(t, body.User)
	assert.Equal(t, domainauth.RoleTeacher, body.User.Role)
}

func TestToStateResponse_HintOnlyWhileLoading(t *testing.T) {
	hint := profile("user-h@example.com", domainauth.RoleStudent, false)

	loading := toStateResponse(domainauth.Loading(), &hint)
	assert.Equal(t, &hint, loading.Hint)

	settled := toStateResponse(domainauth.Unauthenticated(), &hint)
	assert.Nil(t, settled.Hint)
}

func TestEvents_StreamsStateChanges(t *testing.T) {
	env := newTestEnv(t, []domainauth.UserProfile{profile("user-e@example.com", domainauth.RoleAdmin, true)})
	env.client(t, "sid-ev")
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/auth/events", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	req.AddCookie(env.cookieFor(t, "sid-ev"))

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readStateEvent(t, reader)
	assert.Equal(t, domainauth.StatusUnauthenticated, first.Status)

	_, err = env.providers.Provider("sid-ev").SignIn(ctx, "e@example.com", "pw-long-enough")
	require.NoError(t, err)

	var last stateResponse
	for last.Status != domainauth.StatusAuthenticated {
		last = readStateEvent(t, reader)
	}
	require.NotNil(t, last.User)
	assert.Equal(t, domainauth.RoleAdmin, last.User.Role)
}

// readStateEvent reads until the next "data:" line of a state event.
func readStateEvent(t *testing.T, r *bufio.Reader) stateResponse {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
		if !ok {
			continue
		}
		var st stateResponse
		require.NoError(t, json.Unmarshal([]byte(data), &st))
		return st
	}
}
