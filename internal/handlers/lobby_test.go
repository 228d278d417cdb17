// internal/handlers/lobby_test.go
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/panenka/internal/auth"
	"github.com/jason-s-yu/panenka/internal/buzzer"
	"github.com/jason-s-yu/panenka/internal/metrics"
	"github.com/jason-s-yu/panenka/internal/store"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	signer, err := auth.NewSigner()
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	e, err := buzzer.NewEngine(buzzer.Config{
		Repo:            store.NewMemoryStore(0),
		Signer:          signer,
		Logger:          logger,
		Metrics:         m,
		LockOnFirstBuzz: true,
	})
	require.NoError(t, err)
	return NewRouter(RouterConfig{
		Logger:         logger,
		Engine:         e,
		Metrics:        m,
		Gatherer:       reg,
		AllowedOrigins: []string{"*"},
	})
}

type call struct {
	method  string
	path    string
	body    string
	headers map[string]string
	cookies []*http.Cookie
}

func do(t *testing.T, srv http.Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, bytes.NewBufferString(c.body))
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createLobby(t *testing.T, srv http.Handler) buzzer.HostSession {
	t.Helper()
	w := do(t, srv, call{method: http.MethodPost, path: "/api/lobbies", body: `{"host_name":"Quizmaster"}`})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[buzzer.HostSession](t, w)
}

func joinLobby(t *testing.T, srv http.Handler, code, name string) buzzer.PlayerSession {
	t.Helper()
	w := do(t, srv, call{method: http.MethodPost, path: "/api/lobbies/" + code + "/join", body: `{"name":"` + name + `"}`})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[buzzer.PlayerSession](t, w)
}

func asHost(token string) map[string]string { return map[string]string{hostTokenHeader: token} }
func asPlayer(id string) map[string]string { return map[string]string{playerIDHeader: id} }

func TestCreateLobbySetsHostCookie(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, call{method: http.MethodPost, path: "/api/lobbies", body: `{"host_name":"Quizmaster"}`})
	require.Equal(t, http.StatusOK, w.Code)

	sess := decode[buzzer.HostSession](t, w)
	assert.Len(t, sess.Code, buzzer.CodeLength)
	assert.NotEmpty(t, sess.HostToken)
	assert.Equal(t, "Quizmaster", sess.State.HostName)

	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == hostCookieName(sess.Code) {
			found = true
			assert.Equal(t, sess.HostToken, c.Value)
			assert.True(t, c.HttpOnly)
		}
	}
	assert.True(t, found, "host cookie set")
}

func TestCreateLobbyRejectsBadPayload(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, call{method: http.MethodPost, path: "/api/lobbies", body: `{"host_name":`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoundOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	host := createLobby(t, srv)
	base := "/api/lobbies/" + host.Code
	p1 := joinLobby(t, srv, host.Code, "P1")
	p2 := joinLobby(t, srv, strings.ToLower(host.Code), "P2")

	w := do(t, srv, call{method: http.MethodPost, path: base + "/question", body: `{"value":20}`, headers: asHost(host.HostToken)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 20, decode[buzzer.State](t, w).QuestionValue)

	w = do(t, srv, call{method: http.MethodPost, path: base + "/buzz", headers: asPlayer(p1.PlayerID)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, buzzer.BuzzAccepted, decode[buzzResponse](t, w).Status)

	w = do(t, srv, call{method: http.MethodPost, path: base + "/buzz", headers: asPlayer(p1.PlayerID)})
	assert.Equal(t, buzzer.BuzzAlready, decode[buzzResponse](t, w).Status)

	// player cookie works as well as the header
	w = do(t, srv, call{method: http.MethodPost, path: base + "/buzz", cookies: []*http.Cookie{{Name: playerCookieName(host.Code), Value: p2.PlayerID}}})
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[buzzResponse](t, w).State
	require.NotNil(t, st.You)
	require.NotNil(t, st.You.Position)
	assert.Equal(t, 2, *st.You.Position)

	w = do(t, srv, call{method: http.MethodPost, path: base + "/confirm", body: `{"player_id":"` + p1.PlayerID + `"}`, headers: asHost(host.HostToken)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, buzzer.PhaseResolving, decode[buzzer.State](t, w).Phase)

	w = do(t, srv, call{method: http.MethodPost, path: base + "/resolve", body: `{"action":"correct"}`, headers: asHost(host.HostToken)})
	require.Equal(t, http.StatusOK, w.Code)
	hs := decode[buzzer.State](t, w)
	assert.Empty(t, hs.BuzzQueue)
	assert.Equal(t, "P1", hs.Scoreboard[0].Name)
	assert.Equal(t, 20, hs.Scoreboard[0].Score)

	w = do(t, srv, call{method: http.MethodGet, path: base + "/state", headers: asPlayer(p2.PlayerID)})
	require.Equal(t, http.StatusOK, w.Code)
	ps := decode[buzzer.State](t, w)
	assert.Equal(t, buzzer.RolePlayer, ps.Role)
	assert.True(t, ps.You.CanBuzz)
	assert.NotContains(t, w.Body.String(), host.HostToken)
}

func TestHostEndpointsRequireToken(t *testing.T) {
	srv := newTestServer(t)
	host := createLobby(t, srv)
	base := "/api/lobbies/" + host.Code

	for _, path := range []string{"/lock", "/unlock", "/reset", "/close"} {
		w := do(t, srv, call{method: http.MethodPost, path: base + path})
		assert.Equal(t, http.StatusForbidden, w.Code, path)
		w = do(t, srv, call{method: http.MethodPost, path: base + path, headers: asHost("bogus")})
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}
}

func TestStateStatusCodes(t *testing.T) {
	srv := newTestServer(t)
	host := createLobby(t, srv)
	base := "/api/lobbies/" + host.Code

	w := do(t, srv, call{method: http.MethodGet, path: base + "/state"})
	assert.Equal(t, http.StatusForbidden, w.Code, "no credentials")

	w = do(t, srv, call{method: http.MethodGet, path: base + "/state", headers: asPlayer("stranger")})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, srv, call{method: http.MethodGet, path: "/api/lobbies/ZZZZ/state", headers: asPlayer("stranger")})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, call{method: http.MethodGet, path: base + "/state", headers: asHost(host.HostToken)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, buzzer.RoleHost, decode[buzzer.State](t, w).Role)
}

func TestHostRejoinWithQueryToken(t *testing.T) {
	srv := newTestServer(t)
	host := createLobby(t, srv)

	w := do(t, srv, call{method: http.MethodGet, path: "/api/lobbies/" + host.Code + "/state?token=" + host.HostToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, buzzer.RoleHost, decode[buzzer.State](t, w).Role)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, hostCookieName(host.Code), cookies[0].Name)

	w = do(t, srv, call{method: http.MethodPost, path: "/api/lobbies/" + host.Code + "/lock", cookies: cookies})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[buzzer.State](t, w).Locked)
}

func TestHostBadInputs(t *testing.T) {
	srv := newTestServer(t)
	host := createLobby(t, srv)
	base := "/api/lobbies/" + host.Code
	h := asHost(host.HostToken)

	cases := []call{
		{method: http.MethodPost, path: base + "/question", body: `{"value":-1}`, headers: h},
		{method: http.MethodPost, path: base + "/question", body: `{}`, headers: h},
		{method: http.MethodPost, path: base + "/resolve", body: `{"action":"bonus"}`, headers: h},
		{method: http.MethodPost, path: base + "/confirm", body: `{}`, headers: h},
	}
	for _, c := range cases {
		w := do(t, srv, c)
		assert.Equal(t, http.StatusBadRequest, w.Code, c.path+" "+c.body)
	}

	// resolving without an active player is a quiet no-op
	w := do(t, srv, call{method: http.MethodPost, path: base + "/resolve", body: `{"action":"incorrect"}`, headers: h})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLeaveAndClose(t *testing.T) {
	srv := newTestServer(t)
	host := createLobby(t, srv)
	base := "/api/lobbies/" + host.Code
	p := joinLobby(t, srv, host.Code, "Ann")

	w := do(t, srv, call{method: http.MethodPost, path: base + "/leave", headers: asPlayer(p.PlayerID)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"status": "left", "redirect": "/"}, decode[map[string]string](t, w))

	w = do(t, srv, call{method: http.MethodGet, path: base + "/state", headers: asPlayer(p.PlayerID)})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, srv, call{method: http.MethodPost, path: base + "/close", headers: asHost(host.HostToken)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "closed", decode[map[string]string](t, w)["status"])

	w = do(t, srv, call{method: http.MethodGet, path: base + "/state", headers: asHost(host.HostToken)})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	createLobby(t, srv)

	w := do(t, srv, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "panenka_lobbies_created_total 1")
	assert.Contains(t, body, "panenka_http_requests_total")
	assert.NotContains(t, body, "/api/lobbies/"+"ABCD", "lobby codes never become labels")
}

func TestPlayerStateNeverExposesRivalIDs(t *testing.T) {
	srv := newTestServer(t)
	host := createLobby(t, srv)
	base := "/api/lobbies/" + host.Code
	alice := joinLobby(t, srv, host.Code, "Alice")
	bob := joinLobby(t, srv, host.Code, "Bob")

	w := do(t, srv, call{method: http.MethodPost, path: base + "/buzz", headers: asPlayer(bob.PlayerID)})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, call{method: http.MethodGet, path: base + "/state", headers: asPlayer(alice.PlayerID)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), bob.PlayerID)
	require.Len(t, decode[buzzer.State](t, w).BuzzQueue, 1)

	w = do(t, srv, call{method: http.MethodGet, path: base + "/state", headers: asHost(host.HostToken)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), bob.PlayerID, "host still needs ids to confirm")
}
