package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marks/internal/client"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/identity"
	"github.com/MrSnakeDoc/marks/internal/index"
	"github.com/MrSnakeDoc/marks/internal/logger"
	redisstore "github.com/MrSnakeDoc/marks/internal/store/redis"
)

const testPublicURL = "http://marks.test"

type testEnv struct {
	server  *httptest.Server
	http    *http.Client
	clients *index.ClientIndex
}

type stateBody struct {
	State     string            `json:"state"`
	Session   *domain.Session   `json:"session"`
	Bookmarks []domain.Bookmark `json:"bookmarks"`
	Loading   bool              `json:"loading"`
	Version   uint64            `json:"version"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvTTL(t, time.Hour)
}

// newTestEnvTTL builds an env whose sessions expire after ttl.
func newTestEnvTTL(t *testing.T, ttl time.Duration) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logger.Nop()
	store := redisstore.NewStore(rdb)
	provider := identity.NewProvider(store,
		identity.NewTokens([]byte("test-secret-key-at-least-32-bytes-long"), testPublicURL),
		ttl, log, identity.NewDevConnector(testPublicURL))

	clients := index.NewClientIndex(func(device string) (*client.Client, error) {
		c := client.New(device, provider, store, log)
		if err := c.Start(); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	})
	t.Cleanup(clients.CloseAll)

	d := deps.Deps{
		Logger:      log,
		StartTime:   time.Now(),
		Version:     "test",
		TimeNow:     time.Now,
		PublicURL:   testPublicURL,
		RedisClient: rdb,
		Clients:     clients,
		Identity:    provider,
		KeepAlive:   time.Second,
	}

	srv := httptest.NewServer(NewRouter(log, d))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		server:  srv,
		http:    &http.Client{Jar: jar, Timeout: 5 * time.Second},
		clients: clients,
	}
}

// newDevice returns a browser with its own cookie jar on the same server.
func (e *testEnv) newDevice(t *testing.T) *testEnv {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{
		server:  e.server,
		http:    &http.Client{Jar: jar, Timeout: 5 * time.Second},
		clients: e.clients,
	}
}

func (e *testEnv) do(t *testing.T, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.http.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) state(t *testing.T) stateBody {
	t.Helper()
	resp := e.do(t, http.MethodGet, "/api/state", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var s stateBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	return s
}

// confirmed waits until the listing holds n stored bookmarks.
func (e *testEnv) confirmed(t *testing.T, n int) []domain.Bookmark {
	t.Helper()
	var last stateBody
	require.Eventually(t, func() bool {
		last = e.state(t)
		if last.Loading || len(last.Bookmarks) != n {
			return false
		}
		for _, b := range last.Bookmarks {
			if domain.IsProvisionalID(b.ID) {
				return false
			}
		}
		return true
	}, 3*time.Second, 20*time.Millisecond, "want %d confirmed bookmarks", n)
	return last.Bookmarks
}

// signIn runs the dev redirect flow: the sign-in request returns the
// provider URL, the dev form then posts the email to the callback.
func (e *testEnv) signIn(t *testing.T, email string) {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/auth/signin", "application/x-www-form-urlencoded",
		strings.NewReader("provider=dev"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var r struct {
		Redirect string `json:"redirect"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	u, err := url.Parse(r.Redirect)
	require.NoError(t, err)
	require.Equal(t, "/auth/dev", u.Path)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	page := e.do(t, http.MethodGet, "/auth/dev?state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusOK, page.StatusCode)

	form := url.Values{"state": {state}, "code": {email}}
	cb := e.do(t, http.MethodPost, "/auth/callback", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	require.Equal(t, http.StatusOK, cb.StatusCode, "callback redirects to the page")
	assert.Equal(t, "/", cb.Request.URL.Path)
	assert.Empty(t, cb.Request.URL.Query().Get("error"))

	require.Eventually(t, func() bool {
		return e.state(t).State == "signed_in"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestPageSignedOut(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `action="/auth/signin"`)

	u, _ := url.Parse(e.server.URL)
	cookies := e.http.Jar.Cookies(u)
	require.Len(t, cookies, 1, "first visit assigns a device")

	s := e.state(t)
	assert.Equal(t, "signed_out", s.State)
	assert.Nil(t, s.Session)
	assert.Empty(t, s.Bookmarks)
	assert.Equal(t, 1, e.clients.Count())
}

func TestSignedOutMutationsRejected(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/bookmarks", "application/json",
		strings.NewReader(`{"title":"Go","url":"https://go.dev"}`))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBookmarkLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.signIn(t, "alice@example.com")

	s := e.state(t)
	require.NotNil(t, s.Session)
	assert.Equal(t, "alice@example.com", s.Session.Email)
	assert.Empty(t, s.Bookmarks)

	resp := e.do(t, http.MethodPost, "/api/bookmarks", "application/json",
		strings.NewReader(`{"title":"  Go  ","url":"https://go.dev"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	marks := e.confirmed(t, 1)
	assert.Equal(t, "Go", marks[0].Title)
	assert.Equal(t, "https://go.dev", marks[0].URL)
	assert.Equal(t, s.Session.UserID, marks[0].OwnerID)

	resp = e.do(t, http.MethodPost, "/api/bookmarks", "application/json",
		strings.NewReader(`{"title":"","url":"https://go.dev"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/api/bookmarks/"+marks[0].ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	e.confirmed(t, 0)
}

func TestDeleteOfAnotherUsersBookmarkIsIgnored(t *testing.T) {
	alice := newTestEnv(t)
	alice.signIn(t, "alice@example.com")
	resp := alice.do(t, http.MethodPost, "/api/bookmarks", "application/json",
		strings.NewReader(`{"title":"Mine","url":"https://alice.example"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := alice.confirmed(t, 1)[0].ID

	mallory := alice.newDevice(t)
	mallory.signIn(t, "mallory@example.com")

	resp = mallory.do(t, http.MethodPost, "/bookmarks/"+id+"/delete", "application/x-www-form-urlencoded", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = mallory.do(t, http.MethodDelete, "/api/bookmarks/"+id, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Give any stray delete time to land before rereading
	time.Sleep(100 * time.Millisecond)
	resp = alice.do(t, http.MethodPost, "/api/refresh", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	marks := alice.confirmed(t, 1)
	assert.Equal(t, id, marks[0].ID)
	assert.Empty(t, mallory.state(t).Bookmarks)
}

func TestExpiredSessionSignsOut(t *testing.T) {
	e := newTestEnvTTL(t, 3*time.Second)
	e.signIn(t, "erin@example.com")

	require.Eventually(t, func() bool {
		return e.state(t).State == "signed_out"
	}, 6*time.Second, 50*time.Millisecond, "session outlived its expiry")

	resp := e.do(t, http.MethodPost, "/api/bookmarks", "application/json",
		strings.NewReader(`{"title":"Late","url":"https://late.example"}`))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFormPostRedirects(t *testing.T) {
	e := newTestEnv(t)
	e.signIn(t, "bob@example.com")

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/bookmarks",
		strings.NewReader(url.Values{"title": {""}, "url": {""}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := e.http.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "validation", resp.Request.URL.Query().Get("error"))
}

func TestImportBookmarks(t *testing.T) {
	e := newTestEnv(t)
	e.signIn(t, "carol@example.com")

	doc := `---
- Developer:
    - Github:
        - abbr: GH
          href: https://github.com/
    - Go:
        - abbr: GO
          href: https://go.dev/
- Social:
    - Duplicate:
        - href: https://github.com/
`
	resp := e.do(t, http.MethodPost, "/api/bookmarks/import", "application/x-yaml", strings.NewReader(doc))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res struct {
		Imported int `json:"imported"`
		Rejected int `json:"rejected"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 0, res.Rejected)

	marks := e.confirmed(t, 2)
	urls := []string{marks[0].URL, marks[1].URL}
	assert.ElementsMatch(t, []string{"https://github.com/", "https://go.dev/"}, urls)

	resp = e.do(t, http.MethodPost, "/api/bookmarks/import", "application/x-yaml", strings.NewReader("   "))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignOutClearsState(t *testing.T) {
	e := newTestEnv(t)
	e.signIn(t, "dave@example.com")

	resp := e.do(t, http.MethodPost, "/api/bookmarks", "application/json",
		strings.NewReader(`{"title":"Go","url":"https://go.dev"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	e.confirmed(t, 1)

	resp = e.do(t, http.MethodPost, "/auth/signout", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	s := e.state(t)
	assert.Equal(t, "signed_out", s.State)
	assert.Empty(t, s.Bookmarks)

	// Signing back in lists the stored bookmark again
	e.signIn(t, "dave@example.com")
	e.confirmed(t, 1)
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	e := newTestEnv(t)

	form := url.Values{"state": {"bogus"}, "code": {"eve@example.com"}}
	resp := e.do(t, http.MethodPost, "/auth/callback", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "auth", resp.Request.URL.Query().Get("error"))
	assert.Equal(t, "signed_out", e.state(t).State)
}

func TestHealthEndpoints(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/infra"} {
		resp := e.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp := e.do(t, http.MethodGet, "/infra", "", nil)
	var infra struct {
		Mode string `json:"mode"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infra))
	assert.Equal(t, "operational", infra.Mode)
}

func TestWebsocketPushesChanges(t *testing.T) {
	e := newTestEnv(t)
	e.signIn(t, "frank@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: &http.Client{Jar: e.http.Jar},
	})
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.CloseNow() }()

	read := func() stateBody {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var s stateBody
		require.NoError(t, json.Unmarshal(data, &s))
		return s
	}

	first := read()
	assert.Equal(t, "signed_in", first.State)

	add := e.do(t, http.MethodPost, "/api/bookmarks", "application/json",
		strings.NewReader(`{"title":"Go","url":"https://go.dev"}`))
	require.Equal(t, http.StatusOK, add.StatusCode)

	last := first
	for len(last.Bookmarks) != 1 || domain.IsProvisionalID(last.Bookmarks[0].ID) {
		next := read()
		assert.Greater(t, next.Version, last.Version, "versions only grow")
		last = next
	}
	assert.Equal(t, "https://go.dev", last.Bookmarks[0].URL)
}

func TestRefreshSession(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/auth/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	e.signIn(t, "grace@example.com")
	before := e.state(t).Session

	resp = e.do(t, http.MethodPost, "/auth/refresh", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Session *domain.Session `json:"session"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Session)
	assert.Equal(t, before.UserID, body.Session.UserID)

	// The refreshed token keeps the user signed in
	assert.Equal(t, "signed_in", e.state(t).State)
}
