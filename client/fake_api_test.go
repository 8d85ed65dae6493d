package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-patient-auth/users"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "longenoughpass"
)

var testIdentity = users.Identity{ID: "acc-1", Email: testEmail}

// fakeAPI mimics the session endpoints closely enough to drive the gateway. An
// access cookie is accepted only when it equals the value handed out last.
type fakeAPI struct {
	mu            sync.Mutex
	valid         string
	issued        int
	refreshCalls  int
	refreshStatus int
	refreshGate   chan struct{}
	refreshAbort  bool
	loginGate     chan struct{}
	alwaysExpired bool
	whoamiStatus  int
	recordHits    int
	replayed      []string
	bodies        []string
	logoutCookies []string

	server *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{refreshStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", api.login)
	mux.HandleFunc("GET /session", api.whoami)
	mux.HandleFunc("DELETE /session", api.logout)
	mux.HandleFunc("POST /session/refresh", api.refresh)
	mux.HandleFunc("/records", api.records)

	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) issue(w http.ResponseWriter) {
	a.issued++
	a.valid = fmt.Sprintf("v%d", a.issued)
	http.SetCookie(w, &http.Cookie{Name: cookieAccess, Value: a.valid, Path: "/", HttpOnly: true})
}

func (a *fakeAPI) accessOK(r *http.Request) (present bool, ok bool) {
	cookie, err := r.Cookie(cookieAccess)
	if err != nil {
		return false, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return true, !a.alwaysExpired && a.valid != "" && cookie.Value == a.valid
}

func writeExpired(w http.ResponseWriter) {
	w.Header().Set(headerAuthError, expiredSignal)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"expired_credential"}`))
}

func (a *fakeAPI) login(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	gate := a.loginGate
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}

	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body["password"] != testPassword {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_credential","error_description":"invalid email or password"}`))
		return
	}

	a.mu.Lock()
	a.issue(w)
	a.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: cookieRefresh, Value: "r1", Path: pathRefresh, HttpOnly: true})
	_ = json.NewEncoder(w).Encode(testIdentity)
}

func (a *fakeAPI) whoami(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	status := a.whoamiStatus
	a.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"unavailable"}`))
		return
	}

	present, ok := a.accessOK(r)
	switch {
	case ok:
		_ = json.NewEncoder(w).Encode(testIdentity)
	case present:
		writeExpired(w)
	default:
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"missing_credential"}`))
	}
}

func (a *fakeAPI) logout(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if cookie, err := r.Cookie(cookieAccess); err == nil {
		a.logoutCookies = append(a.logoutCookies, cookie.Value)
	} else {
		a.logoutCookies = append(a.logoutCookies, "")
	}
	a.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: cookieAccess, Path: "/", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{Name: cookieRefresh, Path: pathRefresh, MaxAge: -1})
	_, _ = w.Write([]byte(`{"status":"logged_out"}`))
}

func (a *fakeAPI) refresh(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.refreshCalls++
	gate := a.refreshGate
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refreshAbort {
		// Drops the connection so the client sees a transport error.
		panic(http.ErrAbortHandler)
	}
	if a.refreshStatus != http.StatusOK {
		w.WriteHeader(a.refreshStatus)
		_, _ = w.Write([]byte(`{"error":"revoked_credential"}`))
		return
	}
	a.issue(w)
	_ = json.NewEncoder(w).Encode(testIdentity)
}

func (a *fakeAPI) records(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	a.recordHits++
	a.mu.Unlock()

	if _, ok := a.accessOK(r); !ok {
		writeExpired(w)
		return
	}

	a.mu.Lock()
	a.replayed = append(a.replayed, r.URL.Query().Get("id"))
	if len(body) > 0 {
		a.bodies = append(a.bodies, string(body))
	}
	a.mu.Unlock()
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type apiStats struct {
	refreshCalls  int
	recordHits    int
	replayed      []string
	bodies        []string
	logoutCookies []string
}

func (a *fakeAPI) stats() apiStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return apiStats{
		refreshCalls:  a.refreshCalls,
		recordHits:    a.recordHits,
		replayed:      append([]string(nil), a.replayed...),
		bodies:        append([]string(nil), a.bodies...),
		logoutCookies: append([]string(nil), a.logoutCookies...),
	}
}

type sessionFixture struct {
	api     *fakeAPI
	cache   *MemoryCache
	manager *SessionManager
}

// setupSessionFixture builds a manager whose jar holds a stale access cookie and a
// refresh cookie. authenticated seeds the identity cache so the manager starts Authenticated.
func setupSessionFixture(t *testing.T, api *fakeAPI, authenticated bool, opts ...GatewayOption) *sessionFixture {
	t.Helper()

	c, err := New(api.server.URL)
	require.NoError(t, err)

	base, err := url.Parse(api.server.URL)
	require.NoError(t, err)
	c.http.Jar.SetCookies(base, []*http.Cookie{{Name: cookieAccess, Value: "v0", Path: "/"}})
	c.http.Jar.SetCookies(base.JoinPath(pathRefresh), []*http.Cookie{{Name: cookieRefresh, Value: "r0", Path: pathRefresh}})

	cache := NewMemoryCache()
	if authenticated {
		require.NoError(t, cache.Save(testIdentity))
	}

	return &sessionFixture{
		api:     api,
		cache:   cache,
		manager: NewSessionManager(c, WithIdentityCache(cache), WithGatewayOptions(opts...)),
	}
}

func (f *sessionFixture) get(t *testing.T, id string) *http.Request {
	t.Helper()
	req, err := f.manager.Client().NewRequest(t.Context(), http.MethodGet, "/records?id="+id, nil)
	require.NoError(t, err)
	return req
}

func (f *sessionFixture) waiting() int {
	g := f.manager.Gateway()
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
