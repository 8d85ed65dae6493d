package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const eventually = 5 * time.Second

type result struct {
	status int
	err    error
}

func (f *sessionFixture) execute(req *http.Request) result {
	resp, err := f.manager.Gateway().Execute(req)
	if err != nil {
		return result{err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return result{status: resp.StatusCode}
}

func TestGatewayRefreshesExpiredAccess(t *testing.T) {
	api := newFakeAPI(t)
	f := setupSessionFixture(t, api, true)

	r := f.execute(f.get(t, "x"))
	require.NoError(t, r.err)
	require.Equal(t, http.StatusOK, r.status)
	require.Equal(t, 1, api.stats().refreshCalls)

	t.Run("fresh credential goes straight through", func(t *testing.T) {
		r := f.execute(f.get(t, "y"))
		require.NoError(t, r.err)
		require.Equal(t, http.StatusOK, r.status)
		require.Equal(t, 1, api.stats().refreshCalls)
	})
}

func TestGatewayReplaysAtMostOnce(t *testing.T) {
	api := newFakeAPI(t)
	api.alwaysExpired = true
	f := setupSessionFixture(t, api, true)

	resp, err := f.manager.Gateway().Execute(f.get(t, "x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, expiredSignal, resp.Header.Get(headerAuthError))

	stats := api.stats()
	require.Equal(t, 1, stats.refreshCalls)
	require.Equal(t, 2, stats.recordHits)
}

func TestGatewaySingleFlightRefresh(t *testing.T) {
	const n = 10

	api := newFakeAPI(t)
	api.refreshGate = make(chan struct{})
	f := setupSessionFixture(t, api, true)

	results := make([]result, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.execute(f.get(t, fmt.Sprint(i)))
		}()
	}

	require.Eventually(t, func() bool { return f.waiting() == n-1 }, eventually, 5*time.Millisecond)
	close(api.refreshGate)
	wg.Wait()

	for i, r := range results {
		require.NoError(t, r.err, "request %d", i)
		require.Equal(t, http.StatusOK, r.status, "request %d", i)
	}
	stats := api.stats()
	require.Equal(t, 1, stats.refreshCalls)
	require.Len(t, stats.replayed, n)
	require.Equal(t, 2*n, stats.recordHits)

	state, _ := f.manager.State()
	require.Equal(t, Authenticated, state)
}

func TestGatewayReplaysWaitersInArrivalOrder(t *testing.T) {
	api := newFakeAPI(t)
	api.refreshGate = make(chan struct{})
	f := setupSessionFixture(t, api, true)

	var wg sync.WaitGroup
	run := func(id string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := f.execute(f.get(t, id))
			if r.err != nil || r.status != http.StatusOK {
				t.Errorf("request %s: %+v", id, r)
			}
		}()
	}

	run("leader")
	require.Eventually(t, func() bool { return api.stats().refreshCalls == 1 }, eventually, 5*time.Millisecond)
	for i, id := range []string{"a", "b", "c", "d"} {
		run(id)
		require.Eventually(t, func() bool { return f.waiting() == i+1 }, eventually, 5*time.Millisecond)
	}

	close(api.refreshGate)
	wg.Wait()

	require.Equal(t, []string{"leader", "a", "b", "c", "d"}, api.stats().replayed)
}

func TestGatewayRefreshFailureRejectsEveryone(t *testing.T) {
	const n = 5

	api := newFakeAPI(t)
	api.refreshGate = make(chan struct{})
	api.refreshStatus = http.StatusForbidden
	f := setupSessionFixture(t, api, true)

	results := make([]result, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.execute(f.get(t, fmt.Sprint(i)))
		}()
	}

	require.Eventually(t, func() bool { return f.waiting() == n-1 }, eventually, 5*time.Millisecond)
	close(api.refreshGate)
	wg.Wait()

	for i, r := range results {
		require.ErrorIs(t, r.err, ErrRefreshRejected, "request %d", i)
	}
	require.Equal(t, 1, api.stats().refreshCalls)

	state, identity := f.manager.State()
	require.Equal(t, Anonymous, state)
	require.Nil(t, identity)
	cached, err := f.cache.Load()
	require.NoError(t, err)
	require.Nil(t, cached)
	require.False(t, f.manager.Client().HasCookie("/", cookieAccess))
	require.False(t, f.manager.Client().HasCookie(pathRefresh, cookieRefresh))
}

func TestGatewayAnonymousSessionFailsFast(t *testing.T) {
	api := newFakeAPI(t)
	f := setupSessionFixture(t, api, false)

	r := f.execute(f.get(t, "x"))
	require.ErrorIs(t, r.err, ErrSessionEnded)
	require.Equal(t, 0, api.stats().refreshCalls)
}

func TestGatewayExcludedEndpoints(t *testing.T) {
	var hits atomic.Int32
	expired := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeExpired(w)
	}))
	t.Cleanup(expired.Close)

	c, err := New(expired.URL)
	require.NoError(t, err)
	cache := NewMemoryCache()
	require.NoError(t, cache.Save(testIdentity))
	m := NewSessionManager(c, WithIdentityCache(cache))

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, pathRefresh},
		{http.MethodDelete, pathSession},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			before := hits.Load()
			req, err := c.NewRequest(t.Context(), tc.method, tc.path, nil)
			require.NoError(t, err)

			resp, err := m.Gateway().Execute(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			require.Equal(t, int32(1), hits.Load()-before)
		})
	}

	state, _ := m.State()
	require.Equal(t, Authenticated, state)
}

func TestGatewayReplaysRequestBody(t *testing.T) {
	api := newFakeAPI(t)
	f := setupSessionFixture(t, api, true)

	req, err := f.manager.Client().NewRequest(t.Context(), http.MethodPost, "/records?id=b", map[string]string{"note": "bp 120/80"})
	require.NoError(t, err)

	r := f.execute(req)
	require.NoError(t, r.err)
	require.Equal(t, http.StatusOK, r.status)
	require.Equal(t, []string{`{"note":"bp 120/80"}`}, api.stats().bodies)
}

func TestGatewayRejectsUnreplayableBody(t *testing.T) {
	api := newFakeAPI(t)
	f := setupSessionFixture(t, api, true)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, api.server.URL+"/records", io.NopCloser(strings.NewReader("x")))
	require.NoError(t, err)

	r := f.execute(req)
	require.ErrorIs(t, r.err, ErrNotReplayable)
	require.Equal(t, 1, api.stats().refreshCalls)
}

func TestGatewayLogoutDuringRefresh(t *testing.T) {
	api := newFakeAPI(t)
	api.refreshGate = make(chan struct{})
	f := setupSessionFixture(t, api, true)

	done := make(chan result, 1)
	go func() { done <- f.execute(f.get(t, "x")) }()
	require.Eventually(t, func() bool { return api.stats().refreshCalls == 1 }, eventually, 5*time.Millisecond)

	f.manager.Logout(t.Context())
	close(api.refreshGate)

	r := <-done
	require.ErrorIs(t, r.err, ErrSessionEnded)
	state, _ := f.manager.State()
	require.Equal(t, Anonymous, state)
	// The refresh response set a new access cookie after logout; it must be gone.
	require.False(t, f.manager.Client().HasCookie("/", cookieAccess))
	require.Equal(t, []string{"v0"}, api.stats().logoutCookies)
}

func TestGatewayWaiterHonoursCancellation(t *testing.T) {
	api := newFakeAPI(t)
	api.refreshGate = make(chan struct{})
	f := setupSessionFixture(t, api, true)

	leader := make(chan result, 1)
	go func() { leader <- f.execute(f.get(t, "leader")) }()
	require.Eventually(t, func() bool { return api.stats().refreshCalls == 1 }, eventually, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(t.Context())
	req, err := f.manager.Client().NewRequest(ctx, http.MethodGet, "/records?id=cancelled", nil)
	require.NoError(t, err)
	waiter := make(chan result, 1)
	go func() { waiter <- f.execute(req) }()
	require.Eventually(t, func() bool { return f.waiting() == 1 }, eventually, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, (<-waiter).err, context.Canceled)

	close(api.refreshGate)
	r := <-leader
	require.NoError(t, r.err)
	require.Equal(t, http.StatusOK, r.status)
	require.Equal(t, []string{"leader"}, api.stats().replayed)
}

func TestGatewayLeaderCancellationDoesNotAbortRefresh(t *testing.T) {
	api := newFakeAPI(t)
	api.refreshGate = make(chan struct{})
	f := setupSessionFixture(t, api, true)

	ctx, cancel := context.WithCancel(t.Context())
	req, err := f.manager.Client().NewRequest(ctx, http.MethodGet, "/records?id=leader", nil)
	require.NoError(t, err)
	leader := make(chan result, 1)
	go func() { leader <- f.execute(req) }()
	require.Eventually(t, func() bool { return api.stats().refreshCalls == 1 }, eventually, 5*time.Millisecond)

	waiter := make(chan result, 1)
	go func() { waiter <- f.execute(f.get(t, "waiter")) }()
	require.Eventually(t, func() bool { return f.waiting() == 1 }, eventually, 5*time.Millisecond)

	cancel()
	close(api.refreshGate)

	require.Error(t, (<-leader).err)
	r := <-waiter
	require.NoError(t, r.err)
	require.Equal(t, http.StatusOK, r.status)
	state, _ := f.manager.State()
	require.Equal(t, Authenticated, state)
}

func TestGatewayRefreshTimeout(t *testing.T) {
	api := newFakeAPI(t)
	api.refreshGate = make(chan struct{})
	t.Cleanup(func() { close(api.refreshGate) })
	f := setupSessionFixture(t, api, true, WithRefreshTimeout(50*time.Millisecond))

	r := f.execute(f.get(t, "x"))
	require.ErrorIs(t, r.err, context.DeadlineExceeded)
	state, _ := f.manager.State()
	require.Equal(t, Anonymous, state)
}
