package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-patient-auth/internal/errors"
)

const DefaultRefreshTimeout = 10 * time.Second

// ErrNotReplayable is returned when a request has to be replayed after a refresh but
// its body cannot be read a second time.
var ErrNotReplayable = errors.New("request body cannot be replayed")

type GatewayOption func(*Gateway)

func WithRefreshTimeout(timeout time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.refreshTimeout = timeout
	}
}

// Gateway sends requests on behalf of the session. When the server reports an expired
// access credential it refreshes once, however many requests are waiting, and replays them.
type Gateway struct {
	client         *Client
	session        *SessionManager
	refreshTimeout time.Duration

	mu         sync.Mutex
	refreshing bool
	waiters    []*waiter
	// generation counts successful refreshes.
	generation uint64
}

type waiter struct {
	ready chan error
	done  chan struct{}
}

func newGateway(c *Client, session *SessionManager, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		client:         c,
		session:        session,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute sends req and, if the access credential has expired, refreshes it and
// replays req exactly once. req is not modified.
func (g *Gateway) Execute(req *http.Request) (*http.Response, error) {
	g.mu.Lock()
	generation := g.generation
	g.mu.Unlock()
	_, epoch := g.session.snapshot()

	resp, err := g.client.Do(req.Clone(req.Context()))
	if err != nil {
		return nil, err
	}
	if excluded(req) || !needsRefresh(resp) {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	state, current := g.session.snapshot()
	if state == Anonymous || current != epoch {
		return nil, ErrSessionEnded
	}

	g.mu.Lock()
	if g.generation != generation {
		// Refreshed while this request was on the wire.
		g.mu.Unlock()
		return g.replay(req)
	}
	if g.refreshing {
		w := &waiter{ready: make(chan error, 1), done: make(chan struct{})}
		g.waiters = append(g.waiters, w)
		g.mu.Unlock()
		return g.wait(req, w)
	}
	g.refreshing = true
	g.mu.Unlock()

	return g.lead(req, epoch)
}

func (g *Gateway) lead(req *http.Request, epoch uint64) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), g.refreshTimeout)
	err := g.client.Refresh(ctx)
	cancel()

	_, current := g.session.snapshot()
	ended := current != epoch

	g.mu.Lock()
	waiters := g.waiters
	g.waiters = nil
	g.refreshing = false
	if err == nil && !ended {
		g.generation++
	}
	g.mu.Unlock()

	switch {
	case ended:
		// Logged out while refreshing; whatever the refresh set must not survive.
		g.client.ExpireCookies()
		reject(waiters, ErrSessionEnded)
		return nil, ErrSessionEnded
	case err != nil:
		log.Warn().Err(err).Int("waiters", len(waiters)).Msg("credential refresh failed, ending session")
		g.session.expire()
		reject(waiters, err)
		return nil, err
	}

	resp, replayErr := g.replay(req)
	go release(waiters)
	return resp, replayErr
}

// wait blocks until the leader releases w, then replays req.
func (g *Gateway) wait(req *http.Request, w *waiter) (*http.Response, error) {
	defer close(w.done)

	select {
	case err := <-w.ready:
		if err != nil {
			return nil, err
		}
		return g.replay(req)
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
}

// release lets waiters replay one at a time in the order they arrived.
func release(waiters []*waiter) {
	for _, w := range waiters {
		w.ready <- nil
		<-w.done
	}
}

func reject(waiters []*waiter, err error) {
	for _, w := range waiters {
		w.ready <- err
	}
}

// replay resends req with the current cookies. Whatever comes back is final.
func (g *Gateway) replay(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, ErrNotReplayable
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotReplayable, err)
		}
		clone.Body = body
	}
	return g.client.Do(clone)
}

// excluded reports whether req is one whose 401 must never trigger a refresh.
func excluded(req *http.Request) bool {
	switch req.URL.Path {
	case pathRefresh:
		return true
	case pathSession:
		return req.Method == http.MethodDelete
	}
	return false
}
