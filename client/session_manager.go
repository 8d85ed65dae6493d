package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/jrsteele09/go-patient-auth/users"
)

// State is the client's view of its session.
type State int

const (
	Anonymous State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrLoginInProgress = errors.New("login already in progress")
	// ErrSessionEnded is returned for work that outlived the session it started in.
	ErrSessionEnded = errors.New("session ended")
	// ErrSessionUnknown means the server could not confirm or deny the session.
	ErrSessionUnknown = errors.New("session state unknown")
)

type SessionOption func(*SessionManager)

func WithIdentityCache(cache IdentityCache) SessionOption {
	return func(m *SessionManager) {
		m.cache = cache
	}
}

func WithGatewayOptions(opts ...GatewayOption) SessionOption {
	return func(m *SessionManager) {
		m.gatewayOpts = append(m.gatewayOpts, opts...)
	}
}

// SessionManager owns the client session state machine and the Gateway that
// authenticated requests go through.
type SessionManager struct {
	client      *Client
	cache       IdentityCache
	gateway     *Gateway
	gatewayOpts []GatewayOption

	mu       sync.Mutex
	state    State
	identity *users.Identity
	// epoch increments every time a session ends, so in-flight work can tell it is stale.
	epoch   uint64
	lastErr error
}

func NewSessionManager(c *Client, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		client: c,
		cache:  NewMemoryCache(),
		state:  Anonymous,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.gateway = newGateway(c, m, m.gatewayOpts...)

	identity, err := m.cache.Load()
	if err != nil {
		log.Warn().Err(err).Msg("ignoring unreadable identity cache")
	} else if identity != nil {
		m.state = Authenticated
		m.identity = identity
	}
	return m
}

// Gateway returns the gateway to send authenticated requests through.
func (m *SessionManager) Gateway() *Gateway {
	return m.gateway
}

func (m *SessionManager) Client() *Client {
	return m.client
}

func (m *SessionManager) State() (State, *users.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return m.state, nil
	}
	identity := *m.identity
	return m.state, &identity
}

func (m *SessionManager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *SessionManager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// snapshot returns the state and epoch under a single lock.
func (m *SessionManager) snapshot() (State, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.epoch
}

// Login authenticates and moves the session to Authenticated. A logout that happens
// while the login is in flight wins: the result is discarded and ErrSessionEnded returned.
func (m *SessionManager) Login(ctx context.Context, email, password string) (*users.Identity, error) {
	m.mu.Lock()
	if m.state == Authenticating {
		m.mu.Unlock()
		return nil, ErrLoginInProgress
	}
	m.state = Authenticating
	m.lastErr = nil
	epoch := m.epoch
	m.mu.Unlock()

	identity, err := m.client.Login(ctx, email, password)

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		if err == nil {
			m.client.ExpireCookies()
		}
		return nil, ErrSessionEnded
	}
	if err != nil {
		m.state = Anonymous
		m.identity = nil
		m.lastErr = err
		m.mu.Unlock()
		return nil, err
	}
	m.state = Authenticated
	m.identity = identity
	m.mu.Unlock()

	if err := m.cache.Save(*identity); err != nil {
		log.Warn().Err(err).Msg("failed to cache identity")
	}
	return identity, nil
}

// Logout ends the session locally straight away, then tells the server on a best-effort
// basis. It never fails and can be called any number of times.
func (m *SessionManager) Logout(ctx context.Context) {
	m.mu.Lock()
	wasActive := m.state != Anonymous
	m.mu.Unlock()

	// The jar is about to forget the access cookie; keep it for the server call.
	access := m.client.cookies(pathSession, cookieAccess)
	m.expire()

	if !wasActive || len(access) == 0 {
		return
	}

	req, err := m.client.NewRequest(ctx, http.MethodDelete, pathSession, nil)
	if err != nil {
		log.Warn().Err(err).Msg("logout: could not build server request")
		return
	}
	for _, cookie := range access {
		req.AddCookie(cookie)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("logout: server invalidation failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Err(readAPIError(resp)).Msg("logout: server invalidation rejected")
	}
	// The response clears cookies that are already gone; make sure nothing came back.
	m.client.ExpireCookies()
}

// expire ends the session locally without talking to the server.
func (m *SessionManager) expire() {
	m.mu.Lock()
	if m.state != Anonymous {
		m.epoch++
	}
	m.state = Anonymous
	m.identity = nil
	m.mu.Unlock()

	if err := m.cache.Clear(); err != nil {
		log.Warn().Err(err).Msg("failed to clear identity cache")
	}
	m.client.ExpireCookies()
}

// Hydrate asks the server who the session belongs to. A definite answer updates the
// state; anything else leaves the cached state alone and returns ErrSessionUnknown.
// A refresh failure ends the session whatever its cause, so it returns nil.
func (m *SessionManager) Hydrate(ctx context.Context) error {
	_, epoch := m.snapshot()

	req, err := m.client.NewRequest(ctx, http.MethodGet, pathSession, nil)
	if err != nil {
		return err
	}

	resp, err := m.gateway.Execute(req)
	if err != nil {
		if errors.Is(err, ErrSessionEnded) || errors.Is(err, ErrRefreshRejected) {
			m.toAnonymous(epoch)
			return nil
		}
		if _, current := m.snapshot(); current != epoch {
			// A failed refresh already ended the session; Anonymous is the definite answer.
			return nil
		}
		return m.unknown(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var identity users.Identity
		if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
			return m.unknown(fmt.Errorf("decoding identity: %w", err))
		}
		m.mu.Lock()
		if m.epoch != epoch {
			m.mu.Unlock()
			return nil
		}
		m.state = Authenticated
		m.identity = &identity
		m.lastErr = nil
		m.mu.Unlock()

		if err := m.cache.Save(identity); err != nil {
			log.Warn().Err(err).Msg("failed to cache identity")
		}
		return nil
	case http.StatusUnauthorized:
		m.toAnonymous(epoch)
		return nil
	default:
		return m.unknown(readAPIError(resp))
	}
}

// ChangePassword changes the password of the current account. The server ends every
// session of the account on success, so this one is expired locally.
func (m *SessionManager) ChangePassword(ctx context.Context, current, next string) error {
	req, err := m.client.NewRequest(ctx, http.MethodPut, pathPassword, map[string]string{
		"currentPassword": current,
		"newPassword":     next,
	})
	if err != nil {
		return err
	}

	resp, err := m.gateway.Execute(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return readAPIError(resp)
	}
	m.expire()
	return nil
}

func (m *SessionManager) toAnonymous(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch || m.state == Anonymous {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.expire()
}

func (m *SessionManager) unknown(cause error) error {
	err := fmt.Errorf("%w: %w", ErrSessionUnknown, cause)
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	return err
}
