// Package client talks to the session endpoints from a client process: it keeps the
// credential cookies in a jar, tracks the local session state and refreshes expired
// access credentials once for any number of concurrent requests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/jrsteele09/go-patient-auth/users"
)

const (
	pathAccounts = "/accounts"
	pathSession  = "/session"
	pathRefresh  = "/session/refresh"
	pathPassword = "/session/password"

	headerAuthError = "X-Auth-Error"
	expiredSignal   = "expired_credential"

	cookieAccess  = "access_token"
	cookieRefresh = "refresh_token"
)

var (
	ErrInvalidLogin    = errors.New("invalid email or password")
	ErrRefreshRejected = errors.New("refresh credential rejected")
)

// APIError is a non-success response from the server.
type APIError struct {
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server responded %d", e.Status)
	}
	return fmt.Sprintf("server responded %d: %s (%s)", e.Status, e.Code, e.Description)
}

// Client is a thin API client. Credentials live only in its cookie jar.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient uses a copy of hc as the underlying client. A cookie jar is added when missing.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		cp := *hc
		c.http = &cp
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.http.Timeout = timeout
	}
}

func New(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("[client.New] invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("[client.New] base url %q needs a scheme and host", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("[client.New] cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	return c, nil
}

// URL resolves a path against the base URL.
func (c *Client) URL(path string) string {
	return c.baseURL.String() + path
}

// NewRequest builds a request with an optional JSON body. The body can be replayed.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("[client.NewRequest] encoding body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), reader)
	if err != nil {
		return nil, fmt.Errorf("[client.NewRequest] %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Do sends req as is, without any refresh handling.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

func (c *Client) Register(ctx context.Context, email, password string) (*users.Identity, error) {
	resp, err := c.send(ctx, http.MethodPost, pathAccounts, map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, readAPIError(resp)
	}
	return decodeIdentity(resp)
}

// Login posts the credentials; on success the server sets both credential cookies.
func (c *Client) Login(ctx context.Context, email, password string) (*users.Identity, error) {
	resp, err := c.send(ctx, http.MethodPost, pathSession, map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeIdentity(resp)
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %v", ErrInvalidLogin, readAPIError(resp))
	default:
		return nil, readAPIError(resp)
	}
}

// Refresh asks for a new access credential using the refresh cookie.
func (c *Client) Refresh(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodPost, pathRefresh, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case http.StatusForbidden, http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", ErrRefreshRejected, readAPIError(resp))
	default:
		return readAPIError(resp)
	}
}

func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodDelete, pathSession, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ExpireCookies drops both credential cookies from the jar.
func (c *Client) ExpireCookies() {
	c.http.Jar.SetCookies(c.baseURL, []*http.Cookie{{Name: cookieAccess, Path: "/", MaxAge: -1}})
	c.http.Jar.SetCookies(c.baseURL.JoinPath(pathRefresh), []*http.Cookie{{Name: cookieRefresh, Path: pathRefresh, MaxAge: -1}})
}

// HasCookie reports whether the jar would send the named cookie to path.
func (c *Client) HasCookie(path, name string) bool {
	return len(c.cookies(path, name)) > 0
}

func (c *Client) cookies(path, name string) []*http.Cookie {
	var found []*http.Cookie
	for _, cookie := range c.http.Jar.Cookies(c.baseURL.JoinPath(path)) {
		if cookie.Name == name {
			found = append(found, cookie)
		}
	}
	return found
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[client] %s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeIdentity(resp *http.Response) (*users.Identity, error) {
	var identity users.Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("[client] decoding identity: %w", err)
	}
	return &identity, nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(data, apiErr)
	return apiErr
}

// needsRefresh reports whether resp is the server's expired-access signal.
func needsRefresh(resp *http.Response) bool {
	return resp.StatusCode == http.StatusUnauthorized && resp.Header.Get(headerAuthError) == expiredSignal
}
