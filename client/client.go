// Package client is the session manager embedded in applications that talk
// to the API. It keeps one long-lived session alive across many short-lived
// access credentials: it persists the token pair, refreshes proactively
// before expiry, shares a single in-flight refresh between concurrent
// callers, and retries a rejected request exactly once after refreshing.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/taskora/taskora-api/internal/models"
	appErrors "github.com/taskora/taskora-api/pkg/errors"
)

// DefaultRefreshMargin is how close to expiry an access credential may get
// before a proactive refresh is triggered.
const DefaultRefreshMargin = 30 * time.Second

// DefaultTimeout bounds every network call so a hang becomes a regular
// failure instead of blocking the caller indefinitely.
const DefaultTimeout = 15 * time.Second

// ErrSessionExpired signals that the refresh credential itself was rejected.
// All local session state has been cleared; the application should redirect
// to a re-authentication flow.
var ErrSessionExpired = errors.New("session expired, re-authentication required")

// ErrNoSession signals an authorized request without a stored session.
var ErrNoSession = errors.New("no active session")

// APIError is a structured error response from the server.
type APIError struct {
	StatusCode int                    `json:"-"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    []appErrors.FieldError `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRefreshMargin overrides the proactive refresh margin.
func WithRefreshMargin(margin time.Duration) Option {
	return func(c *Client) { c.margin = margin }
}

// WithClock overrides the client clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client manages the current session for a calling application. Safe for
// concurrent use; concurrent refresh attempts collapse into one.
type Client struct {
	baseURL string
	http    *http.Client
	store   TokenStore
	margin  time.Duration
	now     func() time.Time

	refreshGroup singleflight.Group

	// epoch advances on every logout. A refresh that started before the
	// logout observes the bump and discards its result instead of
	// re-persisting a session the caller just terminated.
	mu    sync.Mutex
	epoch uint64
}

// New constructs a Client. Any session previously persisted in the store is
// picked up transparently on the first call.
func New(baseURL string, store TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
		store:   store,
		margin:  DefaultRefreshMargin,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Signup registers a new account and stores the issued session.
func (c *Client) Signup(ctx context.Context, email, pass string) (*models.AccountInfo, error) {
	return c.authenticate(ctx, "/auth/signup", email, pass)
}

// Login authenticates and stores the issued session.
func (c *Client) Login(ctx context.Context, email, pass string) (*models.AccountInfo, error) {
	return c.authenticate(ctx, "/auth/login", email, pass)
}

// Logout revokes the current session server-side and clears local state.
// Local state is cleared even when the revoke call fails, and stays cleared
// even if a refresh was in flight when logout ran: logout is a terminal
// operation.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()

	session, err := c.store.Load()
	if err != nil {
		return err
	}
	defer c.store.Clear() //nolint:errcheck

	if session == nil || session.RefreshToken == "" {
		return nil
	}

	payload := models.LogoutRequest{RefreshToken: session.RefreshToken}
	var out map[string]string
	if err := c.postJSON(ctx, "/auth/logout", payload, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			// Server-side revocation is idempotent; any structured
			// answer means the session is gone either way.
			return nil
		}
		return err
	}
	return nil
}

// CurrentAccount returns the last-known account summary, or nil when no
// session is stored.
func (c *Client) CurrentAccount() *models.AccountInfo {
	session, err := c.store.Load()
	if err != nil || session == nil {
		return nil
	}
	return session.Account
}

// Authenticated reports whether a session is stored locally.
func (c *Client) Authenticated() bool {
	session, err := c.store.Load()
	return err == nil && session != nil && session.RefreshToken != ""
}

// AuthorizedRequest performs an API call with the access credential
// attached. If the stored credential is within the refresh margin of expiry
// it refreshes first; if the server still rejects the credential the client
// refreshes and retries the original call exactly once.
func (c *Client) AuthorizedRequest(ctx context.Context, method, path string, body, out interface{}) error {
	session, err := c.store.Load()
	if err != nil {
		return err
	}
	if session == nil || session.RefreshToken == "" {
		return ErrNoSession
	}

	access := session.AccessToken
	if c.now().Add(c.margin).After(session.AccessExpiry()) {
		access, err = c.refresh(ctx)
		if err != nil {
			return err
		}
	}

	err = c.send(ctx, method, path, access, body, out)
	if !isUnauthenticated(err) {
		return err
	}

	// The server rejected a credential we believed valid; rotate and
	// retry the original call once.
	access, err = c.refresh(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, access, body, out)
}

func (c *Client) authenticate(ctx context.Context, path, email, pass string) (*models.AccountInfo, error) {
	payload := models.LoginRequest{Email: email, Password: pass}
	var res models.TokenPairResponse
	if err := c.postJSON(ctx, path, payload, &res); err != nil {
		return nil, err
	}
	if err := c.saveSession(&res, res.Account); err != nil {
		return nil, err
	}
	return res.Account, nil
}

// refresh exchanges the stored refresh credential for a new pair. Concurrent
// callers share one in-flight exchange: the first caller performs the
// network call, the rest wait on the same result (or bail out when their own
// context ends). This keeps many parallel requests from racing the server's
// single-use rotation. A logout that lands while the exchange is in flight
// wins: the rotated pair is revoked, not saved.
func (c *Client) refresh(ctx context.Context) (string, error) {
	ch := c.refreshGroup.DoChan("refresh", func() (interface{}, error) {
		c.mu.Lock()
		epoch := c.epoch
		c.mu.Unlock()

		session, err := c.store.Load()
		if err != nil {
			return nil, err
		}
		if session == nil || session.RefreshToken == "" {
			return nil, ErrNoSession
		}

		payload := models.RefreshRequest{RefreshToken: session.RefreshToken}
		var res models.TokenPairResponse
		if err := c.postJSON(ctx, "/auth/refresh", payload, &res); err != nil {
			if isUnauthenticated(err) {
				// The refresh credential itself is dead. Every
				// waiter gets the same terminal failure.
				c.store.Clear() //nolint:errcheck
				return nil, ErrSessionExpired
			}
			return nil, err
		}

		c.mu.Lock()
		loggedOut := c.epoch != epoch
		if !loggedOut {
			err = c.saveSession(&res, session.Account)
		}
		c.mu.Unlock()

		if loggedOut {
			// Logout pre-empted this exchange. Revoke the pair the
			// server just rotated to and keep the state cleared.
			payload := models.LogoutRequest{RefreshToken: res.RefreshToken}
			_ = c.postJSON(ctx, "/auth/logout", payload, nil)
			c.store.Clear() //nolint:errcheck
			return nil, ErrSessionExpired
		}
		if err != nil {
			return nil, err
		}
		return res.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-ch:
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(string), nil
	}
}

func (c *Client) saveSession(res *models.TokenPairResponse, account *models.AccountInfo) error {
	return c.store.Save(&Session{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		Account:          account,
		AccessExpiryUnix: res.ExpiresAt.UnixMilli(),
	})
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	return c.send(ctx, http.MethodPost, path, "", body, out)
}

func (c *Client) send(ctx context.Context, method, path, access string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN", Message: resp.Status}
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func isUnauthenticated(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
