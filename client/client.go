// Package client is the Go SDK for the auth service. It caches the issued
// token pair, attaches the access token to outgoing requests, and rotates the
// refresh token transparently when the access token runs out.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotAuthenticated is returned when an operation needs a session and the
// client has none, including after a failed refresh cleared it.
var ErrNotAuthenticated = errors.New("client: not authenticated")

// APIError carries a non-2xx server response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: server returned %d: %s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type authPayload struct {
	User         *User  `json:"user"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type profilePayload struct {
	User *User `json:"user"`
}

// Client talks to one auth service instance. It is safe for concurrent use;
// concurrent refresh attempts collapse into a single request.
type Client struct {
	baseURL         string
	httpc           *http.Client
	store           Store
	lead            time.Duration
	refreshInterval time.Duration

	// refreshMu serializes refresh flights. mu guards the fields below and
	// is never held across a network call.
	refreshMu sync.Mutex
	mu        sync.Mutex
	session   *Session
	// generation increments on logout so refresh flights that were already
	// in progress cannot resurrect the discarded session.
	generation uint64
	deviceID   string

	cancelAutoRefresh context.CancelFunc
	wg                sync.WaitGroup
}

type Option func(*Client)

func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithStore sets the persistence backend. The default keeps state in memory
// only; pass NewFileStore to survive restarts.
func WithStore(store Store) Option {
	return func(c *Client) { c.store = store }
}

// WithRefreshLead sets how long before expiry the access token is treated as
// stale and refreshed.
func WithRefreshLead(lead time.Duration) Option {
	return func(c *Client) { c.lead = lead }
}

// WithAutoRefreshInterval sets how often the background refresher checks the
// session. Only relevant after StartAutoRefresh.
func WithAutoRefreshInterval(interval time.Duration) Option {
	return func(c *Client) { c.refreshInterval = interval }
}

// New builds a client and rehydrates any session the store holds. An expired
// cached session is kept: the first request refreshes it on demand.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:         baseURL,
		httpc:           &http.Client{Timeout: 10 * time.Second},
		store:           NewMemoryStore(),
		lead:            30 * time.Second,
		refreshInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	state, err := c.store.Load()
	if err != nil {
		return nil, fmt.Errorf("client: failed to load state: %w", err)
	}

	c.session = state.Session
	c.deviceID = state.DeviceID
	if c.deviceID == "" {
		c.deviceID = uuid.NewString()
		if err := c.store.Save(&State{DeviceID: c.deviceID, Session: c.session}); err != nil {
			return nil, fmt.Errorf("client: failed to save state: %w", err)
		}
	}

	return c, nil
}

// Session returns a copy of the cached session, or nil when logged out.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	copied := *c.session
	return &copied
}

func (c *Client) Register(ctx context.Context, name, email, password string) (*User, error) {
	gen := c.currentGeneration()

	env, status, err := c.post(ctx, "/api/auth/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, &APIError{Status: status, Message: env.Message}
	}

	return c.adoptAuthPayload(gen, env)
}

func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	gen := c.currentGeneration()

	env, status, err := c.post(ctx, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &APIError{Status: status, Message: env.Message}
	}

	return c.adoptAuthPayload(gen, env)
}

// Logout discards the cached session first, then revokes it server side. The
// local session is gone even when the revocation request fails.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.generation++
	state := &State{DeviceID: c.deviceID}
	c.mu.Unlock()

	if err := c.store.Save(state); err != nil {
		return fmt.Errorf("client: failed to save state: %w", err)
	}

	if !session.Refreshable() {
		return nil
	}

	env, status, err := c.post(ctx, "/api/auth/logout", map[string]string{
		"refreshToken": session.RefreshToken,
	}, session.AccessToken)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &APIError{Status: status, Message: env.Message}
	}
	return nil
}

// Refresh redeems the cached refresh token for a new pair. A rejected refresh
// clears the session: the caller has to log in again.
func (c *Client) Refresh(ctx context.Context) error {
	return c.refresh(ctx, "")
}

// refresh funnels every flight through refreshMu. rejected carries the access
// token a server just answered 401 for: such a flight skips the local
// freshness check, since a locally-fresh token can still be dead server side.
func (c *Client) refresh(ctx context.Context, rejected string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	session := c.session
	gen := c.generation
	c.mu.Unlock()

	// Another flight may have refreshed while this one waited on the lock.
	if rejected == "" && session.Usable(time.Now(), c.lead) {
		return nil
	}
	if rejected != "" && session != nil && session.AccessToken != rejected {
		return nil
	}
	if !session.Refreshable() {
		return ErrNotAuthenticated
	}

	env, status, err := c.post(ctx, "/api/auth/refresh", map[string]string{
		"refreshToken": session.RefreshToken,
	}, "")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		if status == http.StatusUnauthorized {
			_ = c.setSession(gen, nil)
		}
		return &APIError{Status: status, Message: env.Message}
	}

	var payload authPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("client: failed to decode refresh response: %w", err)
	}

	return c.setSession(gen, &Session{
		AccessToken:  payload.Token,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
		User:         session.User,
	})
}

func (c *Client) Profile(ctx context.Context) (*User, error) {
	env, err := c.doAuthed(ctx, http.MethodGet, "/api/auth/profile", nil)
	if err != nil {
		return nil, err
	}

	var payload profilePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("client: failed to decode profile response: %w", err)
	}
	return payload.User, nil
}

func (c *Client) UpdateProfile(ctx context.Context, name, email string) (*User, error) {
	env, err := c.doAuthed(ctx, http.MethodPut, "/api/auth/profile", map[string]string{
		"name":  name,
		"email": email,
	})
	if err != nil {
		return nil, err
	}

	var payload profilePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("client: failed to decode profile response: %w", err)
	}
	return payload.User, nil
}

// ChangePassword changes the password of the logged-in user. The server
// revokes every session on success, so the local session is cleared and the
// caller has to log in again.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	gen := c.currentGeneration()

	_, err := c.doAuthed(ctx, http.MethodPut, "/api/auth/password", map[string]string{
		"oldPassword": oldPassword,
		"newPassword": newPassword,
	})
	if err != nil {
		return err
	}
	return c.setSession(gen, nil)
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	env, status, err := c.post(ctx, "/api/auth/reset-password", map[string]string{"email": email}, "")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &APIError{Status: status, Message: env.Message}
	}
	return nil
}

func (c *Client) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	env, status, err := c.post(ctx, "/api/auth/reset-password/"+rawToken, map[string]string{"password": newPassword}, "")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &APIError{Status: status, Message: env.Message}
	}
	return nil
}

// StartAutoRefresh keeps the cached access token fresh in the background so
// requests rarely pay the refresh round trip. Stop it with Close.
func (c *Client) StartAutoRefresh() {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.cancelAutoRefresh != nil {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancelAutoRefresh = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				session := c.session
				c.mu.Unlock()

				if !session.Refreshable() || session.Usable(time.Now(), c.lead) {
					continue
				}

				refreshCtx, cancelRefresh := context.WithTimeout(ctx, 10*time.Second)
				_ = c.Refresh(refreshCtx)
				cancelRefresh()
			}
		}
	}()
}

// Close stops the background refresher. It does not log out.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancelAutoRefresh
	c.cancelAutoRefresh = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

// doAuthed performs an authenticated request, refreshing the access token up
// front when it is stale and retrying exactly once if the server still
// answers 401.
func (c *Client) doAuthed(ctx context.Context, method, path string, body any) (*envelope, error) {
	accessToken, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	env, status, err := c.request(ctx, method, path, body, accessToken)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		if err := c.refresh(ctx, accessToken); err != nil {
			return nil, err
		}
		accessToken, err = c.bearer(ctx)
		if err != nil {
			return nil, err
		}
		env, status, err = c.request(ctx, method, path, body, accessToken)
		if err != nil {
			return nil, err
		}
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, &APIError{Status: status, Message: env.Message}
	}
	return env, nil
}

// bearer returns a usable access token, refreshing first when needed.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return "", ErrNotAuthenticated
	}

	if !session.Usable(time.Now(), c.lead) {
		if err := c.Refresh(ctx); err != nil {
			return "", err
		}
		c.mu.Lock()
		session = c.session
		c.mu.Unlock()
		if session == nil {
			return "", ErrNotAuthenticated
		}
	}

	return session.AccessToken, nil
}

func (c *Client) adoptAuthPayload(gen uint64, env *envelope) (*User, error) {
	var payload authPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("client: failed to decode auth response: %w", err)
	}

	err := c.setSession(gen, &Session{
		AccessToken:  payload.Token,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
		User:         payload.User,
	})
	if err != nil {
		return nil, err
	}
	return payload.User, nil
}

// setSession installs the session unless a logout bumped the generation while
// the request was in flight, in which case the result is discarded.
func (c *Client) setSession(gen uint64, session *Session) error {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return nil
	}
	c.session = session
	state := &State{DeviceID: c.deviceID, Session: session}
	c.mu.Unlock()

	if err := c.store.Save(state); err != nil {
		return fmt.Errorf("client: failed to save state: %w", err)
	}
	return nil
}

func (c *Client) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Client) post(ctx context.Context, path string, body any, accessToken string) (*envelope, int, error) {
	env, status, err := c.request(ctx, http.MethodPost, path, body, accessToken)
	return env, status, err
}

func (c *Client) request(ctx context.Context, method, path string, body any, accessToken string) (*envelope, int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Id", c.deviceID)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("client: failed to decode response: %w", err)
	}
	return &env, resp.StatusCode, nil
}
