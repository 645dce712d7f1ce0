// Package client is the browser-side half of the auth protocol: an HTTP client
// that keeps the auth cookies in a jar and, when a request comes back 401,
// refreshes the access token once for all concurrent callers and replays them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/util"
)

const (
	DefaultLoginPath    = "/auth/login"
	DefaultRegisterPath = "/auth/register"
	DefaultRefreshPath  = "/auth/refresh"
	DefaultLogoutPath   = "/auth/logout"

	defaultRefreshTimeout = 10 * time.Second
	refreshFlightKey      = "refresh"
)

var (
	// ErrInvalidCredentials is returned for a 401 from the login endpoint.
	// It never starts a refresh.
	ErrInvalidCredentials = errors.New("client: invalid email or password")
	// ErrUnauthorized is returned when a replayed request is rejected again.
	ErrUnauthorized = errors.New("client: unauthorized")
	// ErrRefreshFailed is returned to every request waiting on a failed refresh.
	ErrRefreshFailed = errors.New("client: session refresh failed")
)

type Option func(*Client)

// WithHTTPClient uses a copy of hc. A cookie jar is added when hc has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		c.hc = &cp
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) { c.log = log }
}

func WithLoginPath(path string) Option {
	return func(c *Client) { c.loginPath = path }
}

func WithRefreshPath(path string) Option {
	return func(c *Client) { c.refreshPath = path }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.refreshTimeout = d }
}

// OnAuthFailure registers fn to run once per failed refresh, typically to
// send the user back to the login screen.
func OnAuthFailure(fn func(error)) Option {
	return func(c *Client) { c.onAuthFailure = fn }
}

type Client struct {
	baseURL        *url.URL
	hc             *http.Client
	log            *zap.SugaredLogger
	loginPath      string
	refreshPath    string
	refreshTimeout time.Duration
	onAuthFailure  func(error)

	flight singleflight.Group

	// generation moves on every refresh outcome and every login or logout.
	mu          sync.RWMutex
	accessToken string
	refreshErr  error
	generation  uint64
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	c := &Client{
		baseURL:        u,
		hc:             &http.Client{},
		log:            zap.NewNop().Sugar(),
		loginPath:      DefaultLoginPath,
		refreshPath:    DefaultRefreshPath,
		refreshTimeout: defaultRefreshTimeout,
		onAuthFailure:  func(error) {},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		c.hc.Jar = jar
	}
	return c, nil
}

// NewRequest builds a request against the base URL. A non-nil body is sent as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req. A 401 from any endpoint other than login or refresh joins the
// shared refresh and the request is replayed once with the new access token.
// The caller owns the returned response body.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	if err := rewindable(req); err != nil {
		return nil, err
	}

	sentGen := c.authorize(req)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)

	switch c.relativePath(req.URL) {
	case c.loginPath:
		return nil, ErrInvalidCredentials
	case c.refreshPath:
		return nil, ErrUnauthorized
	}

	token, err := c.tokenAfter(ctx, sentGen)
	if err != nil {
		return nil, err
	}

	retry, err := replay(ctx, req, token)
	if err != nil {
		return nil, err
	}
	resp, err = c.hc.Do(retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		c.log.Debugw("replayed request rejected", "path", req.URL.Path)
		return nil, ErrUnauthorized
	}
	return resp, nil
}

// tokenAfter returns an access token newer than generation sentGen, running
// or joining a refresh when nothing has happened since the request was sent.
func (c *Client) tokenAfter(ctx context.Context, sentGen uint64) (string, error) {
	if token, ok, err := c.outcomeAfter(sentGen); ok {
		return token, err
	}

	ch := c.flight.DoChan(refreshFlightKey, func() (interface{}, error) {
		// a flight that ended between the check above and DoChan already
		// answered this request
		if token, ok, err := c.outcomeAfter(sentGen); ok {
			return token, err
		}
		return c.refresh()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// outcomeAfter reports the result of a refresh that finished after generation
// sentGen. ok is false when there is none and a refresh is needed.
func (c *Client) outcomeAfter(sentGen uint64) (token string, ok bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.generation <= sentGen {
		return "", false, nil
	}
	if c.accessToken != "" {
		return c.accessToken, true, nil
	}
	if c.refreshErr != nil {
		return "", true, c.refreshErr
	}
	return "", false, nil
}

// refresh runs detached from any single caller's context: the result is
// shared by everyone attached to the flight.
func (c *Client) refresh() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()

	token, err := c.callRefresh(ctx)
	c.setState(token, err)
	if err != nil {
		c.log.Warnw("session refresh failed", "error", err)
		c.onAuthFailure(err)
		return "", err
	}
	return token, nil
}

func (c *Client) callRefresh(ctx context.Context) (string, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, c.refreshPath, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}

	var body models.RefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.AccessToken != "" {
		return body.AccessToken, nil
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == util.AccessTokenCookie && ck.Value != "" {
			return ck.Value, nil
		}
	}
	return "", fmt.Errorf("%w: no access token in response", ErrRefreshFailed)
}

func (c *Client) setState(token string, refreshErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
	c.refreshErr = refreshErr
	c.generation++
}

// resetToken forgets the refreshed token after login, register or logout.
func (c *Client) resetToken() {
	c.setState("", nil)
}

// relativePath strips the base URL's path prefix so endpoint paths compare
// the same way NewRequest joins them.
func (c *Client) relativePath(u *url.URL) string {
	rel := strings.TrimPrefix(u.Path, c.baseURL.Path)
	if rel == "" {
		return "/"
	}
	return rel
}

// authorize attaches the last refreshed token, if any, and reports the
// generation it belongs to.
func (c *Client) authorize(req *http.Request) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accessToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	return c.generation
}

// Login authenticates with credentials; the server answers with cookies.
func (c *Client) Login(ctx context.Context, email, password string) error {
	req, err := c.NewRequest(ctx, http.MethodPost, c.loginPath, models.LoginRequest{Email: email, Password: password})
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer discard(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}
	c.resetToken()
	return nil
}

func (c *Client) Register(ctx context.Context, r models.RegisterRequest) (*models.RegisterResponse, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, DefaultRegisterPath, r)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("register: unexpected status %d", resp.StatusCode)
	}

	var out models.RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("register: decode response: %w", err)
	}
	c.resetToken()
	return &out, nil
}

// Logout always forgets the local token, even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.resetToken()

	req, err := c.NewRequest(ctx, http.MethodGet, DefaultLogoutPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer discard(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logout: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// rewindable buffers a body that cannot be re-read so the request can be replayed.
func rewindable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return fmt.Errorf("buffer request body: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	req.Body, _ = req.GetBody()
	return nil
}

func replay(ctx context.Context, req *http.Request, token string) (*http.Request, error) {
	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+token)
	return retry, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
