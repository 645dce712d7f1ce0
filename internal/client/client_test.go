package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// fakeServer accepts "Bearer fresh" on every path except login and refresh.
// Refresh waits until releaseAfter data requests have arrived, and for gate
// when one is set.
type fakeServer struct {
	t             *testing.T
	prefix        string
	releaseAfter  int32
	gate          chan struct{}
	started       chan struct{}
	refreshStatus int
	alwaysReject  bool

	refreshCalls atomic.Int32
	dataCalls    atomic.Int32
	mu           sync.Mutex
	bodies       []string
}

func (s *fakeServer) roundTrip(r *http.Request) (*http.Response, error) {
	switch strings.TrimPrefix(r.URL.Path, s.prefix) {
	case DefaultLoginPath:
		return respond(http.StatusUnauthorized, `{"reason":"Invalid email or password"}`), nil
	case DefaultRefreshPath:
		s.refreshCalls.Add(1)
		if s.started != nil {
			close(s.started)
		}
		if s.gate != nil {
			select {
			case <-s.gate:
			case <-time.After(5 * time.Second):
				s.t.Errorf("refresh gate never opened")
			}
		}
		deadline := time.Now().Add(5 * time.Second)
		for s.dataCalls.Load() < s.releaseAfter {
			if time.Now().After(deadline) {
				s.t.Errorf("only %d of %d requests arrived before refresh", s.dataCalls.Load(), s.releaseAfter)
				break
			}
			time.Sleep(time.Millisecond)
		}
		if s.refreshStatus != http.StatusOK {
			return respond(s.refreshStatus, `{"reason":"unauthorized"}`), nil
		}
		return respond(http.StatusOK, `{"message":"Access token refreshed","accessToken":"fresh"}`), nil
	default:
		s.dataCalls.Add(1)
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			s.mu.Lock()
			s.bodies = append(s.bodies, string(raw))
			s.mu.Unlock()
		}
		if !s.alwaysReject && r.Header.Get("Authorization") == "Bearer fresh" {
			return respond(http.StatusOK, `{"ok":true}`), nil
		}
		return respond(http.StatusUnauthorized, `{"reason":"unauthorized"}`), nil
	}
}

func newFakeClient(t *testing.T, srv *fakeServer, opts ...Option) *Client {
	t.Helper()
	srv.t = t
	if srv.refreshStatus == 0 {
		srv.refreshStatus = http.StatusOK
	}
	opts = append([]Option{WithHTTPClient(&http.Client{Transport: roundTripFunc(srv.roundTrip)})}, opts...)
	c, err := New("http://school.test"+srv.prefix, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const n = 8
	srv := &fakeServer{releaseAfter: n}
	c := newFakeClient(t, srv)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Get(context.Background(), "/user/my/info")
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs <- errors.New(resp.Status)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("request failed: %v", err)
	}
	if got := srv.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
	if got := srv.dataCalls.Load(); got != 2*n {
		t.Fatalf("expected each request sent twice, got %d calls", got)
	}

	// later requests reuse the refreshed token without another 401
	resp, err := c.Get(context.Background(), "/user/my/info")
	if err != nil {
		t.Fatalf("follow-up request: %v", err)
	}
	resp.Body.Close()
	if got := srv.refreshCalls.Load(); got != 1 {
		t.Fatalf("follow-up request refreshed again: %d", got)
	}
}

func TestDo_RetriedRequestIsNotRetriedAgain(t *testing.T) {
	srv := &fakeServer{alwaysReject: true}
	c := newFakeClient(t, srv)

	req, err := c.NewRequest(context.Background(), http.MethodPost, "/sessions", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	_, err = c.Do(context.Background(), req)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := srv.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls: %d", got)
	}
	if got := srv.dataCalls.Load(); got != 2 {
		t.Fatalf("request sent %d times, want 2", got)
	}
	for _, body := range srv.bodies {
		if body != `{"k":"v"}` {
			t.Fatalf("replayed body %q", body)
		}
	}
}

func TestDo_LoginUnauthorizedNeverRefreshes(t *testing.T) {
	srv := &fakeServer{}
	c := newFakeClient(t, srv)

	err := c.Login(context.Background(), "ada@school.test", "wrong-one")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := srv.refreshCalls.Load(); got != 0 {
		t.Fatalf("login 401 triggered %d refreshes", got)
	}
}

func TestDo_RefreshFailureRejectsEveryWaiter(t *testing.T) {
	const n = 4
	srv := &fakeServer{releaseAfter: n, refreshStatus: http.StatusUnauthorized}
	var failures atomic.Int32
	c := newFakeClient(t, srv, OnAuthFailure(func(err error) {
		if !errors.Is(err, ErrRefreshFailed) {
			t.Errorf("callback got %v", err)
		}
		failures.Add(1)
	}))

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Get(context.Background(), "/sessions")
			if err == nil {
				resp.Body.Close()
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrRefreshFailed) {
			t.Fatalf("expected ErrRefreshFailed, got %v", err)
		}
	}
	if got := srv.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
	if got := failures.Load(); got != 1 {
		t.Fatalf("auth failure callback ran %d times", got)
	}
	if got := srv.dataCalls.Load(); got != n {
		t.Fatalf("failed batch must not be replayed: %d calls", got)
	}
}

func TestDo_CallerCancellationDoesNotAbortSharedRefresh(t *testing.T) {
	srv := &fakeServer{gate: make(chan struct{}), started: make(chan struct{})}
	c := newFakeClient(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "/user/my/info")
		cancelled <- err
	}()
	<-srv.started
	cancel()
	if err := <-cancelled; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		resp, err := c.Get(context.Background(), "/user/my/info")
		if err == nil {
			resp.Body.Close()
		}
		done <- err
	}()
	deadline := time.Now().Add(5 * time.Second)
	for srv.dataCalls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("second request never reached the server")
		}
		time.Sleep(time.Millisecond)
	}
	close(srv.gate)

	if err := <-done; err != nil {
		t.Fatalf("second caller: %v", err)
	}
	if got := srv.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls: %d", got)
	}
}

func TestDo_StaggeredUnauthorizedNeverRefreshTwice(t *testing.T) {
	const (
		batches = 50
		n       = 32
	)
	for batch := 0; batch < batches; batch++ {
		srv := &fakeServer{releaseAfter: 1}
		c := newFakeClient(t, srv)

		var wg sync.WaitGroup
		var failed atomic.Int32
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(delay time.Duration) {
				defer wg.Done()
				time.Sleep(delay)
				resp, err := c.Get(context.Background(), "/sessions")
				if err != nil {
					failed.Add(1)
					return
				}
				resp.Body.Close()
			}(time.Duration(i%8) * 50 * time.Microsecond)
		}
		wg.Wait()

		if got := failed.Load(); got != 0 {
			t.Fatalf("batch %d: %d requests failed", batch, got)
		}
		if got := srv.refreshCalls.Load(); got != 1 {
			t.Fatalf("batch %d: expected one refresh, got %d", batch, got)
		}
	}
}

func TestDo_LoginUnauthorizedUnderPrefixedBaseURL(t *testing.T) {
	srv := &fakeServer{prefix: "/api"}
	var failures atomic.Int32
	c := newFakeClient(t, srv, OnAuthFailure(func(error) { failures.Add(1) }))

	err := c.Login(context.Background(), "ada@school.test", "wrong-one")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := srv.refreshCalls.Load(); got != 0 {
		t.Fatalf("login 401 triggered %d refreshes", got)
	}
	if got := failures.Load(); got != 0 {
		t.Fatalf("auth failure callback ran %d times", got)
	}

	// other endpoints under the prefix still refresh and replay
	resp, err := c.Get(context.Background(), "/user/my/info")
	if err != nil {
		t.Fatalf("prefixed request: %v", err)
	}
	resp.Body.Close()
	if got := srv.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
}
