package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rryowa/schoolhub/internal/metrics"
	"github.com/rryowa/schoolhub/internal/storage/memory"
	redisstorage "github.com/rryowa/schoolhub/internal/storage/redis"
	"github.com/rryowa/schoolhub/internal/util"
)

var testStart = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

func testTokenConfig() *util.TokenConfig {
	return &util.TokenConfig{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    30 * 24 * time.Hour,
		RefreshWindow: 24 * time.Hour,
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []NewDeviceAlert
}

func (n *recordingNotifier) NotifyNewDevice(_ context.Context, alert NewDeviceAlert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type authTestEnv struct {
	svc      *AuthService
	tokens   *TokenService
	sessions *SessionStore
	store    *memory.InMemoryStorage
	clock    *util.ManualClock
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newAuthTestEnv(t *testing.T) *authTestEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	log := zap.NewNop().Sugar()
	cfg := testTokenConfig()
	clock := util.NewManualClock(testStart)
	store := memory.NewStorage(log)
	tokens := NewTokenService(cfg, clock)
	sessions := NewSessionStore(store, cfg, clock)
	notifier := &recordingNotifier{}
	m := metrics.New()

	svc := NewAuthService(
		tokens,
		sessions,
		store,
		redisstorage.NewTokenStorage(rdb),
		notifier,
		m,
		log,
		WithPasswordCost(bcrypt.MinCost),
	)
	return &authTestEnv{
		svc:      svc,
		tokens:   tokens,
		sessions: sessions,
		store:    store,
		clock:    clock,
		notifier: notifier,
		metrics:  m,
	}
}
