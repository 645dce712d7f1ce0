// Package apitest runs the full HTTP stack in-process against the memory
// storage, miniredis and a manual clock.
package apitest

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rryowa/schoolhub/internal/api"
	"github.com/rryowa/schoolhub/internal/controller"
	"github.com/rryowa/schoolhub/internal/metrics"
	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/service"
	"github.com/rryowa/schoolhub/internal/storage/memory"
	redisstorage "github.com/rryowa/schoolhub/internal/storage/redis"
	"github.com/rryowa/schoolhub/internal/util"
)

type Env struct {
	Server  *httptest.Server
	Clock   *util.ManualClock
	Store   *memory.InMemoryStorage
	Auth    *service.AuthService
	Metrics *metrics.Metrics
	Redis   *miniredis.Miniredis
	Origin  string
	Cookies *util.CookieConfig
}

// New starts a development-mode server. The clock starts at the real
// current time so cookie jars and token expiry agree until it is advanced.
func New(t *testing.T) *Env {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	log := zap.NewNop().Sugar()
	clock := util.NewManualClock(time.Now())
	tokenCfg := &util.TokenConfig{
		AccessSecret:  []byte("apitest-access-secret"),
		RefreshSecret: []byte("apitest-refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    30 * 24 * time.Hour,
		RefreshWindow: 24 * time.Hour,
	}
	cookieCfg := util.NewCookieConfig(util.EnvDevelopment, tokenCfg)
	origin := "http://localhost:5173"

	store := memory.NewStorage(log)
	m := metrics.New()
	tokens := service.NewTokenService(tokenCfg, clock)
	sessions := service.NewSessionStore(store, tokenCfg, clock)
	authService := service.NewAuthService(
		tokens,
		sessions,
		store,
		redisstorage.NewTokenStorage(rdb),
		service.NewWebhookService(log, ""),
		m,
		log,
		service.WithPasswordCost(bcrypt.MinCost),
	)
	ctrl := controller.NewController(log, authService, controller.NewCookieTransport(cookieCfg, clock))

	a, err := api.NewAPI(
		ctrl,
		authService,
		m,
		&util.ServerConfig{Env: util.EnvDevelopment, GracefulTimeout: time.Second},
		&util.CORSConfig{AllowOrigins: []string{origin}},
		log,
		nil,
	)
	if err != nil {
		t.Fatalf("new api: %v", err)
	}

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		rdb.Close()
		mr.Close()
	})

	return &Env{
		Server:  srv,
		Clock:   clock,
		Store:   store,
		Auth:    authService,
		Metrics: m,
		Redis:   mr,
		Origin:  origin,
		Cookies: cookieCfg,
	}
}

// SeedUser registers a user directly through the service and returns its ID.
func (e *Env) SeedUser(t *testing.T, email, password string, role models.Role) string {
	t.Helper()
	res, err := e.Auth.Register(context.Background(), models.RegisterRequest{
		Email:     email,
		Password:  password,
		FirstName: "Seed",
		LastName:  "User",
		Role:      role,
	}, "seed")
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return res.User.ID
}
