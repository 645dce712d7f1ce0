package util

import (
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

//nolint:gochecknoglobals // here its ok
var once sync.Once

func init() {
	once.Do(func() {
		if err := godotenv.Load(".env"); err != nil {
			log.Printf("Warning: could not load .env file: %v", err)
		}
	})
}

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	defaultServerAddr      = "localhost:8080"
	defaultWriteTimeout    = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultGracefulTimeout = 5 * time.Second

	defaultAccessTTL     = 15 * time.Minute
	defaultRefreshTTL    = 30 * 24 * time.Hour
	defaultRefreshWindow = 24 * time.Hour

	defaultAppOrigin = "http://localhost:5173"

	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
	AccessCookiePath   = "/"
	RefreshCookiePath  = "/auth/refresh"
)

type ServerConfig struct {
	Env             string
	ServerAddr      string
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
}

func NewServerConfig() *ServerConfig {
	addr := os.Getenv("SERVER_ADDRESS")
	if addr == "" {
		addr = defaultServerAddr
	}

	return &ServerConfig{
		Env:             GetAppEnv(),
		ServerAddr:      addr,
		WriteTimeout:    parseDurationOrDefault("WRITE_TIMEOUT", defaultWriteTimeout),
		ReadTimeout:     parseDurationOrDefault("READ_TIMEOUT", defaultReadTimeout),
		IdleTimeout:     parseDurationOrDefault("IDLE_TIMEOUT", defaultIdleTimeout),
		GracefulTimeout: parseDurationOrDefault("GRACEFUL_TIMEOUT", defaultGracefulTimeout),
	}
}

// TokenConfig carries the per-kind signing secrets and lifetimes.
// RefreshWindow is how close to expiry a session must be before a refresh extends it.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RefreshWindow time.Duration
}

func NewTokenConfig() *TokenConfig {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	refreshSecret := os.Getenv("JWT_REFRESH_SECRET")
	if refreshSecret == "" {
		log.Fatal("JWT_REFRESH_SECRET is not set")
	}
	return &TokenConfig{
		AccessSecret:  []byte(secret),
		RefreshSecret: []byte(refreshSecret),
		AccessTTL:     parseDurationOrDefault("ACCESS_TOKEN_TTL", defaultAccessTTL),
		RefreshTTL:    parseDurationOrDefault("REFRESH_TOKEN_TTL", defaultRefreshTTL),
		RefreshWindow: parseDurationOrDefault("SESSION_REFRESH_WINDOW", defaultRefreshWindow),
	}
}

// CookieConfig is the attribute set shared by every auth cookie write and clear.
type CookieConfig struct {
	Secure     bool
	SameSite   http.SameSite
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// NewCookieConfig picks cookie attributes for env. Anything other than
// development gets the cross-site production attributes.
func NewCookieConfig(env string, tc *TokenConfig) *CookieConfig {
	cfg := &CookieConfig{
		Secure:     true,
		SameSite:   http.SameSiteNoneMode,
		AccessTTL:  tc.AccessTTL,
		RefreshTTL: tc.RefreshTTL,
	}
	if env == EnvDevelopment {
		cfg.Secure = false
		cfg.SameSite = http.SameSiteLaxMode
	}
	return cfg
}

type CORSConfig struct {
	AllowOrigins []string
}

func NewCORSConfig() *CORSConfig {
	raw := os.Getenv("APP_ORIGIN")
	if raw == "" {
		raw = defaultAppOrigin
	}

	origins := make([]string, 0)
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return &CORSConfig{AllowOrigins: origins}
}

func GetAppEnv() string {
	switch env := strings.ToLower(os.Getenv("APP_ENV")); env {
	case "", EnvDevelopment:
		return EnvDevelopment
	default:
		return env
	}
}

func GetWebhookURL() string {
	return os.Getenv("WEBHOOK_URL")
}

// UseMemoryStorage reports whether STORAGE=memory asks for the in-process
// store instead of Postgres. Data does not survive a restart.
func UseMemoryStorage() bool {
	return strings.EqualFold(os.Getenv("STORAGE"), "memory")
}

func GetLogLevel() string {
	return os.Getenv("LOG_LEVEL")
}

func parseDurationOrDefault(varName string, def time.Duration) time.Duration {
	if v := os.Getenv(varName); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration in %s: %s, using default %s", varName, v, def)
	}
	return def
}
