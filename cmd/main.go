package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rryowa/schoolhub/internal/api"
	"github.com/rryowa/schoolhub/internal/controller"
	"github.com/rryowa/schoolhub/internal/metrics"
	"github.com/rryowa/schoolhub/internal/migrations"
	"github.com/rryowa/schoolhub/internal/service"
	"github.com/rryowa/schoolhub/internal/storage"
	"github.com/rryowa/schoolhub/internal/storage/memory"
	"github.com/rryowa/schoolhub/internal/storage/postgres"
	redisstorage "github.com/rryowa/schoolhub/internal/storage/redis"
	"github.com/rryowa/schoolhub/internal/util"
)

func main() {
	ctx := context.Background()
	logger := util.NewZapLogger(util.GetLogLevel())
	defer logger.Sync() //nolint:errcheck // stdout sync errors are not actionable

	serverConfig := util.NewServerConfig()
	tokenConfig := util.NewTokenConfig()
	clock := util.SystemClock{}

	var (
		store        storage.Storage
		cleanupFuncs []func()
	)
	if util.UseMemoryStorage() {
		logger.Warn("STORAGE=memory: users and sessions are lost on restart")
		store = memory.NewStorage(logger)
	} else {
		db, dbCleanup, err := util.NewDBConnection(logger, util.NewDBConfig())
		if err != nil {
			logger.Fatal(zap.Error(err))
		}
		cleanupFuncs = append(cleanupFuncs, dbCleanup)
		if err := migrations.RunMigrations(db, logger); err != nil {
			logger.Fatal(zap.Error(err))
		}
		store = postgres.NewStorage(db)
	}

	redisClient, redisCleanup, err := util.NewRedisClient(logger, util.NewRedisConfig())
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	cleanupFuncs = append(cleanupFuncs, redisCleanup)

	appMetrics := metrics.New()
	authService := newAuthService(store, redisClient, tokenConfig, clock, appMetrics, logger)

	cookies := controller.NewCookieTransport(util.NewCookieConfig(serverConfig.Env, tokenConfig), clock)
	ctrl := controller.NewController(logger, authService, cookies)

	apiServer, err := api.NewAPI(
		ctrl,
		authService,
		appMetrics,
		serverConfig,
		util.NewCORSConfig(),
		logger,
		cleanupFuncs,
	)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	logger.Infow("starting", "env", serverConfig.Env)
	apiServer.Run(ctx)
}

func newAuthService(
	store storage.Storage,
	redisClient *redis.Client,
	tokenConfig *util.TokenConfig,
	clock util.Clock,
	m *metrics.Metrics,
	logger *zap.SugaredLogger,
) *service.AuthService {
	tokenService := service.NewTokenService(tokenConfig, clock)
	sessionStore := service.NewSessionStore(store, tokenConfig, clock)
	webhookService := service.NewWebhookService(logger, util.GetWebhookURL())

	return service.NewAuthService(
		tokenService,
		sessionStore,
		store,
		redisstorage.NewTokenStorage(redisClient),
		webhookService,
		m,
		logger,
	)
}
