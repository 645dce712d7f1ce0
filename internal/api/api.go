package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	middleware "github.com/oapi-codegen/echo-middleware"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rryowa/schoolhub/internal/controller"
	"github.com/rryowa/schoolhub/internal/metrics"
	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/util"
)

const (
	shutdownTimeout = 5 * time.Second
	corsMaxAge      = 600
)

type API struct {
	server          *echo.Echo
	log             *zap.SugaredLogger
	gracefulTimeout time.Duration
	cleanupFuncs    []func()
}

// NewAPI builds the echo server with every middleware and route in place.
// cleanupFuncs run after the server has shut down.
func NewAPI(
	c *controller.Controller,
	auth Authenticator,
	m *metrics.Metrics,
	sc *util.ServerConfig,
	cc *util.CORSConfig,
	l *zap.SugaredLogger,
	cleanupFuncs []func(),
) (*API, error) {
	swagger, err := controller.GetSwagger()
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI specification: %w", err)
	}
	// host is not checked, the server may sit behind any proxy
	swagger.Servers = nil

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.Addr = sc.ServerAddr
	e.Server.WriteTimeout = sc.WriteTimeout
	e.Server.ReadTimeout = sc.ReadTimeout
	e.Server.IdleTimeout = sc.IdleTimeout
	e.Validator = NewRequestValidator()
	e.HTTPErrorHandler = ErrorHandler(l)

	a := &API{
		server:          e,
		log:             l,
		gracefulTimeout: sc.GracefulTimeout,
		cleanupFuncs:    cleanupFuncs,
	}

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: func() string { return ulid.Make().String() },
	}))
	e.Use(echomiddleware.RequestLoggerWithConfig(GetLoggerMiddlewareConfig(a)))
	e.Use(PrivateNetworkAccess())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cc.AllowOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
		MaxAge:           corsMaxAge,
	}))
	e.Use(middleware.OapiRequestValidator(swagger))

	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	controller.RegisterHandlers(e, c, AuthMiddleware(auth), RequireRole(models.RoleAdmin))

	return a, nil
}

// Handler exposes the router for in-process servers.
func (a *API) Handler() http.Handler {
	return a.server
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives.
func (a *API) Run(ctxBackground context.Context) {
	ctx, stop := signal.NotifyContext(ctxBackground, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.ListenGracefulShutdown(ctx)
}

func (a *API) ListenGracefulShutdown(ctx context.Context) {
	go func() {
		err := a.server.Start(a.server.Server.Addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()
	a.log.Infof("Listening on: %s", a.server.Server.Addr)

	<-ctx.Done()
	a.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.Errorf("shutdown: %v", err)
		}
		for _, cleanup := range a.cleanupFuncs {
			cleanup()
		}
	}()

	select {
	case <-done:
		a.log.Info("server shutdown completed")
	case <-time.After(a.gracefulTimeout):
		a.log.Warnf("graceful timeout %s exceeded, exiting", a.gracefulTimeout)
	}
}
