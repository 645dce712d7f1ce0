package api

import (
	"context"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/rryowa/schoolhub/internal/controller"
	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/service"
)

const headerAllowPrivateNetwork = "Access-Control-Allow-Private-Network"

type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.AccessTokenPayload, error)
}

// AuthMiddleware verifies the access token (bearer header first, then cookie)
// and stores the caller's identity in the echo context.
func AuthMiddleware(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := controller.AccessTokenFromRequest(c.Request())
			payload, err := auth.Authenticate(c.Request().Context(), token)
			if err != nil {
				return err
			}

			c.Set(models.MwTokenKey, token)
			c.Set(models.MwUserIDKey, payload.UserID)
			c.Set(models.MwSessionIDKey, payload.SessionID)
			c.Set(models.MwRoleKey, payload.Role)
			return next(c)
		}
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get(models.MwRoleKey).(models.Role)
			if !slices.Contains(roles, role) {
				return service.ErrForbidden
			}
			return next(c)
		}
	}
}

// PrivateNetworkAccess answers Chrome's private network preflight so a public
// frontend can reach a server on localhost during development.
func PrivateNetworkAccess() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Access-Control-Request-Private-Network") == "true" {
				c.Response().Header().Set(headerAllowPrivateNetwork, "true")
			}
			return next(c)
		}
	}
}

type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

func GetLoggerMiddlewareConfig(a *API) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogError:     true,
		LogLatency:   true,
		LogRequestID: true,
		HandleError:  true,

		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"requestID", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				a.log.Errorw("Request", fields...)
			} else {
				a.log.Infow("Request", fields...)
			}
			return nil
		},
	}
}
