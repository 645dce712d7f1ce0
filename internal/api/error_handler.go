package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/schoolhub/internal/controller"
	"github.com/rryowa/schoolhub/internal/service"
	"github.com/rryowa/schoolhub/internal/util"
)

const reasonUnauthorized = "unauthorized"

// ErrorHandler answers every token or session failure with the same 401 body,
// so a client cannot tell an expired token from a forged one.
func ErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, reason := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Errorw("unhandled error", "error", err, "uri", c.Request().RequestURI)
		} else if status == http.StatusUnauthorized {
			log.Debugw("unauthorized", "error", err, "uri", c.Request().RequestURI)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, controller.ErrorResponse{Reason: reason})
		}
		if err != nil {
			log.Errorw("failed to write json response", "error", err)
		}
	}
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid email or password"
	case service.IsUnauthorized(err):
		return http.StatusUnauthorized, reasonUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "Access denied"
	}

	if re, ok := util.AsResponseError(err); ok {
		return re.Status, re.Msg
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code == http.StatusInternalServerError {
			return he.Code, "internal server error"
		}
		return he.Code, fmt.Sprint(he.Message)
	}

	return http.StatusInternalServerError, "internal server error"
}
