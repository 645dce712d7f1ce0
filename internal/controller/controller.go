package controller

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/service"
	"github.com/rryowa/schoolhub/internal/util"
)

type ErrorResponse struct {
	Reason string `json:"reason"`
}

type Controller struct {
	zapLogger   *zap.SugaredLogger
	authService *service.AuthService
	cookies     *CookieTransport
}

func NewController(logger *zap.SugaredLogger, authService *service.AuthService, cookies *CookieTransport) *Controller {
	return &Controller{
		zapLogger:   logger,
		authService: authService,
		cookies:     cookies,
	}
}

// (GET /).
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "health OK!"})
}

// (GET /api/ping).
func (c *Controller) CheckServer(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, "ok")
}

// (POST /auth/register).
func (c *Controller) Register(ctx echo.Context) error {
	var req models.RegisterRequest
	if err := ctx.Bind(&req); err != nil {
		return util.BadRequest("Invalid request body")
	}
	if err := ctx.Validate(&req); err != nil {
		return util.BadRequest("Invalid registration data")
	}

	res, err := c.authService.Register(ctx.Request().Context(), req, ctx.Request().UserAgent())
	if err != nil {
		return err
	}

	c.cookies.SetAuthCookies(ctx, res.AccessToken, res.RefreshToken)
	return ctx.JSON(http.StatusCreated, models.RegisterResponse{UserID: res.User.ID, Role: res.User.Role})
}

// (POST /auth/login).
// Malformed input gets the same answer as a wrong password.
func (c *Controller) Login(ctx echo.Context) error {
	var req models.LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return service.ErrInvalidCredentials
	}
	if err := ctx.Validate(&req); err != nil {
		return service.ErrInvalidCredentials
	}

	res, err := c.authService.Login(ctx.Request().Context(), req.Email, req.Password, ctx.Request().UserAgent())
	if err != nil {
		return err
	}

	c.cookies.SetAuthCookies(ctx, res.AccessToken, res.RefreshToken)
	return ctx.JSON(http.StatusOK, models.MessageResponse{Message: "Login successful"})
}

// (GET /auth/refresh).
func (c *Controller) Refresh(ctx echo.Context) error {
	var token string
	if ck, err := ctx.Cookie(util.RefreshTokenCookie); err == nil {
		token = ck.Value
	}

	res, err := c.authService.Refresh(ctx.Request().Context(), token)
	if err != nil {
		return err
	}

	if res.RefreshToken != "" {
		c.cookies.SetRefreshCookie(ctx, res.RefreshToken)
	}
	c.cookies.SetAccessCookie(ctx, res.AccessToken)
	return ctx.JSON(http.StatusOK, models.RefreshResponse{
		Message:     "Access token refreshed",
		AccessToken: res.AccessToken,
	})
}

// (GET /auth/logout).
func (c *Controller) Logout(ctx echo.Context) error {
	err := c.authService.Logout(ctx.Request().Context(), AccessTokenFromRequest(ctx.Request()))
	c.cookies.ClearAuthCookies(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, models.MessageResponse{Message: "Logout successful"})
}

// (GET /sessions).
func (c *Controller) GetSessions(ctx echo.Context) error {
	caller := CallerFrom(ctx)
	sessions, err := c.authService.ListSessions(ctx.Request().Context(), caller.UserID, caller.SessionID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sessions)
}

// (DELETE /sessions/:id).
func (c *Controller) DeleteSession(ctx echo.Context) error {
	caller := CallerFrom(ctx)
	if err := c.authService.RevokeSession(ctx.Request().Context(), caller.UserID, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, models.MessageResponse{Message: "Session removed"})
}

// (GET /user/my/info).
func (c *Controller) GetMyInfo(ctx echo.Context) error {
	user, err := c.authService.GetUser(ctx.Request().Context(), CallerFrom(ctx).UserID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, user)
}

// (DELETE /user/:userId), admin only.
func (c *Controller) DeleteUser(ctx echo.Context) error {
	if err := c.authService.DeleteUser(ctx.Request().Context(), ctx.Param("userId")); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, models.MessageResponse{Message: "User deleted successfully"})
}

// AccessTokenFromRequest prefers a bearer header over the accessToken cookie.
func AccessTokenFromRequest(r *http.Request) string {
	if h := r.Header.Get(echo.HeaderAuthorization); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if ck, err := r.Cookie(util.AccessTokenCookie); err == nil {
		return ck.Value
	}
	return ""
}

// CallerFrom reads the identity the auth middleware stored on ctx.
func CallerFrom(ctx echo.Context) models.AccessTokenPayload {
	var p models.AccessTokenPayload
	p.UserID, _ = ctx.Get(models.MwUserIDKey).(string)
	p.SessionID, _ = ctx.Get(models.MwSessionIDKey).(string)
	p.Role, _ = ctx.Get(models.MwRoleKey).(models.Role)
	return p
}
