package controller

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rryowa/schoolhub/internal/util"
)

// CookieTransport writes and clears the auth cookie pair. Set and clear share
// one attribute builder: browsers ignore a clear whose path, SameSite or
// Secure differ from the original cookie.
type CookieTransport struct {
	cfg   *util.CookieConfig
	clock util.Clock
}

func NewCookieTransport(cfg *util.CookieConfig, clock util.Clock) *CookieTransport {
	return &CookieTransport{cfg: cfg, clock: clock}
}

func (t *CookieTransport) SetAuthCookies(c echo.Context, accessToken, refreshToken string) {
	t.SetAccessCookie(c, accessToken)
	t.SetRefreshCookie(c, refreshToken)
}

func (t *CookieTransport) SetAccessCookie(c echo.Context, token string) {
	c.SetCookie(t.cookie(util.AccessTokenCookie, util.AccessCookiePath, token, t.cfg.AccessTTL))
}

func (t *CookieTransport) SetRefreshCookie(c echo.Context, token string) {
	c.SetCookie(t.cookie(util.RefreshTokenCookie, util.RefreshCookiePath, token, t.cfg.RefreshTTL))
}

func (t *CookieTransport) ClearAuthCookies(c echo.Context) {
	c.SetCookie(t.expired(util.AccessTokenCookie, util.AccessCookiePath))
	c.SetCookie(t.expired(util.RefreshTokenCookie, util.RefreshCookiePath))
}

func (t *CookieTransport) cookie(name, path, value string, ttl time.Duration) *http.Cookie {
	ck := t.base(name, path)
	ck.Value = value
	ck.Expires = t.clock.Now().Add(ttl)
	ck.MaxAge = int(ttl / time.Second)
	return ck
}

func (t *CookieTransport) expired(name, path string) *http.Cookie {
	ck := t.base(name, path)
	ck.Expires = time.Unix(0, 0).UTC()
	ck.MaxAge = -1
	return ck
}

func (t *CookieTransport) base(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Path:     path,
		HttpOnly: true,
		Secure:   t.cfg.Secure,
		SameSite: t.cfg.SameSite,
	}
}
