package controller

import (
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
)

//go:embed openapi.yaml
var openapiSpec []byte

// GetSwagger loads and validates the embedded OpenAPI document.
func GetSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi: %w", err)
	}
	return doc, nil
}

// RegisterHandlers wires every operation of openapi.yaml. authenticated guards
// routes that need a caller; adminOnly is applied after it.
func RegisterHandlers(e *echo.Echo, c *Controller, authenticated, adminOnly echo.MiddlewareFunc) {
	e.GET("/", c.Health)
	e.GET("/api/ping", c.CheckServer)

	auth := e.Group("/auth")
	auth.POST("/register", c.Register)
	auth.POST("/login", c.Login)
	auth.GET("/refresh", c.Refresh)
	auth.GET("/logout", c.Logout)

	sessions := e.Group("/sessions", authenticated)
	sessions.GET("", c.GetSessions)
	sessions.DELETE("/:id", c.DeleteSession)

	user := e.Group("/user", authenticated)
	user.GET("/my/info", c.GetMyInfo)
	user.DELETE("/:userId", c.DeleteUser, adminOnly)
}
