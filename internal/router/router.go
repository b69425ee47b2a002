package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/handler"
)

// Deps bundles what the routes need. RateLimit guards the credential
// routes; Auth verifies access tokens on protected ones.
type Deps struct {
	Users     *handler.AuthHandler
	Health    *handler.Health
	Auth      echo.MiddlewareFunc
	RateLimit echo.MiddlewareFunc
}

// RegisterRoutes mounts the health check and the /api/v1/users group.
func RegisterRoutes(e *echo.Echo, d Deps) {
	if d.RateLimit == nil {
		d.RateLimit = passThrough
	}
	e.GET("/healthz", d.Health.Handle)

	g := e.Group("/api/v1/users")
	g.POST("/register", d.Users.Register)
	g.POST("/login", d.Users.Login, d.RateLimit)
	g.POST("/refresh-token", d.Users.Refresh, d.RateLimit)

	g.POST("/logout", d.Users.Logout, d.Auth)
	g.POST("/change-password", d.Users.ChangePassword, d.Auth)
	g.GET("/current-user", d.Users.CurrentUser, d.Auth)
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }
