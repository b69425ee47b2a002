package middleware

import "github.com/labstack/echo/v4"

// Context keys set by VerifyJWT.
const (
	ctxUserID   = "user_id"
	ctxUsername = "username"
)

// UserID returns the authenticated user's id, or "anon" on public routes.
func UserID(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
