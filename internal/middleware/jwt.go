package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/apperr"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/repository"
	"github.com/iliyamo/account-service/internal/utils"
)

// UserLookup confirms that a token's subject still exists.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (model.User, error)
}

// VerifyJWT authenticates a request with the access token from the
// "accessToken" cookie or an "Authorization: Bearer" header. On success
// the user's id and username are stored under "user_id" and "username".
func VerifyJWT(iss *utils.Issuer, users UserLookup, cookieName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := accessToken(c, cookieName)
			if raw == "" {
				return apperr.Authentication("unauthorized")
			}
			claims, err := iss.ParseAccessToken(raw)
			if err != nil {
				return apperr.Authentication("invalid access token")
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			defer cancel()
			u, err := users.FindByID(ctx, claims.Subject)
			if errors.Is(err, repository.ErrUserNotFound) {
				return apperr.Authentication("invalid access token")
			}
			if err != nil {
				return apperr.Dependency(err, "could not load user")
			}

			c.Set(ctxUserID, u.ID)
			c.Set(ctxUsername, u.Username)
			return next(c)
		}
	}
}

func accessToken(c echo.Context, cookieName string) string {
	if ck, err := c.Cookie(cookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
