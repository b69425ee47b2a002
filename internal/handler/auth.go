package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/apperr"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/service"
	"github.com/iliyamo/account-service/internal/utils"
)

// Cookie names shared with the access-token middleware.
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

// AuthHandler exposes the account endpoints under /api/v1/users.
type AuthHandler struct {
	Svc          *service.AuthService
	CookieSecure bool
	UploadDir    string
}

func NewAuthHandler(svc *service.AuthService, cookieSecure bool, uploadDir string) *AuthHandler {
	return &AuthHandler{Svc: svc, CookieSecure: cookieSecure, UploadDir: uploadDir}
}

// ----- DTOs -----

type registerReq struct {
	FullName string `json:"fullName" form:"fullName"`
	Email    string `json:"email" form:"email" validate:"omitempty,email,max=254"`
	Username string `json:"username" form:"username" validate:"omitempty,max=64"`
	Password string `json:"password" form:"password" validate:"max=72"`
}

type loginReq struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email" validate:"omitempty,email"`
	Password string `json:"password" form:"password" validate:"max=72"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken" form:"refreshToken"`
}

type changePasswordReq struct {
	OldPassword string `json:"oldPassword" form:"oldPassword"`
	NewPassword string `json:"newPassword" form:"newPassword" validate:"max=72"`
}

type loginResp struct {
	User         model.User `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
}

type tokensResp struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Register: multipart form with fullName, email, username, password and
// the avatar (required) and coverImage (optional) files.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	avatar, err := h.stage(c, "avatar")
	if err != nil {
		return err
	}
	cover, err := h.stage(c, "coverImage")
	if err != nil {
		discard(avatar)
		return err
	}
	// the uploader removes what it relays; this catches early rejections
	defer discard(avatar, cover)

	ctx, cancel := h.requestContext(c)
	defer cancel()

	u, err := h.Svc.Register(ctx, service.RegisterInput{
		FullName:       req.FullName,
		Email:          req.Email,
		Username:       req.Username,
		Password:       req.Password,
		AvatarPath:     avatar,
		CoverImagePath: cover,
	})
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, u, "user registered successfully")
}

// Login: username or email plus password; sets both cookies.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	res, err := h.Svc.Login(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		return err
	}
	h.setTokenCookies(c, res.TokenPair)
	return respond(c, http.StatusOK, loginResp{
		User:         res.User,
		AccessToken:  res.Access.Token,
		RefreshToken: res.Refresh.Token,
	}, "user logged in successfully")
}

// Logout: protected; clears the refresh slot and both cookies.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.Svc.Logout(ctx, currentUserID(c)); err != nil {
		return err
	}
	h.clearTokenCookies(c)
	return respond(c, http.StatusOK, nil, "user logged out")
}

// Refresh: the refresh token comes from the cookie or the body.
func (h *AuthHandler) Refresh(c echo.Context) error {
	presented := ""
	if ck, err := c.Cookie(RefreshCookie); err == nil {
		presented = ck.Value
	}
	if presented == "" {
		var req refreshReq
		_ = c.Bind(&req) // a malformed body is the same as no token
		presented = strings.TrimSpace(req.RefreshToken)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	pair, err := h.Svc.Refresh(ctx, presented)
	if err != nil {
		return err
	}
	h.setTokenCookies(c, pair)
	return respond(c, http.StatusOK, tokensResp{
		AccessToken:  pair.Access.Token,
		RefreshToken: pair.Refresh.Token,
	}, "access token refreshed")
}

// ChangePassword: protected; tokens and cookies are left as they are.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.Svc.ChangePassword(ctx, currentUserID(c), req.OldPassword, req.NewPassword); err != nil {
		return err
	}
	return respond(c, http.StatusOK, nil, "password changed successfully")
}

// CurrentUser: protected; returns the caller's redacted profile.
func (h *AuthHandler) CurrentUser(c echo.Context) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	u, err := h.Svc.CurrentUser(ctx, currentUserID(c))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, u, "current user fetched successfully")
}

func (h *AuthHandler) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	ctx := service.WithRemoteIP(c.Request().Context(), c.RealIP())
	return context.WithTimeout(ctx, 5*time.Second)
}

func (h *AuthHandler) setTokenCookies(c echo.Context, pair service.TokenPair) {
	c.SetCookie(h.cookie(AccessCookie, pair.Access, h.Svc.Issuer.AccessTTL()))
	c.SetCookie(h.cookie(RefreshCookie, pair.Refresh, h.Svc.Issuer.RefreshTTL()))
}

func (h *AuthHandler) clearTokenCookies(c echo.Context) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		c.SetCookie(h.cookie(name, utils.SignedToken{}, -1))
	}
}

// cookie builds an HTTP-only auth cookie living for ttl. A negative ttl
// produces a deletion cookie.
func (h *AuthHandler) cookie(name string, tok utils.SignedToken, ttl time.Duration) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    tok.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl / time.Second),
	}
	if ttl < 0 {
		ck.MaxAge = -1
	}
	return ck
}

// stage copies a multipart file into UploadDir and returns its path, or ""
// when the field was not sent.
func (h *AuthHandler) stage(c echo.Context, field string) (string, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Validation(fmt.Sprintf("invalid %s upload", field))
	}
	path, err := saveUpload(fh, h.UploadDir)
	if err != nil {
		return "", apperr.Dependency(err, "could not stage upload")
	}
	return path, nil
}

func saveUpload(fh *multipart.FileHeader, dir string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(fh.Filename)))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return "", err
	}
	return path, dst.Close()
}

func discard(paths ...string) {
	for _, p := range paths {
		if p != "" {
			_ = os.Remove(p)
		}
	}
}

func currentUserID(c echo.Context) string {
	id, _ := c.Get("user_id").(string)
	return id
}
