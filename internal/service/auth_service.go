// Package service holds the auth session manager: registration, login,
// token rotation, logout and password change on top of the profile store,
// the session store and the token issuer.
package service

import (
	"context"       // request-scoped deadlines and the remote IP value
	"crypto/subtle" // constant-time comparison of refresh token digests
	"errors"        // matching repository sentinel errors
	"fmt"           // formatting validation messages
	"strings"       // blank-field checks
	"time"          // event timestamps and session expiry

	"github.com/sirupsen/logrus" // structured logging

	"github.com/iliyamo/account-service/internal/apperr"     // categorised errors mapped to HTTP statuses
	"github.com/iliyamo/account-service/internal/model"      // domain user type
	"github.com/iliyamo/account-service/internal/queue"      // auth event types
	"github.com/iliyamo/account-service/internal/repository" // store sentinel errors
	"github.com/iliyamo/account-service/internal/utils"      // token issuer and password hasher
)

// UserStore is the profile store. Lookups by username or email are
// case-insensitive; a missing user is reported as repository.ErrUserNotFound
// and a duplicate on Create as repository.ErrUserExists.
type UserStore interface {
	FindByUsernameOrEmail(ctx context.Context, username, email string) (model.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	FindByID(ctx context.Context, id string) (model.User, error)
	Create(ctx context.Context, u *model.User) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// SessionStore holds the single current refresh-token digest per user.
type SessionStore interface {
	SetRefreshToken(ctx context.Context, userID, tokenHash string, exp time.Time) error
	GetRefreshToken(ctx context.Context, userID string) (string, error)
	ClearRefreshToken(ctx context.Context, userID string) error
}

// Uploader relays a staged local file to durable storage.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// EventPublisher delivers auth events. Implementations must not block on
// the network: Publish is called inline by every operation.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.AuthEvent) error
}

// MaxPasswordBytes is bcrypt's input limit. It is measured in bytes, so a
// password of multibyte characters reaches it with fewer than 72 runes.
const MaxPasswordBytes = 72

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	Access  utils.SignedToken
	Refresh utils.SignedToken
}

// LoginResult is the redacted user together with a fresh token pair.
type LoginResult struct {
	User model.User
	TokenPair
}

// RegisterInput is a registration request after the handler staged the
// uploaded files on local disk.
type RegisterInput struct {
	FullName       string
	Email          string
	Username       string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

// AuthService implements the account and session lifecycle. Each user has
// a single refresh slot in Sessions holding the digest of the one refresh
// token currently accepted; login and refresh overwrite it, logout empties
// it. Events may be nil, in which case nothing is published. Now defaults
// to the wall clock and Log to the standard logrus logger.
type AuthService struct {
	Users    UserStore
	Sessions SessionStore
	Uploader Uploader
	Events   EventPublisher
	Issuer   *utils.Issuer
	Hasher   utils.Hasher
	Log      logrus.FieldLogger
	Now      func() time.Time
}

// Register creates an account. It does not log the user in.
//
// All four text fields are required and the password must fit bcrypt's
// byte limit. Username and email must both be unused. The avatar is
// mandatory and uploaded before the user is created; a failed cover upload
// is logged and the account is created without one. The returned user is
// the stored record, normalised and with its new id.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (model.User, error) {
	for _, v := range []string{in.FullName, in.Email, in.Username, in.Password} {
		if strings.TrimSpace(v) == "" {
			return model.User{}, apperr.Validation("all fields are required")
		}
	}

	if len(in.Password) > MaxPasswordBytes {
		return model.User{}, passwordTooLong()
	}

	taken, err := s.Users.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return model.User{}, apperr.Dependency(err, "could not check existing users")
	}
	if taken {
		return model.User{}, apperr.Conflict("user already exists")
	}

	if in.AvatarPath == "" {
		return model.User{}, apperr.Validation("avatar file is required")
	}
	avatarURL, err := s.Uploader.Upload(ctx, in.AvatarPath)
	if err != nil {
		s.log().WithError(err).Warn("avatar upload failed")
		return model.User{}, apperr.Validation("error while uploading avatar")
	}
	var coverURL string
	if in.CoverImagePath != "" {
		if coverURL, err = s.Uploader.Upload(ctx, in.CoverImagePath); err != nil {
			s.log().WithError(err).Warn("cover image upload failed; continuing without it")
			coverURL = ""
		}
	}

	hash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return model.User{}, apperr.Dependency(err, "could not hash password")
	}
	u := model.User{
		Username:     in.Username,
		Email:        in.Email,
		FullName:     in.FullName,
		Avatar:       avatarURL,
		CoverImage:   coverURL,
		PasswordHash: hash,
	}
	if err := s.Users.Create(ctx, &u); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return model.User{}, apperr.Conflict("user already exists")
		}
		return model.User{}, apperr.Dependency(err, "could not create user")
	}

	s.publish(ctx, queue.EventRegistered, u)
	return u, nil
}

// Login verifies credentials, issues a token pair and makes the new refresh
// token the only valid one for the user. Either username or email
// identifies the user. An unknown user is NotFound and a wrong password is
// an Authentication error; in both cases the session slot is left as is.
func (s *AuthService) Login(ctx context.Context, username, email, password string) (LoginResult, error) {
	if strings.TrimSpace(username) == "" && strings.TrimSpace(email) == "" {
		return LoginResult{}, apperr.Validation("username or email is required")
	}
	if password == "" {
		return LoginResult{}, apperr.Validation("password is required")
	}

	u, err := s.Users.FindByUsernameOrEmail(ctx, username, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return LoginResult{}, apperr.NotFound("user does not exist")
	}
	if err != nil {
		return LoginResult{}, apperr.Dependency(err, "could not load user")
	}
	if !s.Hasher.Verify(u.PasswordHash, password) {
		return LoginResult{}, apperr.Authentication("invalid credentials")
	}

	pair, err := s.issuePair(u)
	if err != nil {
		return LoginResult{}, apperr.Dependency(err, "could not issue tokens")
	}
	if err := s.Sessions.SetRefreshToken(ctx, u.ID, utils.HashToken(pair.Refresh.Token), pair.Refresh.Exp); err != nil {
		return LoginResult{}, apperr.Dependency(err, "could not store session")
	}

	s.publish(ctx, queue.EventLoggedIn, u)
	return LoginResult{User: u, TokenPair: pair}, nil
}

// Logout empties the user's refresh slot. Calling it again is harmless.
// Access tokens already handed out stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.Sessions.ClearRefreshToken(ctx, userID); err != nil {
		return apperr.Dependency(err, "could not clear session")
	}
	s.publish(ctx, queue.EventLoggedOut, model.User{ID: userID})
	return nil
}

// Refresh exchanges a current refresh token for a new pair. The presented
// token stops being valid as soon as the new digest is stored.
//
// The token must verify against the refresh secret and its digest must
// equal the one in the user's slot, so a token that was already rotated
// out or logged out is refused. Store failures are logged and reported to
// the caller as a plain authentication failure.
func (s *AuthService) Refresh(ctx context.Context, presented string) (TokenPair, error) {
	if presented == "" {
		return TokenPair{}, apperr.Authentication("unauthorized")
	}
	claims, err := s.Issuer.ParseRefreshToken(presented)
	if err != nil {
		return TokenPair{}, apperr.Authentication("invalid or expired refresh token")
	}

	invalid := apperr.Authentication("invalid refresh token")
	u, err := s.Users.FindByID(ctx, claims.Subject)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			s.log().WithError(err).WithField("user_id", claims.Subject).Error("refresh: load user failed")
		}
		return TokenPair{}, invalid
	}

	stored, err := s.Sessions.GetRefreshToken(ctx, u.ID)
	if err != nil {
		s.log().WithError(err).WithField("user_id", u.ID).Error("refresh: read session failed")
		return TokenPair{}, invalid
	}
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(utils.HashToken(presented))) != 1 {
		return TokenPair{}, apperr.Authentication("expired or reused refresh token")
	}

	pair, err := s.issuePair(u)
	if err != nil {
		s.log().WithError(err).WithField("user_id", u.ID).Error("refresh: issue tokens failed")
		return TokenPair{}, invalid
	}
	if err := s.Sessions.SetRefreshToken(ctx, u.ID, utils.HashToken(pair.Refresh.Token), pair.Refresh.Exp); err != nil {
		s.log().WithError(err).WithField("user_id", u.ID).Error("refresh: store session failed")
		return TokenPair{}, invalid
	}

	s.publish(ctx, queue.EventTokenRefreshed, u)
	return pair, nil
}

// ChangePassword replaces the password hash after checking the old
// password. Sessions and tokens are left alone.
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	u, err := s.Users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return apperr.NotFound("user does not exist")
	}
	if err != nil {
		return apperr.Dependency(err, "could not load user")
	}
	if !s.Hasher.Verify(u.PasswordHash, oldPassword) {
		return apperr.Authentication("invalid old password")
	}
	if newPassword == "" {
		return apperr.Validation("new password is required")
	}
	if len(newPassword) > MaxPasswordBytes {
		return passwordTooLong()
	}

	hash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return apperr.Dependency(err, "could not hash password")
	}
	if err := s.Users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return apperr.NotFound("user does not exist")
		}
		return apperr.Dependency(err, "could not update password")
	}

	s.publish(ctx, queue.EventPasswordChanged, u)
	return nil
}

// CurrentUser returns the redacted profile of userID. The password hash is
// present on the returned value but is never serialised.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (model.User, error) {
	u, err := s.Users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return model.User{}, apperr.NotFound("user does not exist")
	}
	if err != nil {
		return model.User{}, apperr.Dependency(err, "could not load user")
	}
	return u, nil
}

// issuePair signs a fresh access and refresh token for u.
func (s *AuthService) issuePair(u model.User) (TokenPair, error) {
	access, err := s.Issuer.IssueAccessToken(u)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.Issuer.IssueRefreshToken(u)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

// publish is best effort: a broker failure is logged and never surfaces.
func (s *AuthService) publish(ctx context.Context, typ string, u model.User) {
	if s.Events == nil {
		return
	}
	ev := queue.AuthEvent{
		Type:       typ,
		UserID:     u.ID,
		Username:   u.Username,
		OccurredAt: s.now().UTC(),
		RemoteIP:   RemoteIP(ctx),
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		s.log().WithError(err).WithField("event", typ).Warn("publish auth event failed")
	}
}

// passwordTooLong is the validation error for input bcrypt cannot hash.
func passwordTooLong() error {
	return apperr.Validation(fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AuthService) log() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

type remoteIPKey struct{}

// WithRemoteIP attaches the caller's address so published events carry it.
func WithRemoteIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, remoteIPKey{}, ip)
}

// RemoteIP returns the address stored by WithRemoteIP, or "".
func RemoteIP(ctx context.Context) string {
	ip, _ := ctx.Value(remoteIPKey{}).(string)
	return ip
}
