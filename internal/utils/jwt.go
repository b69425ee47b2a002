package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/sha256" // SHA-256 digest of refresh tokens
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/account-service/internal/apperr"
	"github.com/iliyamo/account-service/internal/model"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// ErrInvalidToken is returned for every token that fails verification:
// malformed, tampered, expired, wrong algorithm or wrong token type.
var ErrInvalidToken = errors.New("invalid or expired token")

// SignedToken is a serialized JWT along with its expiry.
type SignedToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// AccessClaims are embedded in access tokens. Subject holds the user id.
type AccessClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims are embedded in refresh tokens. Only the user id is carried.
type RefreshClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// IssuerConfig carries signing secrets and lifetimes. Now defaults to
// time.Now when nil.
type IssuerConfig struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
	Now           func() time.Time
}

// Issuer mints and verifies access and refresh tokens. It holds no mutable
// state; the same input and clock always produce verifiable output.
type Issuer struct {
	accessSecret  []byte
	accessTTL     time.Duration
	refreshSecret []byte
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewIssuer validates cfg. A missing secret or a non-positive lifetime is a
// configuration error and must stop the service from starting.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	switch {
	case cfg.AccessSecret == "":
		return nil, apperr.Configuration("access token secret is required")
	case cfg.RefreshSecret == "":
		return nil, apperr.Configuration("refresh token secret is required")
	case cfg.AccessTTL <= 0:
		return nil, apperr.Configuration("access token ttl must be positive")
	case cfg.RefreshTTL <= 0:
		return nil, apperr.Configuration("refresh token ttl must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		accessSecret:  []byte(cfg.AccessSecret),
		accessTTL:     cfg.AccessTTL,
		refreshSecret: []byte(cfg.RefreshSecret),
		refreshTTL:    cfg.RefreshTTL,
		now:           now,
	}, nil
}

// AccessTTL is the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL is the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccessToken builds and signs an HS256 JWT carrying the user's id,
// username and email.
func (i *Issuer) IssueAccessToken(u model.User) (SignedToken, error) {
	now := i.now().UTC()
	exp := now.Add(i.accessTTL)
	claims := AccessClaims{
		Username:         u.Username,
		Email:            u.Email,
		Type:             tokenTypeAccess,
		RegisteredClaims: registered(u.ID, now, exp),
	}
	return sign(claims, i.accessSecret, exp)
}

// IssueRefreshToken builds and signs an HS256 JWT carrying only the user id.
func (i *Issuer) IssueRefreshToken(u model.User) (SignedToken, error) {
	now := i.now().UTC()
	exp := now.Add(i.refreshTTL)
	claims := RefreshClaims{
		Type:             tokenTypeRefresh,
		RegisteredClaims: registered(u.ID, now, exp),
	}
	return sign(claims, i.refreshSecret, exp)
}

// ParseAccessToken verifies raw against the access secret and the clock.
func (i *Issuer) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(raw, claims, i.accessSecret); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeAccess || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseRefreshToken verifies raw against the refresh secret and the clock.
func (i *Issuer) ParseRefreshToken(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(raw, claims, i.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeRefresh || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) parse(raw string, claims jwt.Claims, secret []byte) error {
	if raw == "" {
		return ErrInvalidToken
	}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}

// HashToken returns the SHA-256 hash of the raw token as a hex string. Only
// this digest is persisted by session stores.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func registered(subject string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		// jti keeps two tokens minted in the same second distinct
		ID: uuid.NewString(),
	}
}

func sign(claims jwt.Claims, secret []byte, exp time.Time) (SignedToken, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(secret)
	if err != nil {
		return SignedToken{}, err
	}
	return SignedToken{Token: signed, Exp: exp}, nil
}
