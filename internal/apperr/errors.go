// Package apperr defines the error kinds surfaced by the account service.
// Each constructor returns a categorised *goerrors.Error carrying the HTTP
// status the boundary should answer with, so handlers never need to inspect
// messages to pick a status code.
package apperr

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// TextCodeConfiguration tags errors raised while validating start-up config.
const TextCodeConfiguration = "CONFIGURATION"

// Validation reports missing or malformed input.
func Validation(msg string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryValidation).WithCode(goerrors.CodeBadRequest)
}

// NotFound reports an absent identity.
func NotFound(msg string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryNotFound).WithCode(goerrors.CodeNotFound)
}

// Conflict reports a uniqueness violation on registration.
func Conflict(msg string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryConflict).WithCode(goerrors.CodeConflict)
}

// Authentication reports bad credentials or a bad, expired, reused or
// missing token.
func Authentication(msg string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryAuth).WithCode(goerrors.CodeUnauthorized)
}

// Configuration reports a fatal start-up problem such as a missing signing
// secret. It is never produced per request.
func Configuration(msg string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryInternal).
		WithCode(goerrors.CodeInternal).
		WithTextCode(TextCodeConfiguration)
}

// Dependency wraps a profile-store, session-store or uploader failure. The
// source error is kept for logging; the message is what callers see.
func Dependency(err error, msg string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, msg).WithCode(goerrors.CodeInternal)
}

// Status returns the HTTP status and client-safe message for err. Errors
// that are not categorised, and dependency or internal failures, collapse to
// a generic 500 so no internal detail leaks.
func Status(err error) (int, string) {
	var e *goerrors.Error
	if !goerrors.As(err, &e) {
		return http.StatusInternalServerError, "internal server error"
	}
	switch e.Category {
	case goerrors.CategoryExternal, goerrors.CategoryInternal:
		return http.StatusInternalServerError, "internal server error"
	}
	code := e.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}
	return code, e.Message
}

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool { return goerrors.IsAuth(err) }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return goerrors.IsValidation(err) }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return goerrors.IsNotFound(err) }

// IsConflict reports whether err is a conflict failure.
func IsConflict(err error) bool { return goerrors.IsCategory(err, goerrors.CategoryConflict) }

// IsConfiguration reports whether err is a configuration failure.
func IsConfiguration(err error) bool {
	var e *goerrors.Error
	return goerrors.As(err, &e) && e.TextCode == TextCodeConfiguration
}
