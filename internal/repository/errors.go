// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the auth
// service to distinguish between different failure scenarios without
// depending on a particular storage driver.
package repository

import "errors"

// ErrUserNotFound is returned when no user matches the lookup, including
// lookups by an id that is not a well-formed ObjectID.
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned when a create collides with the unique
// username or email index. The service translates it into a 409.
var ErrUserExists = errors.New("user already exists")
