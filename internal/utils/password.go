package utils

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/account-service/internal/apperr"
)

// DefaultBcryptCost matches the work factor accounts were created with.
const DefaultBcryptCost = 10

// Hasher hashes and verifies passwords with bcrypt at a fixed cost.
// Hash always hashes its input; there is no "already hashed" detection, so
// callers only pass plaintext when a password is being set.
type Hasher struct {
	Cost int
}

// NewHasher validates cost against bcrypt's supported range.
func NewHasher(cost int) (Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return Hasher{}, apperr.Configuration(fmt.Sprintf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	return Hasher{Cost: cost}, nil
}

// Hash returns the bcrypt hash of plain.
func (h Hasher) Hash(plain string) (string, error) {
	return HashPassword(plain, h.Cost)
}

// Verify reports whether plain matches hash.
func (h Hasher) Verify(hash, plain string) bool {
	return VerifyPassword(hash, plain)
}

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
