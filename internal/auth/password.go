package auth

import (
	"errors"
	"fmt"

	"github.com/d9705996/schoolhub/internal/apperror"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when an account does not exist so that
// unknown and known emails cost the same.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("schoolhub-dummy-password"), bcrypt.DefaultCost)

// MinPasswordLength is enforced at signup.
const MinPasswordLength = 8

// HashPassword returns the bcrypt hash of password. Passwords outside the
// accepted length are a ValidationError.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", apperror.Validation("password must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperror.Validation("password is too long")
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash. An empty hash
// never matches, but still spends the comparison time.
func VerifyPassword(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
