package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCostFactor = 10
)

var (
	ErrInvalidParam = errors.New("invalid parameter")
	ErrUnknownKey   = errors.New("unknown credential key")

	uidRegex      = regexp.MustCompile(`^[A-Za-z0-9_-]{1,16}$`)
	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,15}$`)
)

// HashPassword generates a bcrypt hash for the given password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: empty password", ErrInvalidParam)
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCostFactor)
	if err != nil {
		slog.Error("Failed to generate bcrypt hash for password", slog.Any("error", err))
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// CheckPasswordHash compares a plaintext password with a stored bcrypt hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			slog.Warn("Error comparing password hash", slog.Any("error", err))
		}
		return false
	}
	return true
}

// ValidateID checks uid/gid syntax.
func ValidateID(kind, id string) error {
	if !uidRegex.MatchString(id) {
		return fmt.Errorf("%w: %s %q syntax is invalid", ErrInvalidParam, kind, id)
	}
	return nil
}
