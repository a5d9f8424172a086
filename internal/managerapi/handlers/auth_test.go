package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/aegisrouter/internal/config"
	"github.com/thrillee/aegisrouter/internal/managerapi/handlers/dto"
)

func TestLoginRefusesBadCredentials(t *testing.T) {
	f := newAPIFixture(t)
	f.token = ""

	rec := f.do(t, http.MethodPost, "/login", dto.LoginRequest{Username: adminUser, Password: "nope"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/login", dto.LoginRequest{Username: "other", Password: adminPassword}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/login", map[string]string{"username": adminUser}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/groups", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.token = ""
	rec = f.do(t, http.MethodGet, "/groups", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.token = "not-a-jwt"
	rec = f.do(t, http.MethodGet, "/groups", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health and submit_sm are reachable without the admin token.
	f.token = ""
	rec = f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidateToken(t *testing.T) {
	h := NewAuthHandler(config.ManagerAPIConfig{
		AdminUsername: adminUser, AdminPassword: adminPassword, JWTSecret: "s3cret", TokenTTL: time.Minute,
	})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	sign := func(method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	valid := sign(jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"sub": adminUser, "exp": now.Add(time.Minute).Unix()})
	sub, err := h.Validate(valid)
	require.NoError(t, err)
	assert.Equal(t, adminUser, sub)

	t.Run("expired", func(t *testing.T) {
		tok := sign(jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"sub": adminUser, "exp": now.Add(-time.Minute).Unix()})
		_, err := h.Validate(tok)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
	t.Run("no expiry", func(t *testing.T) {
		tok := sign(jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"sub": adminUser})
		_, err := h.Validate(tok)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
	t.Run("other secret", func(t *testing.T) {
		tok := sign(jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": adminUser, "exp": now.Add(time.Minute).Unix()})
		_, err := h.Validate(tok)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
	t.Run("other subject", func(t *testing.T) {
		tok := sign(jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"sub": "someone", "exp": now.Add(time.Minute).Unix()})
		_, err := h.Validate(tok)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
	t.Run("unsigned", func(t *testing.T) {
		tok := sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": adminUser, "exp": now.Add(time.Minute).Unix()})
		_, err := h.Validate(tok)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}
