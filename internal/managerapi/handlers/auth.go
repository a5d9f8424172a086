package handlers

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/thrillee/aegisrouter/internal/config"
	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/managerapi/handlers/dto"
)

var ErrTokenInvalid = errors.New("invalid or expired token")

// AuthHandler issues admin tokens and guards the admin routes with them.
type AuthHandler struct {
	username string
	password string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewAuthHandler(cfg config.ManagerAPIConfig) *AuthHandler {
	if cfg.JWTSecret == "" {
		panic("JWT secret cannot be empty for AuthHandler")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthHandler{
		username: cfg.AdminUsername,
		password: cfg.AdminPassword,
		secret:   []byte(cfg.JWTSecret),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Login handles POST /login
func (h *AuthHandler) Login(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "Login")

	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.username)) == 1
	passOK := h.password != "" && subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) == 1
	if !userOK || !passOK {
		slog.WarnContext(logCtx, "Admin login refused", slog.String("username", req.Username))
		respondFailure(c, http.StatusForbidden, "Authentication failure")
		return
	}

	now := h.now()
	expiresAt := now.Add(h.ttl)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": h.username,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}).SignedString(h.secret)
	if err != nil {
		slog.ErrorContext(logCtx, "Failed to sign admin token", slog.Any("error", err))
		respondFailure(c, http.StatusInternalServerError, "token generation error")
		return
	}

	slog.InfoContext(logCtx, "Admin logged in", slog.String("username", h.username))
	respondOK(c, http.StatusOK, dto.LoginResponse{Token: token, ExpiresAt: expiresAt.Unix()})
}

// Validate returns the subject of a valid token.
func (h *AuthHandler) Validate(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return h.secret, nil
	}, jwt.WithTimeFunc(h.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub != h.username {
		return "", ErrTokenInvalid
	}
	return sub, nil
}

// Middleware rejects requests without a valid "Authorization: Bearer" token.
func (h *AuthHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.Response{Reason: "missing bearer token"})
			return
		}
		if _, err := h.Validate(tokenString); err != nil {
			slog.WarnContext(c.Request.Context(), "Rejected admin token", slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.Response{Reason: ErrTokenInvalid.Error()})
			return
		}
		c.Next()
	}
}
