package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/core"
)

const (
	// ContextKeyIdentity is the context key for storing the local identity.
	ContextKeyIdentity = "identity"
	// ContextKeyDisplayName is the context key for storing the display name.
	ContextKeyDisplayName = "display_name"
	// ContextKeyAvatar is the context key for storing the avatar URL.
	ContextKeyAvatar = "avatar"
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

// SessionMiddleware rejects requests while no user session is active.
func SessionMiddleware(sessions SessionController, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := sessions.Current()
		if err != nil {
			logger.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("no active session")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error(), Code: core.ErrCodeNoSession})
			c.Abort()
			return
		}

		c.Set(ContextKeyIdentity, sess.Identity)
		c.Set(ContextKeyDisplayName, sess.DisplayName)
		c.Set(ContextKeyAvatar, sess.Avatar)

		c.Next()
	}
}

// RateLimitMiddleware rejects requests above limit per minute. A
// non-positive limit disables it.
func RateLimitMiddleware(limiter *rateLimiter, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.allow() {
			logger.Warn().Str("path", c.Request.URL.Path).Msg("rate limit exceeded")
			c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests", Code: core.ErrCodeRateLimited})
			c.Abort()
			return
		}
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
