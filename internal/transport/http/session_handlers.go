package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/auth"
	"github.com/vovakirdan/wirecall/internal/core"
)

// SessionHandlers expose the identity source over HTTP.
type SessionHandlers struct {
	sessions SessionController
	log      *zerolog.Logger
}

// NewSessionHandlers creates a new session handlers instance.
func NewSessionHandlers(sessions SessionController, logger *zerolog.Logger) *SessionHandlers {
	return &SessionHandlers{
		sessions: sessions,
		log:      logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SessionResponse represents the active user session.
type SessionResponse struct {
	Identity    string `json:"identity"`
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
	ExpiresAt   string `json:"expires_at"`
	// Warning is set when the session is active but registration could
	// not be started.
	Warning string `json:"warning,omitempty"`
}

func sessionToResponse(s *auth.Session) SessionResponse {
	return SessionResponse{
		Identity:    s.Identity,
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Avatar:      s.Avatar,
		ExpiresAt:   s.ExpiresAt.Format(timeLayout),
	}
}

// Activate binds the user of the bearer token as the local identity.
// PUT /api/session
func (h *SessionHandlers) Activate(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		h.log.Debug().Msg("missing or malformed authorization header")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header", Code: core.ErrCodeUnauthorized})
		return
	}

	sess, err := h.sessions.Activate(c.Request.Context(), token)
	if err != nil {
		if sess == nil || errors.Is(err, auth.ErrInvalidToken) {
			status, perr := errorFor(err)
			h.log.Debug().Err(err).Msg("session activation rejected")
			c.JSON(status, ErrorResponse{Error: perr.Msg, Code: perr.Code})
			return
		}
		h.log.Warn().Err(err).Str("identity", sess.Identity).Msg("session active, registration failed")
		resp := sessionToResponse(sess)
		resp.Warning = err.Error()
		c.JSON(http.StatusAccepted, resp)
		return
	}

	h.log.Info().Str("identity", sess.Identity).Msg("session activated")
	c.JSON(http.StatusOK, sessionToResponse(sess))
}

// Deactivate ends the user session.
// DELETE /api/session
func (h *SessionHandlers) Deactivate(c *gin.Context) {
	h.sessions.Deactivate()
	c.Status(http.StatusNoContent)
}

// Get returns the active user session.
// GET /api/session
func (h *SessionHandlers) Get(c *gin.Context) {
	sess, err := h.sessions.Current()
	if err != nil {
		status, perr := errorFor(err)
		c.JSON(status, ErrorResponse{Error: perr.Msg, Code: perr.Code})
		return
	}
	c.JSON(http.StatusOK, sessionToResponse(sess))
}
