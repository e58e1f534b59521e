package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/proto"
	"github.com/vovakirdan/wirecall/internal/service/calls"
	"github.com/vovakirdan/wirecall/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// CallHandlers provides HTTP handlers for call control endpoints.
type CallHandlers struct {
	calls   CallController
	history store.HistoryStore
	log     *zerolog.Logger
}

// NewCallHandlers creates a new call handlers instance.
func NewCallHandlers(ctrl CallController, history store.HistoryStore, logger *zerolog.Logger) *CallHandlers {
	return &CallHandlers{
		calls:   ctrl,
		history: history,
		log:     logger,
	}
}

// StartCallRequest represents the request body for placing a call.
type StartCallRequest struct {
	Remote string `json:"remote" binding:"required"`
	Video  bool   `json:"video"`
	// DisplayName and Avatar override what the session token carries.
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}

// CallResponse wraps the call view. A null call means no session.
type CallResponse struct {
	Call *proto.Call `json:"call"`
}

func (h *CallHandlers) writeError(c *gin.Context, err error, msg string) {
	status, perr := errorFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(msg)
	} else {
		h.log.Debug().Err(err).Msg(msg)
	}
	c.JSON(status, ErrorResponse{Error: perr.Msg, Code: perr.Code})
}

// Start places an outgoing call.
// POST /api/call/start
func (h *CallHandlers) Start(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid start call request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	name := req.DisplayName
	if name == "" {
		name = c.GetString(ContextKeyDisplayName)
	}
	avatar := req.Avatar
	if avatar == "" {
		avatar = c.GetString(ContextKeyAvatar)
	}

	view, err := h.calls.StartCall(c.Request.Context(), calls.StartRequest{
		Remote:      req.Remote,
		DisplayName: name,
		Avatar:      avatar,
		IsVideo:     req.Video,
	})
	if err != nil {
		h.writeError(c, err, "failed to start call")
		return
	}

	h.log.Info().Str("call_id", view.ID).Str("remote", view.RemoteIdentity).Msg("call started")
	c.JSON(http.StatusCreated, CallResponse{Call: callToProto(view)})
}

// Answer accepts the ringing call.
// POST /api/call/answer
func (h *CallHandlers) Answer(c *gin.Context) {
	view, err := h.calls.Answer(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "failed to answer call")
		return
	}
	c.JSON(http.StatusOK, CallResponse{Call: callToProto(view)})
}

// End hangs up, rejects, or cancels the current call.
// POST /api/call/end
func (h *CallHandlers) End(c *gin.Context) {
	h.calls.End()
	c.Status(http.StatusNoContent)
}

// Mute toggles the microphone.
// POST /api/call/mute
func (h *CallHandlers) Mute(c *gin.Context) {
	c.JSON(http.StatusOK, CallResponse{Call: callToProto(h.calls.ToggleMute())})
}

// Camera toggles the camera.
// POST /api/call/camera
func (h *CallHandlers) Camera(c *gin.Context) {
	c.JSON(http.StatusOK, CallResponse{Call: callToProto(h.calls.ToggleCamera())})
}

// Get returns the current call.
// GET /api/call
func (h *CallHandlers) Get(c *gin.Context) {
	c.JSON(http.StatusOK, CallResponse{Call: callToProto(h.calls.Call())})
}

// Registration returns the identity registrar state.
// GET /api/registration
func (h *CallHandlers) Registration(c *gin.Context) {
	c.JSON(http.StatusOK, registrationToProto(h.calls.Registration()))
}

// History lists finished calls of the local identity, newest first.
// GET /api/history?limit=N
func (h *CallHandlers) History(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Code: core.ErrCodeBadRequest})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.history.ListCalls(c.Request.Context(), c.GetString(ContextKeyIdentity), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list call history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: core.ErrCodeCallError})
		return
	}

	resp := make([]HistoryResponse, 0, len(records))
	for _, r := range records {
		resp = append(resp, historyToResponse(r))
	}
	c.JSON(http.StatusOK, resp)
}

// HistoryEntry returns one finished call.
// GET /api/history/:id
func (h *CallHandlers) HistoryEntry(c *gin.Context) {
	rec, err := h.history.GetCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "call not found", Code: core.ErrCodeBadRequest})
			return
		}
		h.log.Error().Err(err).Msg("failed to get call record")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: core.ErrCodeCallError})
		return
	}
	if rec.LocalIdentity != c.GetString(ContextKeyIdentity) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "call not found", Code: core.ErrCodeBadRequest})
		return
	}
	c.JSON(http.StatusOK, historyToResponse(rec))
}
