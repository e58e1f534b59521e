package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/vovakirdan/wirecall/internal/auth"
	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/media"
	"github.com/vovakirdan/wirecall/internal/proto"
	"github.com/vovakirdan/wirecall/internal/service/calls"
	"github.com/vovakirdan/wirecall/internal/store"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

func snapshotToProto(s core.Snapshot) proto.Snapshot {
	return proto.Snapshot{
		Registration: registrationToProto(s.Registration),
		Call:         callToProto(s.Call),
		Seq:          s.Seq,
	}
}

func registrationToProto(r core.RegistrationView) proto.Registration {
	return proto.Registration{
		Identity:     r.Identity,
		State:        string(r.State),
		RetryAttempt: r.RetryAttempt,
	}
}

func callToProto(c *core.CallView) *proto.Call {
	if c == nil {
		return nil
	}
	return &proto.Call{
		ID:              c.ID,
		RemoteIdentity:  c.RemoteIdentity,
		Direction:       string(c.Direction),
		MediaKind:       string(c.MediaKind),
		Status:          string(c.Status),
		HasLocalStream:  c.HasLocalStream,
		HasRemoteStream: c.HasRemoteStream,
		Muted:           c.Muted,
		CameraOff:       c.CameraOff,
		PeerName:        c.Peer.Name,
		PeerAvatar:      c.Peer.Avatar,
	}
}

// HistoryResponse represents a finished call in API responses.
type HistoryResponse struct {
	ID             string  `json:"id"`
	RemoteIdentity string  `json:"remote_identity"`
	Direction      string  `json:"direction"`
	MediaKind      string  `json:"media_kind"`
	PeerName       string  `json:"peer_name"`
	PeerAvatar     string  `json:"peer_avatar,omitempty"`
	EndReason      string  `json:"end_reason"`
	StartedAt      string  `json:"started_at"`
	ConnectedAt    *string `json:"connected_at,omitempty"`
	EndedAt        string  `json:"ended_at"`
	DurationSec    float64 `json:"duration_sec"`
}

func historyToResponse(r *store.CallRecord) HistoryResponse {
	resp := HistoryResponse{
		ID:             r.ID,
		RemoteIdentity: r.RemoteIdentity,
		Direction:      r.Direction,
		MediaKind:      r.MediaKind,
		PeerName:       r.PeerName,
		PeerAvatar:     r.PeerAvatar,
		EndReason:      r.EndReason,
		StartedAt:      r.StartedAt.Format(timeLayout),
		EndedAt:        r.EndedAt.Format(timeLayout),
	}
	if r.ConnectedAt != nil {
		connectedAt := r.ConnectedAt.Format(timeLayout)
		resp.ConnectedAt = &connectedAt
		resp.DurationSec = r.EndedAt.Sub(*r.ConnectedAt).Round(time.Millisecond).Seconds()
	}
	return resp
}

// errorFor maps a service error to an HTTP status and a protocol error.
func errorFor(err error) (int, *proto.Error) {
	switch {
	case errors.Is(err, calls.ErrInvalidRemote):
		return http.StatusBadRequest, &proto.Error{Code: core.ErrCodeBadRequest, Msg: err.Error()}
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "invalid token"}
	case errors.Is(err, auth.ErrNoSession):
		return http.StatusUnauthorized, &proto.Error{Code: core.ErrCodeNoSession, Msg: err.Error()}
	case errors.Is(err, calls.ErrNotRegistered):
		return http.StatusConflict, &proto.Error{Code: core.ErrCodeNotRegistered, Msg: err.Error()}
	case errors.Is(err, calls.ErrCallInProgress):
		return http.StatusConflict, &proto.Error{Code: core.ErrCodeCallInProgress, Msg: err.Error()}
	case errors.Is(err, calls.ErrNoIncomingCall):
		return http.StatusConflict, &proto.Error{Code: core.ErrCodeNoIncomingCall, Msg: err.Error()}
	case errors.Is(err, calls.ErrAnswerInProgress):
		return http.StatusConflict, &proto.Error{Code: core.ErrCodeAnswerInProgress, Msg: err.Error()}
	case errors.Is(err, calls.ErrCallCancelled):
		return http.StatusConflict, &proto.Error{Code: core.ErrCodeCallCancelled, Msg: err.Error()}
	case errors.Is(err, media.ErrPermissionDenied):
		return http.StatusForbidden, &proto.Error{Code: core.ErrCodePermissionDenied, Msg: "media permission denied"}
	case errors.Is(err, media.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable, &proto.Error{Code: core.ErrCodeDeviceUnavailable, Msg: "media device unavailable"}
	default:
		return http.StatusInternalServerError, &proto.Error{Code: core.ErrCodeCallError, Msg: "internal server error"}
	}
}
