package calls

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/callengine"
	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/media"
	"github.com/vovakirdan/wirecall/internal/store"
)

// Session lifecycle events.
const (
	stateNone = "none"

	eventDial    = "dial"
	eventRing    = "ring"
	eventConnect = "connect"
	eventEnd     = "end"
)

// session is one call. Every field is guarded by Machine.mu except the
// immutable identity fields set at creation.
type session struct {
	id            string
	localIdentity string
	remote        string
	direction     core.Direction
	kind          media.Kind
	peer          core.PeerMetadata
	handle        callengine.Handle
	startedAt     time.Time

	fsm          *fsm.FSM
	local        media.Stream
	remoteStream media.Stream
	answering    bool
	answered     bool
	connectedAt  *time.Time
	done         chan struct{}
}

func newSession(direction core.Direction, localIdentity, remote string, kind media.Kind, peer core.PeerMetadata,
	handle callengine.Handle, now time.Time, logger zerolog.Logger,
) *session {
	s := &session{
		id:            uuid.NewString(),
		localIdentity: localIdentity,
		remote:        remote,
		direction:     direction,
		kind:          kind,
		peer:          peer,
		handle:        handle,
		startedAt:     now,
		done:          make(chan struct{}),
	}
	log := logger.With().Str("call_id", s.id).Str("remote", remote).Logger()
	s.fsm = fsm.NewFSM(
		stateNone,
		fsm.Events{
			{Name: eventDial, Src: []string{stateNone}, Dst: string(core.CallStatusCalling)},
			{Name: eventRing, Src: []string{stateNone}, Dst: string(core.CallStatusRinging)},
			{Name: eventConnect, Src: []string{
				string(core.CallStatusCalling),
				string(core.CallStatusRinging),
			}, Dst: string(core.CallStatusConnected)},
			{Name: eventEnd, Src: []string{
				string(core.CallStatusCalling),
				string(core.CallStatusRinging),
				string(core.CallStatusConnected),
			}, Dst: string(core.CallStatusEnded)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				log.Info().Str("from", e.Src).Str("to", e.Dst).Msg("call state changed")
			},
		},
	)
	return s
}

func (s *session) status() core.CallStatus {
	return core.CallStatus(s.fsm.Current())
}

// fire applies a lifecycle event. It reports whether the state changed.
func (s *session) fire(event string) bool {
	if !s.fsm.Can(event) {
		return false
	}
	return s.fsm.Event(context.Background(), event) == nil
}

// maybeConnect moves the session to connected when both legs are ready: an
// outgoing call needs the remote stream; an incoming one also needs the
// local answer to have completed.
func (s *session) maybeConnect(now time.Time) bool {
	if s.remoteStream == nil {
		return false
	}
	if s.direction == core.DirectionIncoming && !s.answered {
		return false
	}
	if !s.fire(eventConnect) {
		return false
	}
	s.connectedAt = &now
	return true
}

func (s *session) view() *core.CallView {
	v := &core.CallView{
		ID:              s.id,
		RemoteIdentity:  s.remote,
		Direction:       s.direction,
		MediaKind:       s.kind,
		Status:          s.status(),
		HasLocalStream:  s.local != nil,
		HasRemoteStream: s.remoteStream != nil,
		Peer:            s.peer,
		StartedAt:       s.startedAt,
	}
	if s.local != nil {
		v.Muted = len(media.TracksOf(s.local, media.TrackAudio)) > 0 && !media.AllEnabled(s.local, media.TrackAudio)
		v.CameraOff = len(media.TracksOf(s.local, media.TrackVideo)) > 0 && !media.AllEnabled(s.local, media.TrackVideo)
	}
	if s.connectedAt != nil {
		t := *s.connectedAt
		v.ConnectedAt = &t
	}
	return v
}

func (s *session) record(reason core.EndReason, endedAt time.Time) *store.CallRecord {
	rec := &store.CallRecord{
		ID:             s.id,
		LocalIdentity:  s.localIdentity,
		RemoteIdentity: s.remote,
		Direction:      string(s.direction),
		MediaKind:      string(s.kind),
		PeerName:       s.peer.Name,
		PeerAvatar:     s.peer.Avatar,
		EndReason:      string(reason),
		StartedAt:      s.startedAt,
		EndedAt:        endedAt,
	}
	if s.connectedAt != nil {
		t := *s.connectedAt
		rec.ConnectedAt = &t
	}
	return rec
}
