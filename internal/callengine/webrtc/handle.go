package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/callengine"
	"github.com/vovakirdan/wirecall/internal/media"
	"github.com/vovakirdan/wirecall/internal/proto"
)

const eventBuffer = 8

var errNoPendingOffer = errors.New("handle has no pending offer")

// handle is one peer connection negotiated with remote.
type handle struct {
	id     string
	remote string
	reg    *registration
	log    zerolog.Logger

	// offer is set for inbound handles until Answer consumes it.
	offer *webrtc.SessionDescription

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	remoteSet bool
	inbound   []webrtc.ICECandidateInit
	signaled  bool
	outbound  []webrtc.ICECandidateInit
	answered  bool
	stream    *remoteStream
	closed    bool
	events    chan callengine.Event
}

func newHandle(reg *registration, id, remote string, offer *webrtc.SessionDescription) *handle {
	return &handle{
		id:     id,
		remote: remote,
		reg:    reg,
		offer:  offer,
		log: reg.log.With().
			Str("connection_id", id).
			Str("remote", remote).
			Logger(),
		stream: newRemoteStream(id),
		events: make(chan callengine.Event, eventBuffer),
	}
}

func (h *handle) ID() string { return h.id }

func (h *handle) Events() <-chan callengine.Event { return h.events }

func (h *handle) setPeerConnection(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	h.pc = pc
	h.mu.Unlock()
}

// Answer completes an inbound offer with local media.
func (h *handle) Answer(local media.Stream) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return callengine.ErrHandleClosed
	}
	if h.offer == nil || h.answered {
		h.mu.Unlock()
		return errNoPendingOffer
	}
	h.answered = true
	offer := *h.offer
	h.mu.Unlock()

	pc, err := h.reg.engine.newPeerConnection(h)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close() //nolint:errcheck // best effort
		return fmt.Errorf("set remote description: %w", err)
	}
	if err := addLocalTracks(pc, local, &h.log); err != nil {
		pc.Close() //nolint:errcheck // best effort
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		pc.Close() //nolint:errcheck // best effort
		return callengine.ErrHandleClosed
	}
	h.pc = pc
	h.remoteSet = true
	pending := h.inbound
	h.inbound = nil
	h.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			h.log.Debug().Err(err).Msg("buffered candidate rejected")
		}
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	sig, err := proto.NewSignal(proto.SignalAnswer, h.reg.identity, h.remote, proto.AnswerPayload{
		ConnectionID: h.id,
		SDP:          proto.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP},
	})
	if err != nil {
		return err
	}
	if err := h.reg.send(h.reg.ctx, sig); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	h.markSignaled()
	h.log.Info().Msg("answer sent")
	return nil
}

// Close hangs up. The remote side is told with LEAVE and the events
// channel is closed without a terminal event.
func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	pc := h.pc
	close(h.events)
	h.mu.Unlock()

	h.reg.remove(h.id)
	if sig, err := proto.NewSignal(proto.SignalLeave, h.reg.identity, h.remote, proto.LeavePayload{ConnectionID: h.id}); err == nil {
		if err := h.reg.send(h.reg.ctx, sig); err != nil && h.reg.ctx.Err() == nil {
			h.log.Debug().Err(err).Msg("leave not delivered")
		}
	}
	h.stream.stop()
	if pc != nil {
		return pc.Close()
	}
	return nil
}

// abort discards a handle that was never announced to the remote side.
func (h *handle) abort() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	pc := h.pc
	close(h.events)
	h.mu.Unlock()

	h.reg.remove(h.id)
	if pc != nil {
		pc.Close() //nolint:errcheck // best effort
	}
}

func (h *handle) applyAnswer(answer webrtc.SessionDescription) {
	h.mu.Lock()
	pc := h.pc
	if h.closed || pc == nil || h.remoteSet {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if err := pc.SetRemoteDescription(answer); err != nil {
		h.fail(fmt.Errorf("apply answer: %w", err))
		return
	}

	h.mu.Lock()
	h.remoteSet = true
	pending := h.inbound
	h.inbound = nil
	h.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			h.log.Debug().Err(err).Msg("buffered candidate rejected")
		}
	}
	h.log.Info().Msg("answer applied")
}

// addCandidate applies a remote candidate, buffering it until the remote
// description is known.
func (h *handle) addCandidate(c webrtc.ICECandidateInit) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if !h.remoteSet {
		h.inbound = append(h.inbound, c)
		h.mu.Unlock()
		return
	}
	pc := h.pc
	h.mu.Unlock()

	if err := pc.AddICECandidate(c); err != nil {
		h.log.Debug().Err(err).Msg("candidate rejected")
	}
}

// sendCandidate forwards a local candidate. Candidates gathered before the
// offer or answer went out are held back so they never overtake it.
func (h *handle) sendCandidate(c webrtc.ICECandidateInit) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if !h.signaled {
		h.outbound = append(h.outbound, c)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.writeCandidate(c)
}

func (h *handle) markSignaled() {
	h.mu.Lock()
	h.signaled = true
	pending := h.outbound
	h.outbound = nil
	h.mu.Unlock()

	for _, c := range pending {
		h.writeCandidate(c)
	}
}

func (h *handle) writeCandidate(c webrtc.ICECandidateInit) {
	sig, err := proto.NewSignal(proto.SignalCandidate, h.reg.identity, h.remote, proto.CandidatePayload{
		ConnectionID: h.id,
		Candidate: proto.ICECandidate{
			Candidate:     c.Candidate,
			SDPMid:        c.SDPMid,
			SDPMLineIndex: c.SDPMLineIndex,
		},
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(h.reg.ctx)
	defer cancel()
	if err := h.reg.send(ctx, sig); err != nil && h.reg.ctx.Err() == nil {
		h.log.Debug().Err(err).Msg("candidate not delivered")
	}
}

func (h *handle) addRemoteTrack(track *webrtc.TrackRemote) {
	t := h.stream.add(track)
	go t.drain()

	h.emit(callengine.Event{Kind: callengine.EventStream, Stream: h.stream}, false)
}

// remoteClosed reports that the remote side hung up.
func (h *handle) remoteClosed() {
	h.log.Info().Msg("remote left")
	h.terminate(callengine.Event{Kind: callengine.EventClose})
}

// fail reports a transport failure.
func (h *handle) fail(err error) {
	h.log.Warn().Err(err).Msg("session failed")
	h.terminate(callengine.Event{Kind: callengine.EventError, Err: err})
}

func (h *handle) terminate(ev callengine.Event) {
	pc := h.emit(ev, true)
	h.reg.remove(h.id)
	h.stream.stop()
	if pc != nil {
		pc.Close() //nolint:errcheck // best effort
	}
}

// emit delivers ev without blocking. A terminal event always lands: when
// the buffer is full the oldest event gives way. It returns the peer
// connection to close when ev was terminal.
func (h *handle) emit(ev callengine.Event, terminal bool) *webrtc.PeerConnection {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	select {
	case h.events <- ev:
	default:
		if !terminal {
			return nil
		}
		select {
		case <-h.events:
		default:
		}
		h.events <- ev
	}

	if !terminal {
		return nil
	}
	h.closed = true
	close(h.events)
	return h.pc
}

var _ callengine.Handle = (*handle)(nil)
