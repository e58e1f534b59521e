// Package calls owns the single active call session of the local identity.
package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/callengine"
	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/media"
	"github.com/vovakirdan/wirecall/internal/metrics"
	"github.com/vovakirdan/wirecall/internal/proto"
	"github.com/vovakirdan/wirecall/internal/store"
)

// Common errors for call operations.
var (
	ErrNotRegistered    = errors.New("identity not registered")
	ErrCallInProgress   = errors.New("a call is already in progress")
	ErrNoIncomingCall   = errors.New("no incoming call to answer")
	ErrAnswerInProgress = errors.New("call is already being answered")
	ErrCallCancelled    = errors.New("call was ended before it was established")
	ErrInvalidRemote    = errors.New("invalid remote identity")
)

const historyTimeout = 5 * time.Second

// IdentityProvider reports the registered local identity.
type IdentityProvider interface {
	Registered() (identity string, ok bool)
}

// Opener opens outgoing transport sessions.
type Opener interface {
	Open(ctx context.Context, remote string, local media.Stream, md proto.CallMetadata) (callengine.Handle, error)
}

// Publisher receives the call view on every transition. A nil view means
// no session exists.
type Publisher interface {
	PublishCall(v *core.CallView)
}

// StartRequest describes an outgoing call.
type StartRequest struct {
	Remote      string
	DisplayName string
	Avatar      string
	IsVideo     bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the wall clock used for session timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithMetrics records call counters.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// WithHistory records every ended session.
func WithHistory(h store.HistoryStore) Option {
	return func(m *Machine) { m.history = h }
}

// pendingStart is an outgoing call waiting for media or the transport.
type pendingStart struct {
	cancel context.CancelFunc
}

// Machine is the call session state machine. All transitions happen under
// mu; device acquisition and transport calls run with mu released and
// re-check that their session is still current afterwards.
type Machine struct {
	identity IdentityProvider
	gateway  media.Gateway
	opener   Opener
	pub      Publisher
	history  store.HistoryStore
	metrics  *metrics.Metrics
	clock    clock.Clock
	log      zerolog.Logger

	mu      sync.Mutex
	pending *pendingStart
	current *session
}

// NewMachine creates an idle Machine.
func NewMachine(identity IdentityProvider, gateway media.Gateway, opener Opener, pub Publisher,
	logger *zerolog.Logger, opts ...Option,
) *Machine {
	m := &Machine{
		identity: identity,
		gateway:  gateway,
		opener:   opener,
		pub:      pub,
		clock:    clock.New(),
		log:      logger.With().Str("component", "calls").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartCall places an outgoing call. It requires a registered identity and
// no other session or pending start. The local stream is acquired before
// the transport session is opened; if End is called meanwhile the call is
// abandoned with ErrCallCancelled and nothing is left behind.
func (m *Machine) StartCall(ctx context.Context, req StartRequest) (*core.CallView, error) {
	remote := strings.TrimSpace(req.Remote)
	if remote == "" {
		return nil, ErrInvalidRemote
	}
	localIdentity, ok := m.identity.Registered()
	if !ok {
		return nil, ErrNotRegistered
	}
	if remote == localIdentity {
		return nil, fmt.Errorf("%w: cannot call yourself", ErrInvalidRemote)
	}

	m.mu.Lock()
	if m.current != nil || m.pending != nil {
		m.mu.Unlock()
		return nil, ErrCallInProgress
	}
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := &pendingStart{cancel: cancel}
	m.pending = p
	m.mu.Unlock()

	kind := media.KindFor(req.IsVideo)
	stream, err := m.gateway.Acquire(actx, kind)

	m.mu.Lock()
	if m.pending != p {
		m.mu.Unlock()
		media.StopAll(stream)
		return nil, ErrCallCancelled
	}
	if err != nil {
		m.pending = nil
		m.mu.Unlock()
		return nil, fmt.Errorf("acquire %s: %w", kind, err)
	}
	m.mu.Unlock()

	md := proto.CallMetadata{
		MediaKind:   string(kind),
		CallerName:  req.DisplayName,
		CallerImage: req.Avatar,
	}
	handle, err := m.opener.Open(actx, remote, stream, md)

	m.mu.Lock()
	if m.pending != p {
		m.mu.Unlock()
		m.closeHandle(handle)
		media.StopAll(stream)
		return nil, ErrCallCancelled
	}
	m.pending = nil
	if err != nil {
		m.mu.Unlock()
		media.StopAll(stream)
		return nil, fmt.Errorf("open session to %s: %w", remote, err)
	}

	peer := core.PeerMetadata{Name: req.DisplayName, Avatar: req.Avatar}
	s := newSession(core.DirectionOutgoing, localIdentity, remote, kind, peer, handle, m.clock.Now(), m.log)
	s.local = stream
	s.fire(eventDial)
	m.current = s
	view := m.publishLocked()
	m.mu.Unlock()

	m.metrics.CallStarted(string(core.DirectionOutgoing), string(kind))
	go m.pump(s)
	return view, nil
}

// HandleOffer takes an inbound session proposal from the transport. With
// no session active it rings; otherwise the offer is declined and recorded
// as missed, leaving the active session untouched.
func (m *Machine) HandleOffer(offer *callengine.Offer) {
	if offer == nil || offer.Handle == nil {
		return
	}
	md := proto.ParseCallMetadata(offer.Metadata)
	kind := media.KindAudio
	if md.IsVideo() {
		kind = media.KindVideo
	}
	peer := core.PeerMetadata{Name: md.CallerName, Avatar: md.CallerImage}
	localIdentity, _ := m.identity.Registered()
	s := newSession(core.DirectionIncoming, localIdentity, offer.From, kind, peer, offer.Handle, m.clock.Now(), m.log)

	m.mu.Lock()
	if m.current != nil || m.pending != nil {
		m.mu.Unlock()
		m.log.Info().Str("from", offer.From).Msg("declining inbound call while busy")
		m.closeHandle(offer.Handle)
		m.metrics.CallMissed()
		m.recordHistory(s.record(core.EndReasonMissed, m.clock.Now()))
		return
	}
	s.fire(eventRing)
	m.current = s
	m.publishLocked()
	m.mu.Unlock()

	m.metrics.CallStarted(string(core.DirectionIncoming), string(kind))
	go m.pump(s)
}

// Answer accepts the ringing inbound call with a local stream of the
// session's media kind. If acquisition or the transport answer fails the
// session is discarded and the error returned.
func (m *Machine) Answer(ctx context.Context) (*core.CallView, error) {
	m.mu.Lock()
	s := m.current
	if s == nil || s.direction != core.DirectionIncoming || s.status() != core.CallStatusRinging {
		m.mu.Unlock()
		return nil, ErrNoIncomingCall
	}
	if s.answering || s.answered {
		m.mu.Unlock()
		return nil, ErrAnswerInProgress
	}
	s.answering = true
	m.mu.Unlock()

	stream, err := m.gateway.Acquire(ctx, s.kind)

	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		media.StopAll(stream)
		return nil, ErrCallCancelled
	}
	if err != nil {
		m.current = nil
		m.publishLocked()
		m.mu.Unlock()
		m.finish(s, core.EndReasonMediaFailed)
		return nil, fmt.Errorf("acquire %s: %w", s.kind, err)
	}
	s.local = stream
	m.publishLocked()
	m.mu.Unlock()

	err = s.handle.Answer(stream)

	m.mu.Lock()
	if m.current != s {
		// finish already stopped s.local.
		m.mu.Unlock()
		return nil, ErrCallCancelled
	}
	if err != nil {
		m.current = nil
		m.publishLocked()
		m.mu.Unlock()
		m.finish(s, core.EndReasonAnswerFailed)
		return nil, fmt.Errorf("answer call from %s: %w", s.remote, err)
	}
	s.answering = false
	s.answered = true
	s.maybeConnect(m.clock.Now())
	view := m.publishLocked()
	m.mu.Unlock()

	m.metrics.CallAnswered()
	return view, nil
}

// End hangs up. It is safe in every state: a pending start is cancelled,
// the active session's handle is closed and its local tracks stopped.
func (m *Machine) End() {
	m.end(core.EndReasonLocal)
}

// Teardown ends everything because the local identity went away.
func (m *Machine) Teardown() {
	m.end(core.EndReasonTeardown)
}

func (m *Machine) end(reason core.EndReason) {
	m.mu.Lock()
	if m.pending != nil {
		m.pending.cancel()
		m.pending = nil
	}
	s := m.current
	if s != nil {
		m.current = nil
		m.publishLocked()
	}
	m.mu.Unlock()

	if s != nil {
		m.finish(s, reason)
	}
}

// ToggleMute flips every local audio track. Without a local stream it does
// nothing and returns the current view.
func (m *Machine) ToggleMute() *core.CallView {
	return m.toggle(media.TrackAudio)
}

// ToggleCamera flips every local video track.
func (m *Machine) ToggleCamera() *core.CallView {
	return m.toggle(media.TrackVideo)
}

func (m *Machine) toggle(kind media.TrackKind) *core.CallView {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.current
	if s == nil {
		return nil
	}
	if s.local == nil {
		return s.view()
	}
	for _, t := range media.TracksOf(s.local, kind) {
		t.SetEnabled(!t.Enabled())
	}
	return m.publishLocked()
}

// Current returns the active session view, or nil.
func (m *Machine) Current() *core.CallView {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.current.view()
}

// Busy reports whether a session exists or a start is pending.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil || m.pending != nil
}

// pump forwards handle events for s until it ends.
func (m *Machine) pump(s *session) {
	events := s.handle.Events()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				m.endSession(s, core.EndReasonRemoteClosed)
				return
			}
			switch ev.Kind {
			case callengine.EventStream:
				m.attachRemote(s, ev.Stream)
			case callengine.EventClose:
				m.endSession(s, core.EndReasonRemoteClosed)
				return
			case callengine.EventError:
				m.log.Warn().Err(ev.Err).Str("call_id", s.id).Msg("transport session failed")
				m.endSession(s, core.EndReasonTransportError)
				return
			}
		}
	}
}

func (m *Machine) attachRemote(s *session, stream media.Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != s {
		return
	}
	s.remoteStream = stream
	s.maybeConnect(m.clock.Now())
	m.publishLocked()
}

// endSession ends s if it is still the active session.
func (m *Machine) endSession(s *session, reason core.EndReason) {
	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.publishLocked()
	m.mu.Unlock()

	m.finish(s, reason)
}

// finish releases everything s owns. s must already be detached from the
// machine, so finish runs once per session.
func (m *Machine) finish(s *session, reason core.EndReason) {
	close(s.done)
	m.closeHandle(s.handle)
	media.StopAll(s.local)

	now := m.clock.Now()
	s.fire(eventEnd)
	connected := -1.0
	if s.connectedAt != nil {
		connected = now.Sub(*s.connectedAt).Seconds()
	}
	m.metrics.CallEnded(string(reason), connected)
	m.recordHistory(s.record(reason, now))
	m.log.Info().Str("call_id", s.id).Str("reason", string(reason)).Msg("call ended")
}

func (m *Machine) closeHandle(h callengine.Handle) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		m.log.Warn().Err(err).Str("handle", h.ID()).Msg("close transport session")
	}
}

func (m *Machine) recordHistory(rec *store.CallRecord) {
	if m.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := m.history.RecordCall(ctx, rec); err != nil {
		m.log.Error().Err(err).Str("call_id", rec.ID).Msg("record call history")
	}
}

func (m *Machine) publishLocked() *core.CallView {
	var v *core.CallView
	if m.current != nil {
		v = m.current.view()
	}
	if m.pub != nil {
		m.pub.PublishCall(v)
	}
	return v
}
