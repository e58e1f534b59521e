package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/callengine"
	"github.com/vovakirdan/wirecall/internal/proto"
)

// registration is one signaling connection bound to an identity. It owns
// every handle negotiated through it.
type registration struct {
	engine   *Engine
	identity string
	conn     *websocket.Conn
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu      sync.Mutex
	handles map[string]*handle
}

func newRegistration(e *Engine, identity string, conn *websocket.Conn) *registration {
	ctx, cancel := context.WithCancel(context.Background())
	return &registration{
		engine:   e,
		identity: identity,
		conn:     conn,
		log:      e.log.With().Str("identity", identity).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		handles:  make(map[string]*handle),
	}
}

func (r *registration) Identity() string { return r.identity }

func (r *registration) Done() <-chan struct{} { return r.ctx.Done() }

// Release closes every handle and the signaling connection.
func (r *registration) Release() error {
	r.once.Do(func() {
		for _, h := range r.drain() {
			h.Close() //nolint:errcheck // best effort
		}
		r.cancel()
		if err := r.conn.Close(websocket.StatusNormalClosure, "released"); err != nil && !errors.Is(err, net.ErrClosed) {
			r.log.Debug().Err(err).Msg("signaling close")
		}
		r.engine.forget(r)
		r.log.Info().Msg("registration released")
	})
	return nil
}

func (r *registration) send(ctx context.Context, sig proto.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()
	return wsjson.Write(ctx, r.conn, sig)
}

func (r *registration) add(h *handle) {
	r.mu.Lock()
	r.handles[h.id] = h
	r.mu.Unlock()
}

// addNew adds h unless a handle with the same id exists.
func (r *registration) addNew(h *handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[h.id]; ok {
		return false
	}
	r.handles[h.id] = h
	return true
}

func (r *registration) remove(id string) {
	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
}

func (r *registration) get(id string) *handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[id]
}

// withRemote returns the handles negotiated with remote.
func (r *registration) withRemote(remote string) []*handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*handle
	for _, h := range r.handles {
		if h.remote == remote {
			out = append(out, h)
		}
	}
	return out
}

func (r *registration) drain() []*handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*handle, 0, len(r.handles))
	for id, h := range r.handles {
		out = append(out, h)
		delete(r.handles, id)
	}
	return out
}

func (r *registration) readLoop() {
	for {
		var sig proto.Signal
		if err := wsjson.Read(r.ctx, r.conn, &sig); err != nil {
			if r.ctx.Err() == nil {
				r.log.Warn().Err(err).Msg("signaling connection lost")
				for _, h := range r.drain() {
					h.fail(err)
				}
				r.engine.forget(r)
				r.cancel()
				r.conn.Close(websocket.StatusGoingAway, "connection lost") //nolint:errcheck // already broken
			}
			return
		}
		r.dispatch(sig)
	}
}

func (r *registration) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.send(r.ctx, proto.Signal{Type: proto.SignalHeartbeat}); err != nil {
				if r.ctx.Err() == nil {
					r.log.Debug().Err(err).Msg("heartbeat failed")
				}
				return
			}
		}
	}
}

func (r *registration) dispatch(sig proto.Signal) {
	switch sig.Type {
	case proto.SignalOffer:
		var p proto.OfferPayload
		if err := json.Unmarshal(sig.Payload, &p); err != nil || p.ConnectionID == "" {
			r.log.Warn().Err(err).Str("src", sig.Src).Msg("malformed offer")
			return
		}
		r.handleOffer(sig.Src, p)

	case proto.SignalAnswer:
		var p proto.AnswerPayload
		if err := json.Unmarshal(sig.Payload, &p); err != nil {
			r.log.Warn().Err(err).Str("src", sig.Src).Msg("malformed answer")
			return
		}
		if h := r.get(p.ConnectionID); h != nil {
			h.applyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP.SDP})
		}

	case proto.SignalCandidate:
		var p proto.CandidatePayload
		if err := json.Unmarshal(sig.Payload, &p); err != nil {
			r.log.Warn().Err(err).Str("src", sig.Src).Msg("malformed candidate")
			return
		}
		if h := r.get(p.ConnectionID); h != nil {
			h.addCandidate(webrtc.ICECandidateInit{
				Candidate:     p.Candidate.Candidate,
				SDPMid:        p.Candidate.SDPMid,
				SDPMLineIndex: p.Candidate.SDPMLineIndex,
			})
		}

	case proto.SignalLeave, proto.SignalExpire:
		var p proto.LeavePayload
		_ = json.Unmarshal(sig.Payload, &p)
		if p.ConnectionID != "" {
			if h := r.get(p.ConnectionID); h != nil {
				h.remoteClosed()
			}
			return
		}
		for _, h := range r.withRemote(sig.Src) {
			h.remoteClosed()
		}

	case proto.SignalError:
		var p proto.ErrorPayload
		_ = json.Unmarshal(sig.Payload, &p)
		r.log.Warn().Str("msg", p.Msg).Msg("signaling error")

	case proto.SignalOpen, proto.SignalHeartbeat:

	default:
		r.log.Debug().Str("type", sig.Type).Msg("ignoring signal")
	}
}

func (r *registration) handleOffer(from string, p proto.OfferPayload) {
	offer := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP.SDP}
	h := newHandle(r, p.ConnectionID, from, offer)
	if !r.addNew(h) {
		r.log.Warn().Str("src", from).Str("connection_id", p.ConnectionID).Msg("duplicate offer ignored")
		return
	}

	fn := r.engine.incomingHandler()
	if fn == nil {
		h.log.Info().Msg("no incoming handler, declining offer")
		h.Close() //nolint:errcheck // best effort
		return
	}
	h.log.Info().Msg("offer received")
	go fn(&callengine.Offer{From: from, Metadata: p.Metadata, Handle: h})
}

var _ callengine.Registration = (*registration)(nil)
