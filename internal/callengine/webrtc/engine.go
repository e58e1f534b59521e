// Package webrtc implements callengine.Engine with pion peer connections
// negotiated over a websocket signaling server.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/callengine"
	"github.com/vovakirdan/wirecall/internal/media"
	"github.com/vovakirdan/wirecall/internal/proto"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultHeartbeat   = 5 * time.Second
	writeTimeout       = 5 * time.Second
	readLimit          = 1 << 20
)

// TokenSource signs the credential presented when binding an identity.
type TokenSource interface {
	Token(identity string) (string, error)
}

// Config configures the Engine.
type Config struct {
	// URL is the websocket endpoint of the signaling server.
	URL               string
	ICEServers        []string
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	// Tokens is optional; without it no token is sent.
	Tokens TokenSource
	// ConfigureMedia registers codecs. Nil registers pion's defaults.
	ConfigureMedia func(*webrtc.MediaEngine) error
}

// Engine is a callengine.Engine backed by pion/webrtc.
type Engine struct {
	cfg Config
	api *webrtc.API
	log zerolog.Logger

	mu       sync.Mutex
	reg      *registration
	incoming func(*callengine.Offer)
}

// New builds the pion API (codecs plus the default interceptors) and
// returns an unregistered Engine.
func New(cfg Config, logger *zerolog.Logger) (*Engine, error) {
	if cfg.URL == "" {
		return nil, errors.New("signaling url is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}

	mediaEngine := &webrtc.MediaEngine{}
	configure := cfg.ConfigureMedia
	if configure == nil {
		configure = func(m *webrtc.MediaEngine) error { return m.RegisterDefaultCodecs() }
	}
	if err := configure(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	return &Engine{
		cfg: cfg,
		api: api,
		log: logger.With().Str("component", "webrtc").Logger(),
	}, nil
}

// Register connects to the signaling server as identity. The server
// replies OPEN when the identity was bound and ID-TAKEN when another
// connection holds it.
func (e *Engine) Register(ctx context.Context, identity string) (callengine.Registration, error) {
	u, err := url.Parse(e.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse signaling url: %w", err)
	}
	q := u.Query()
	q.Set("id", identity)
	if e.cfg.Tokens != nil {
		token, err := e.cfg.Tokens.Token(identity)
		if err != nil {
			return nil, fmt.Errorf("signaling token: %w", err)
		}
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling: %w", err)
	}
	conn.SetReadLimit(readLimit)

	var first proto.Signal
	if err := wsjson.Read(dialCtx, conn, &first); err != nil {
		conn.Close(websocket.StatusProtocolError, "no greeting") //nolint:errcheck // best effort
		return nil, fmt.Errorf("read greeting: %w", err)
	}

	switch first.Type {
	case proto.SignalOpen:
	case proto.SignalIDTaken:
		conn.Close(websocket.StatusNormalClosure, "id taken") //nolint:errcheck // best effort
		return nil, callengine.ErrAddressCollision
	case proto.SignalError:
		conn.Close(websocket.StatusNormalClosure, "rejected") //nolint:errcheck // best effort
		var payload proto.ErrorPayload
		_ = json.Unmarshal(first.Payload, &payload)
		return nil, fmt.Errorf("signaling rejected %s: %s", identity, payload.Msg)
	default:
		conn.Close(websocket.StatusProtocolError, "unexpected greeting") //nolint:errcheck // best effort
		return nil, fmt.Errorf("unexpected greeting %q", first.Type)
	}

	reg := newRegistration(e, identity, conn)
	e.mu.Lock()
	e.reg = reg
	e.mu.Unlock()

	go reg.readLoop()
	go reg.heartbeat(e.cfg.HeartbeatInterval)

	e.log.Info().Str("identity", identity).Msg("signaling connected")
	return reg, nil
}

// Open offers a media session to remote.
func (e *Engine) Open(ctx context.Context, remote string, local media.Stream, md proto.CallMetadata) (callengine.Handle, error) {
	reg := e.current()
	if reg == nil {
		return nil, callengine.ErrNotRegistered
	}

	metadata, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	h := newHandle(reg, "mc_"+uuid.NewString(), remote, nil)
	pc, err := e.newPeerConnection(h)
	if err != nil {
		return nil, err
	}
	h.setPeerConnection(pc)

	if err := publishTracks(pc, local, md.IsVideo(), &h.log); err != nil {
		h.abort()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		h.abort()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		h.abort()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	reg.add(h)
	sig, err := proto.NewSignal(proto.SignalOffer, reg.identity, remote, proto.OfferPayload{
		ConnectionID: h.id,
		SDP:          proto.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP},
		Metadata:     metadata,
	})
	if err == nil {
		err = reg.send(ctx, sig)
	}
	if err != nil {
		h.abort()
		return nil, fmt.Errorf("send offer: %w", err)
	}

	h.markSignaled()
	h.log.Info().Msg("offer sent")
	return h, nil
}

// OnIncoming sets the handler for inbound offers. Offers arriving without
// a handler are declined.
func (e *Engine) OnIncoming(fn func(*callengine.Offer)) {
	e.mu.Lock()
	e.incoming = fn
	e.mu.Unlock()
}

func (e *Engine) current() *registration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg
}

func (e *Engine) incomingHandler() func(*callengine.Offer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.incoming
}

func (e *Engine) forget(reg *registration) {
	e.mu.Lock()
	if e.reg == reg {
		e.reg = nil
	}
	e.mu.Unlock()
}

func (e *Engine) newPeerConnection(h *handle) (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{}
	if len(e.cfg.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: e.cfg.ICEServers}}
	}
	pc, err := e.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			h.sendCandidate(c.ToJSON())
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		h.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		h.addRemoteTrack(track)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		h.log.Debug().Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed {
			h.fail(errors.New("peer connection failed"))
		}
	})
	return pc, nil
}

var _ callengine.Engine = (*Engine)(nil)
