package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirecall/internal/callengine"
	"github.com/vovakirdan/wirecall/internal/proto"
)

// fakeSignaling binds ids to websocket connections and relays signals by
// destination, stamping the source.
type fakeSignaling struct {
	mu     sync.Mutex
	peers  map[string]*websocket.Conn
	tokens map[string]string
	seen   []proto.Signal
}

func newFakeSignaling(t *testing.T) (*fakeSignaling, string) {
	t.Helper()
	f := &fakeSignaling{
		peers:  make(map[string]*websocket.Conn),
		tokens: make(map[string]string),
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (f *fakeSignaling) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := r.Context()
	id := r.URL.Query().Get("id")

	f.mu.Lock()
	_, taken := f.peers[id]
	if !taken {
		f.peers[id] = conn
		f.tokens[id] = r.URL.Query().Get("token")
	}
	f.mu.Unlock()

	if taken {
		_ = wsjson.Write(ctx, conn, proto.Signal{Type: proto.SignalIDTaken})
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	defer func() {
		f.mu.Lock()
		if f.peers[id] == conn {
			delete(f.peers, id)
		}
		f.mu.Unlock()
	}()

	if err := wsjson.Write(ctx, conn, proto.Signal{Type: proto.SignalOpen}); err != nil {
		return
	}
	for {
		var sig proto.Signal
		if err := wsjson.Read(ctx, conn, &sig); err != nil {
			return
		}
		sig.Src = id
		f.mu.Lock()
		f.seen = append(f.seen, sig)
		dst := f.peers[sig.Dst]
		f.mu.Unlock()
		if dst != nil {
			_ = wsjson.Write(ctx, dst, sig)
		}
	}
}

func (f *fakeSignaling) token(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[id]
}

// drop closes the server side of id's connection.
func (f *fakeSignaling) drop(id string) {
	f.mu.Lock()
	conn := f.peers[id]
	f.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusGoingAway, "server restart")
	}
}

func (f *fakeSignaling) sawType(typ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.seen {
		if s.Type == typ {
			return true
		}
	}
	return false
}

type staticTokens string

func (s staticTokens) Token(identity string) (string, error) {
	return string(s) + ":" + identity, nil
}

func newTestEngine(t *testing.T, url string, tokens TokenSource) *Engine {
	t.Helper()
	logger := zerolog.Nop()
	e, err := New(Config{URL: url, Tokens: tokens, HeartbeatInterval: time.Hour}, &logger)
	require.NoError(t, err)
	return e
}

func TestRegisterBindsIdentity(t *testing.T) {
	f, url := newFakeSignaling(t)
	e := newTestEngine(t, url, staticTokens("signed"))

	reg, err := e.Register(context.Background(), "wirecall-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Release() })

	assert.Equal(t, "wirecall-1", reg.Identity())
	assert.Equal(t, "signed:wirecall-1", f.token("wirecall-1"))
}

func TestRegisterReportsCollision(t *testing.T) {
	_, url := newFakeSignaling(t)
	first := newTestEngine(t, url, nil)
	second := newTestEngine(t, url, nil)

	reg, err := first.Register(context.Background(), "wirecall-1")
	require.NoError(t, err)

	_, err = second.Register(context.Background(), "wirecall-1")
	require.ErrorIs(t, err, callengine.ErrAddressCollision)

	require.NoError(t, reg.Release())
	assert.Eventually(t, func() bool {
		again, err := second.Register(context.Background(), "wirecall-1")
		if err != nil {
			return false
		}
		_ = again.Release()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestOpenRequiresRegistration(t *testing.T) {
	_, url := newFakeSignaling(t)
	e := newTestEngine(t, url, nil)

	_, err := e.Open(context.Background(), "wirecall-2", nil, proto.CallMetadata{MediaKind: "audio"})
	require.ErrorIs(t, err, callengine.ErrNotRegistered)
}

func TestNewRequiresURL(t *testing.T) {
	logger := zerolog.Nop()
	_, err := New(Config{}, &logger)
	require.Error(t, err)
}

func TestOfferAnswerAndHangup(t *testing.T) {
	f, url := newFakeSignaling(t)
	caller := newTestEngine(t, url, nil)
	callee := newTestEngine(t, url, nil)

	offers := make(chan *callengine.Offer, 1)
	callee.OnIncoming(func(o *callengine.Offer) { offers <- o })

	callerReg, err := caller.Register(context.Background(), "wirecall-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = callerReg.Release() })
	calleeReg, err := callee.Register(context.Background(), "wirecall-2")
	require.NoError(t, err)
	t.Cleanup(func() { _ = calleeReg.Release() })

	out, err := caller.Open(context.Background(), "wirecall-2", nil, proto.CallMetadata{
		MediaKind:  "video",
		CallerName: "Alice",
	})
	require.NoError(t, err)

	var offer *callengine.Offer
	select {
	case offer = <-offers:
	case <-time.After(5 * time.Second):
		t.Fatal("offer not delivered")
	}
	assert.Equal(t, "wirecall-1", offer.From)
	assert.Equal(t, out.ID(), offer.Handle.ID())

	md := proto.ParseCallMetadata(offer.Metadata)
	assert.True(t, md.IsVideo())
	assert.Equal(t, "Alice", md.CallerName)

	require.NoError(t, offer.Handle.Answer(nil))
	assert.ErrorIs(t, offer.Handle.Answer(nil), errNoPendingOffer)
	require.Eventually(t, func() bool { return f.sawType(proto.SignalAnswer) }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, out.Close())
	select {
	case ev, ok := <-offer.Handle.Events():
		require.True(t, ok, "expected a close event before the channel closed")
		assert.Equal(t, callengine.EventClose, ev.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("remote close not delivered")
	}
	_, ok := <-offer.Handle.Events()
	assert.False(t, ok)
}

func TestAnswerAfterCloseFails(t *testing.T) {
	_, url := newFakeSignaling(t)
	caller := newTestEngine(t, url, nil)
	callee := newTestEngine(t, url, nil)

	offers := make(chan *callengine.Offer, 1)
	callee.OnIncoming(func(o *callengine.Offer) { offers <- o })

	callerReg, err := caller.Register(context.Background(), "wirecall-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = callerReg.Release() })
	calleeReg, err := callee.Register(context.Background(), "wirecall-2")
	require.NoError(t, err)
	t.Cleanup(func() { _ = calleeReg.Release() })

	_, err = caller.Open(context.Background(), "wirecall-2", nil, proto.CallMetadata{MediaKind: "audio"})
	require.NoError(t, err)

	var offer *callengine.Offer
	select {
	case offer = <-offers:
	case <-time.After(5 * time.Second):
		t.Fatal("offer not delivered")
	}

	require.NoError(t, offer.Handle.Close())
	require.NoError(t, offer.Handle.Close())
	require.ErrorIs(t, offer.Handle.Answer(nil), callengine.ErrHandleClosed)
}

func TestReleaseClosesHandles(t *testing.T) {
	_, url := newFakeSignaling(t)
	e := newTestEngine(t, url, nil)

	reg, err := e.Register(context.Background(), "wirecall-1")
	require.NoError(t, err)

	h, err := e.Open(context.Background(), "wirecall-9", nil, proto.CallMetadata{MediaKind: "audio"})
	require.NoError(t, err)

	require.NoError(t, reg.Release())
	require.NoError(t, reg.Release())

	_, ok := <-h.Events()
	assert.False(t, ok)
	select {
	case <-reg.Done():
	default:
		t.Fatal("released registration not done")
	}

	_, err = e.Open(context.Background(), "wirecall-9", nil, proto.CallMetadata{MediaKind: "audio"})
	assert.True(t, errors.Is(err, callengine.ErrNotRegistered))
}

func TestDispatchIgnoresMalformedOffer(t *testing.T) {
	_, url := newFakeSignaling(t)
	e := newTestEngine(t, url, nil)
	called := false
	e.OnIncoming(func(*callengine.Offer) { called = true })

	reg, err := e.Register(context.Background(), "wirecall-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Release() })

	r := reg.(*registration)
	r.dispatch(proto.Signal{Type: proto.SignalOffer, Src: "wirecall-2", Payload: json.RawMessage(`{"sdp":"x"}`)})
	assert.False(t, called)
}

func TestSignalingLossEndsRegistration(t *testing.T) {
	f, url := newFakeSignaling(t)
	e := newTestEngine(t, url, nil)

	reg, err := e.Register(context.Background(), "wirecall-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Release() })

	h, err := e.Open(context.Background(), "wirecall-9", nil, proto.CallMetadata{MediaKind: "audio"})
	require.NoError(t, err)

	f.drop("wirecall-1")

	select {
	case <-reg.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("registration not done after signaling loss")
	}

	ev, ok := <-h.Events()
	require.True(t, ok)
	assert.Equal(t, callengine.EventError, ev.Kind)

	_, err = e.Open(context.Background(), "wirecall-9", nil, proto.CallMetadata{MediaKind: "audio"})
	assert.ErrorIs(t, err, callengine.ErrNotRegistered)
}

func offerSignal(t *testing.T, from, connectionID string) proto.Signal {
	t.Helper()
	sig, err := proto.NewSignal(proto.SignalOffer, from, "wirecall-1", proto.OfferPayload{
		ConnectionID: connectionID,
		SDP:          proto.SessionDescription{Type: "offer", SDP: "v=0"},
	})
	require.NoError(t, err)
	return sig
}

func TestBlockedIncomingHandlerDoesNotStallSignaling(t *testing.T) {
	_, url := newFakeSignaling(t)
	e := newTestEngine(t, url, nil)

	reg, err := e.Register(context.Background(), "wirecall-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Release() })

	unblock := make(chan struct{})
	t.Cleanup(func() { close(unblock) })
	offers := make(chan *callengine.Offer, 2)
	e.OnIncoming(func(o *callengine.Offer) {
		offers <- o
		<-unblock
	})

	r := reg.(*registration)
	fromBob := offerSignal(t, "wirecall-2", "mc_a")
	fromCarol := offerSignal(t, "wirecall-3", "mc_b")
	dispatched := make(chan struct{})
	go func() {
		r.dispatch(fromBob)
		r.dispatch(fromCarol)
		close(dispatched)
	}()

	select {
	case <-dispatched:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch waited on the incoming handler")
	}
	require.Eventually(t, func() bool { return len(offers) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestDuplicateOfferIsIgnored(t *testing.T) {
	_, url := newFakeSignaling(t)
	e := newTestEngine(t, url, nil)

	reg, err := e.Register(context.Background(), "wirecall-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Release() })

	offers := make(chan *callengine.Offer, 2)
	e.OnIncoming(func(o *callengine.Offer) { offers <- o })

	r := reg.(*registration)
	r.dispatch(offerSignal(t, "wirecall-2", "mc_a"))

	var first *callengine.Offer
	select {
	case first = <-offers:
	case <-time.After(2 * time.Second):
		t.Fatal("offer not delivered")
	}

	r.dispatch(offerSignal(t, "wirecall-2", "mc_a"))

	assert.Never(t, func() bool { return len(offers) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Same(t, first.Handle, r.get("mc_a"))
}
