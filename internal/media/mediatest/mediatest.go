// Package mediatest provides in-memory media streams and a scriptable
// Gateway for tests.
package mediatest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirecall/internal/media"
)

// Track is an in-memory media.Track.
type Track struct {
	id   string
	kind media.TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

// NewTrack returns an enabled, running track.
func NewTrack(kind media.TrackKind) *Track {
	return &Track{id: uuid.NewString(), kind: kind, enabled: true}
}

func (t *Track) ID() string            { return t.id }
func (t *Track) Kind() media.TrackKind { return t.kind }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream is an in-memory media.Stream.
type Stream struct {
	id     string
	tracks []media.Track
}

// NewStream builds a stream shaped like a capture of kind: audio only for
// KindAudio, audio and video for KindVideo.
func NewStream(kind media.Kind) *Stream {
	s := &Stream{id: uuid.NewString()}
	s.tracks = append(s.tracks, NewTrack(media.TrackAudio))
	if kind == media.KindVideo {
		s.tracks = append(s.tracks, NewTrack(media.TrackVideo))
	}
	return s
}

func (s *Stream) ID() string            { return s.id }
func (s *Stream) Tracks() []media.Track { return s.tracks }

// AllStopped reports whether every track of s has been stopped.
func (s *Stream) AllStopped() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}

// Gateway is a scriptable media.Gateway. By default every Acquire succeeds
// immediately with a fresh Stream.
type Gateway struct {
	mu       sync.Mutex
	err      error
	gate     chan struct{}
	entered  chan struct{}
	acquired []*Stream
	kinds    []media.Kind
}

// NewGateway returns a Gateway that grants every request.
func NewGateway() *Gateway {
	return &Gateway{entered: make(chan struct{}, 16)}
}

// Fail makes subsequent acquisitions return err. A nil err restores success.
func (g *Gateway) Fail(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

// Block makes subsequent acquisitions wait, like an unanswered permission
// prompt, until the returned release func is called. Waiting ignores the
// caller's context so that late resolutions can be observed.
func (g *Gateway) Block() (release func()) {
	gate := make(chan struct{})
	g.mu.Lock()
	g.gate = gate
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			if g.gate == gate {
				g.gate = nil
			}
			g.mu.Unlock()
			close(gate)
		})
	}
}

// Entered yields once per Acquire call that started waiting on a Block gate.
func (g *Gateway) Entered() <-chan struct{} { return g.entered }

// Acquire implements media.Gateway.
func (g *Gateway) Acquire(_ context.Context, kind media.Kind) (media.Stream, error) {
	g.mu.Lock()
	gate := g.gate
	g.kinds = append(g.kinds, kind)
	g.mu.Unlock()

	if gate != nil {
		g.entered <- struct{}{}
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	s := NewStream(kind)
	g.acquired = append(g.acquired, s)
	return s, nil
}

// Acquired returns every stream handed out so far.
func (g *Gateway) Acquired() []*Stream {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Stream, len(g.acquired))
	copy(out, g.acquired)
	return out
}

// Last returns the most recently acquired stream, or nil.
func (g *Gateway) Last() *Stream {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.acquired) == 0 {
		return nil
	}
	return g.acquired[len(g.acquired)-1]
}

// Kinds returns the media kinds requested so far.
func (g *Gateway) Kinds() []media.Kind {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]media.Kind, len(g.kinds))
	copy(out, g.kinds)
	return out
}

var _ media.Gateway = (*Gateway)(nil)
