// Package pion captures camera and microphone through pion/mediadevices.
package pion

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/vovakirdan/wirecall/internal/media"
)

// source is a captured track that can be bound to a peer connection.
type source interface {
	webrtc.TrackLocal
	Close() error
}

// Track adapts a captured source to media.Track. Disabling it notifies the
// peer connection so the sender stops transmitting.
type Track struct {
	src source

	mu        sync.Mutex
	enabled   bool
	stopped   bool
	listeners []func(enabled bool)
}

func newTrack(src source) *Track {
	return &Track{src: src, enabled: true}
}

func (t *Track) ID() string { return t.src.ID() }

func (t *Track) Kind() media.TrackKind {
	if t.src.Kind() == webrtc.RTPCodecTypeVideo {
		return media.TrackVideo
	}
	return media.TrackAudio
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	if t.enabled == enabled || t.stopped {
		t.mu.Unlock()
		return
	}
	t.enabled = enabled
	listeners := append([]func(bool)(nil), t.listeners...)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(enabled)
	}
}

// OnEnabledChange registers fn to run after every enabled flip.
func (t *Track) OnEnabledChange(fn func(enabled bool)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// TrackLocal returns the source for binding to a peer connection.
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.src }

func (t *Track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()
	t.src.Close() //nolint:errcheck // device release is best effort
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream is a captured local stream.
type Stream struct {
	id     string
	tracks []*Track
}

func newStream(id string, sources []source) *Stream {
	s := &Stream{id: id}
	for _, src := range sources {
		s.tracks = append(s.tracks, newTrack(src))
	}
	return s
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []media.Track {
	out := make([]media.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}
