// Package media describes the device capture capability the call manager
// consumes. Camera and microphone drivers live behind Gateway.
package media

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned when the user or OS refused device access.
	ErrPermissionDenied = errors.New("media permission denied")
	// ErrDeviceUnavailable is returned when no usable capture device exists.
	ErrDeviceUnavailable = errors.New("media device unavailable")
)

// Kind is the media kind of a call. It is fixed for the lifetime of a session.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Valid reports whether k is a known media kind.
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// KindFor maps the isVideo flag used by the control surface to a Kind.
func KindFor(isVideo bool) Kind {
	if isVideo {
		return KindVideo
	}
	return KindAudio
}

// TrackKind distinguishes audio and video tracks inside a stream.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one captured or received media track.
type Track interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	// SetEnabled toggles whether the track produces media. It never
	// renegotiates the session the track is attached to.
	SetEnabled(enabled bool)
	// Stop releases the underlying device. Stop is idempotent.
	Stop()
	Stopped() bool
}

// Stream groups the tracks of one capture or one remote party.
type Stream interface {
	ID() string
	Tracks() []Track
}

// Gateway acquires local streams. Acquire blocks until the device grants or
// denies access, or ctx is done.
type Gateway interface {
	Acquire(ctx context.Context, kind Kind) (Stream, error)
}

// TracksOf returns the tracks of s matching kind.
func TracksOf(s Stream, kind TrackKind) []Track {
	if s == nil {
		return nil
	}
	var out []Track
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// StopAll stops every track of s. A nil stream is a no-op.
func StopAll(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// AllEnabled reports whether every track of the given kind is enabled.
// It returns true when the stream has no such track.
func AllEnabled(s Stream, kind TrackKind) bool {
	for _, t := range TracksOf(s, kind) {
		if !t.Enabled() {
			return false
		}
	}
	return true
}
