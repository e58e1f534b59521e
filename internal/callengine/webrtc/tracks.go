package webrtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/media"
)

// Publishable is a local track that can be sent on a peer connection.
type Publishable interface {
	media.Track
	TrackLocal() webrtc.TrackLocal
}

// enabledNotifier is implemented by local tracks that report mute changes.
// The sender swaps in a nil track while disabled so no renegotiation is
// needed.
type enabledNotifier interface {
	OnEnabledChange(fn func(enabled bool))
}

// publishTracks adds the local tracks to an offering pc and makes sure the
// offer asks for audio, and video when video is true, even if nothing local
// is sent for that kind.
func publishTracks(pc *webrtc.PeerConnection, local media.Stream, video bool, log *zerolog.Logger) error {
	if err := addLocalTracks(pc, local, log); err != nil {
		return err
	}

	want := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if video {
		want = append(want, webrtc.RTPCodecTypeVideo)
	}
	for _, kind := range want {
		if hasTransceiver(pc, kind) {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// addLocalTracks sends every publishable track of local. Tracks from other
// sources are skipped.
func addLocalTracks(pc *webrtc.PeerConnection, local media.Stream, log *zerolog.Logger) error {
	if local == nil {
		return nil
	}
	for _, t := range local.Tracks() {
		p, ok := t.(Publishable)
		if !ok {
			log.Debug().Str("track_id", t.ID()).Msg("track is not publishable")
			continue
		}
		trackLocal := p.TrackLocal()
		sender, err := pc.AddTrack(trackLocal)
		if err != nil {
			return fmt.Errorf("add track %s: %w", t.ID(), err)
		}
		go drainRTCP(sender)

		if n, ok := t.(enabledNotifier); ok {
			n.OnEnabledChange(func(enabled bool) {
				var next webrtc.TrackLocal
				if enabled {
					next = trackLocal
				}
				if err := sender.ReplaceTrack(next); err != nil {
					log.Warn().Err(err).Str("track_id", p.ID()).Msg("replace track failed")
				}
			})
		}
	}
	return nil
}

func hasTransceiver(pc *webrtc.PeerConnection, kind webrtc.RTPCodecType) bool {
	for _, tr := range pc.GetTransceivers() {
		if tr.Kind() == kind {
			return true
		}
	}
	return false
}

// drainRTCP reads incoming RTCP so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// remoteStream collects the tracks received on one handle.
type remoteStream struct {
	id string

	mu     sync.Mutex
	tracks []*remoteTrack
}

func newRemoteStream(id string) *remoteStream {
	return &remoteStream{id: id}
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) Tracks() []media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]media.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *remoteStream) add(track *webrtc.TrackRemote) *remoteTrack {
	t := &remoteTrack{track: track, enabled: true}
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
	return t
}

func (s *remoteStream) stop() {
	s.mu.Lock()
	tracks := append([]*remoteTrack(nil), s.tracks...)
	s.mu.Unlock()
	for _, t := range tracks {
		t.Stop()
	}
}

// remoteTrack is a received track.
type remoteTrack struct {
	track *webrtc.TrackRemote

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *remoteTrack) ID() string { return t.track.ID() }

func (t *remoteTrack) Kind() media.TrackKind {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return media.TrackVideo
	}
	return media.TrackAudio
}

func (t *remoteTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *remoteTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *remoteTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *remoteTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// drain consumes RTP until the track ends. There is no renderer in this
// process, so packets are read and discarded.
func (t *remoteTrack) drain() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := t.track.Read(buf); err != nil || t.Stopped() {
			return
		}
	}
}
