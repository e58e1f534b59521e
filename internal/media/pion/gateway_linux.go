//go:build linux

package pion

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/media"
)

// Gateway captures local devices with V4L2 and malgo, encoding VP8 and Opus.
type Gateway struct {
	selector *mediadevices.CodecSelector
	log      zerolog.Logger
}

// New prepares the codec selector used for every capture.
func New(logger *zerolog.Logger) (*Gateway, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &Gateway{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: logger.With().Str("component", "media").Logger(),
	}, nil
}

// ConfigureMedia registers the codecs the captured tracks are encoded with.
func (g *Gateway) ConfigureMedia(m *webrtc.MediaEngine) error {
	g.selector.Populate(m)
	return nil
}

type captureResult struct {
	stream mediadevices.MediaStream
	err    error
}

// Acquire opens the microphone, and the camera too for video calls.
func (g *Gateway) Acquire(ctx context.Context, kind media.Kind) (media.Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Codec: g.selector,
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	}
	if kind == media.KindVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}

	done := make(chan captureResult, 1)
	go func() {
		stream, err := mediadevices.GetUserMedia(constraints)
		done <- captureResult{stream: stream, err: err}
	}()

	var res captureResult
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.err == nil {
				closeAll(late.stream)
			}
		}()
		return nil, ctx.Err()
	}

	if res.err != nil {
		g.log.Warn().Err(res.err).Str("kind", string(kind)).Msg("capture failed")
		if errors.Is(res.err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", media.ErrPermissionDenied, res.err)
		}
		return nil, fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, res.err)
	}

	var sources []source
	for _, t := range res.stream.GetTracks() {
		sources = append(sources, t)
	}
	if kind == media.KindVideo && len(res.stream.GetVideoTracks()) == 0 {
		closeAll(res.stream)
		return nil, fmt.Errorf("%w: no camera track", media.ErrDeviceUnavailable)
	}

	g.log.Info().Str("kind", string(kind)).Int("tracks", len(sources)).Msg("local media captured")
	return newStream("local-"+uuid.NewString(), sources), nil
}

func closeAll(stream mediadevices.MediaStream) {
	for _, t := range stream.GetTracks() {
		t.Close() //nolint:errcheck // best effort
	}
}

var _ media.Gateway = (*Gateway)(nil)
