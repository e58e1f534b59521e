//go:build !linux

package pion

import (
	"context"
	"fmt"
	"runtime"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/media"
)

// Gateway has no capture drivers on this platform. Every Acquire fails with
// media.ErrDeviceUnavailable.
type Gateway struct {
	log zerolog.Logger
}

func New(logger *zerolog.Logger) (*Gateway, error) {
	return &Gateway{log: logger.With().Str("component", "media").Logger()}, nil
}

// ConfigureMedia registers pion's default codecs.
func (g *Gateway) ConfigureMedia(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (g *Gateway) Acquire(ctx context.Context, kind media.Kind) (media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.log.Warn().Str("kind", string(kind)).Msg("no capture drivers on " + runtime.GOOS)
	return nil, fmt.Errorf("%w: capture unsupported on %s", media.ErrDeviceUnavailable, runtime.GOOS)
}

var _ media.Gateway = (*Gateway)(nil)
