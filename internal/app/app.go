package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirecall/internal/auth"
	"github.com/vovakirdan/wirecall/internal/callengine/livekit"
	"github.com/vovakirdan/wirecall/internal/callengine/webrtc"
	"github.com/vovakirdan/wirecall/internal/config"
	mediapion "github.com/vovakirdan/wirecall/internal/media/pion"
	"github.com/vovakirdan/wirecall/internal/metrics"
	"github.com/vovakirdan/wirecall/internal/service/calls"
	"github.com/vovakirdan/wirecall/internal/service/registrar"
	"github.com/vovakirdan/wirecall/internal/store"
	"github.com/vovakirdan/wirecall/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirecall/internal/transport/http"
)

// App wires together the session manager, its capabilities and the
// control API.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	sessions        *auth.Service
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mt, err := metrics.New(registry)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	gateway, err := mediapion.New(logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init media: %w", err)
	}

	engine, err := webrtc.New(webrtc.Config{
		URL:               cfg.Signaling.URL,
		ICEServers:        cfg.ICEServers,
		HeartbeatInterval: cfg.Signaling.HeartbeatInterval,
		DialTimeout:       cfg.Signaling.DialTimeout,
		Tokens:            livekit.New(cfg.Signaling.APIKey, cfg.Signaling.APISecret, cfg.Signaling.TokenTTL),
		ConfigureMedia:    gateway.ConfigureMedia,
	}, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init call engine: %w", err)
	}

	manager := calls.NewManager(engine, gateway, calls.ManagerConfig{
		Registration: registrar.Config{
			BaseDelay:      cfg.Registration.BaseDelay,
			MaxDelay:       cfg.Registration.MaxDelay,
			AttemptTimeout: cfg.Registration.AttemptTimeout,
		},
		Metrics: mt,
		History: st,
	}, logger)

	sessions := auth.NewService(JWTConfig(cfg), cfg.IdentityPrefix, manager, logger)

	server := transporthttp.NewServer(cfg, transporthttp.Deps{
		Calls:    manager,
		Sessions: sessions,
		History:  st,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		sessions:        sessions,
		store:           st,
		log:             logger,
	}, nil
}

// JWTConfig converts the configured identity token settings.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.TTL,
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("control api listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.cleanup()
	return err
}

// cleanup ends the user session and closes the store.
func (a *App) cleanup() {
	a.sessions.Deactivate()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
