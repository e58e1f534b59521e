package calls

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/callengine"
	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/media"
	"github.com/vovakirdan/wirecall/internal/metrics"
	"github.com/vovakirdan/wirecall/internal/service/registrar"
	"github.com/vovakirdan/wirecall/internal/store"
)

// ManagerConfig groups the Manager dependencies that are not capabilities.
type ManagerConfig struct {
	Registration registrar.Config
	Clock        clock.Clock
	Metrics      *metrics.Metrics
	History      store.HistoryStore
}

// Manager is the session manager the identity source drives: Init when a
// user session becomes available, Teardown when it goes away. It wires the
// registrar and the call machine to one transport and one snapshot hub.
type Manager struct {
	hub   *core.Hub
	reg   *registrar.Registrar
	calls *Machine
	log   zerolog.Logger
}

// NewManager builds a Manager and subscribes it to inbound offers.
func NewManager(engine callengine.Engine, gateway media.Gateway, cfg ManagerConfig, logger *zerolog.Logger) *Manager {
	hub := core.NewHub()

	regOpts := []registrar.Option{registrar.WithMetrics(cfg.Metrics)}
	callOpts := []Option{WithMetrics(cfg.Metrics)}
	if cfg.Clock != nil {
		regOpts = append(regOpts, registrar.WithClock(cfg.Clock))
		callOpts = append(callOpts, WithClock(cfg.Clock))
	}
	if cfg.History != nil {
		callOpts = append(callOpts, WithHistory(cfg.History))
	}

	reg := registrar.New(engine, hub, cfg.Registration, logger, regOpts...)
	machine := NewMachine(reg, gateway, engine, hub, logger, callOpts...)
	engine.OnIncoming(machine.HandleOffer)

	return &Manager{
		hub:   hub,
		reg:   reg,
		calls: machine,
		log:   logger.With().Str("component", "manager").Logger(),
	}
}

// Init makes identity the local identity. Switching to a different
// identity ends the active call first.
func (m *Manager) Init(ctx context.Context, identity string) error {
	if prev := m.reg.Identity(); prev != "" && prev != identity {
		m.log.Info().Str("from", prev).Str("to", identity).Msg("identity changed")
		m.calls.Teardown()
	}
	return m.reg.EnsureRegistered(ctx, identity)
}

// Teardown ends the active call and releases the registration.
func (m *Manager) Teardown() {
	m.calls.Teardown()
	m.reg.Teardown()
}

// Identity returns the current target identity, registered or not.
func (m *Manager) Identity() string {
	return m.reg.Identity()
}

func (m *Manager) StartCall(ctx context.Context, req StartRequest) (*core.CallView, error) {
	return m.calls.StartCall(ctx, req)
}

func (m *Manager) Answer(ctx context.Context) (*core.CallView, error) {
	return m.calls.Answer(ctx)
}

func (m *Manager) End() {
	m.calls.End()
}

func (m *Manager) ToggleMute() *core.CallView {
	return m.calls.ToggleMute()
}

func (m *Manager) ToggleCamera() *core.CallView {
	return m.calls.ToggleCamera()
}

// Call returns the active session view, or nil.
func (m *Manager) Call() *core.CallView {
	return m.calls.Current()
}

// Registration returns the registrar view.
func (m *Manager) Registration() core.RegistrationView {
	return m.reg.View()
}

// Snapshot returns the latest published snapshot.
func (m *Manager) Snapshot() core.Snapshot {
	return m.hub.Latest()
}

// Subscribe streams snapshots, starting with the latest one.
func (m *Manager) Subscribe(id string) *core.Subscriber {
	return m.hub.Subscribe(id)
}

func (m *Manager) Unsubscribe(s *core.Subscriber) {
	m.hub.Unsubscribe(s)
}
