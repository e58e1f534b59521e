// Package registrar keeps the local identity registered on the call
// transport and recovers from address collisions with bounded backoff.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/callengine"
	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/metrics"
)

// ErrSuperseded is returned by EnsureRegistered when a Teardown or a
// different identity replaced the attempt while it was in flight.
var ErrSuperseded = errors.New("registration superseded")

// Registerer is the part of the transport the registrar drives.
type Registerer interface {
	Register(ctx context.Context, identity string) (callengine.Registration, error)
}

// Publisher receives every registration view change.
type Publisher interface {
	PublishRegistration(v core.RegistrationView)
}

// Config controls collision backoff.
type Config struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration // zero means no per-attempt deadline
}

// DefaultConfig returns the 2s step, 10s cap backoff.
func DefaultConfig() Config {
	return Config{
		BaseDelay:      2 * time.Second,
		MaxDelay:       10 * time.Second,
		AttemptTimeout: 15 * time.Second,
	}
}

// Backoff returns the delay before the retry that follows collision n
// (0-indexed): min(base*(n+1), max).
func (c Config) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := c.BaseDelay * time.Duration(n+1)
	if d > c.MaxDelay || d < 0 {
		return c.MaxDelay
	}
	return d
}

// Registrar owns the single live registration of the local identity.
type Registrar struct {
	transport Registerer
	pub       Publisher
	clock     clock.Clock
	metrics   *metrics.Metrics
	log       zerolog.Logger
	cfg       Config

	mu           sync.Mutex
	gen          uint64
	identity     string
	state        core.RegistrationState
	retryAttempt int
	lostAttempt  int
	timer        *clock.Timer
	live         callengine.Registration
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(r *Registrar) { r.clock = c }
}

// WithMetrics records attempts and outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registrar) { r.metrics = m }
}

// New creates an unregistered Registrar.
func New(transport Registerer, pub Publisher, cfg Config, logger *zerolog.Logger, opts ...Option) *Registrar {
	r := &Registrar{
		transport: transport,
		pub:       pub,
		clock:     clock.New(),
		log:       logger.With().Str("component", "registrar").Logger(),
		cfg:       cfg,
		state:     core.RegistrationUnregistered,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureRegistered binds identity to the transport. It is a no-op when the
// same identity is already registered, registering, or waiting for a
// collision retry. Otherwise the previous registration is released and a
// new attempt is made before returning.
//
// A collision is not an error: the registrar moves to conflicted and
// retries on its own. Other failures are returned and not retried.
func (r *Registrar) EnsureRegistered(ctx context.Context, identity string) error {
	if identity == "" {
		return errors.New("empty identity")
	}

	r.mu.Lock()
	if identity == r.identity && r.state != core.RegistrationUnregistered {
		r.mu.Unlock()
		return nil
	}
	old := r.resetLocked()
	r.identity = identity
	gen := r.gen
	r.mu.Unlock()

	r.release(old)
	return r.attempt(ctx, gen)
}

// Teardown releases the live registration, cancels any pending retry and
// clears the state. A retry never fires after Teardown returns.
func (r *Registrar) Teardown() {
	r.mu.Lock()
	if r.identity == "" && r.live == nil && r.timer == nil {
		r.mu.Unlock()
		return
	}
	old := r.resetLocked()
	r.identity = ""
	r.publishLocked()
	r.mu.Unlock()

	r.release(old)
	r.log.Info().Msg("registration torn down")
}

// Registered returns the identity when a registration is live.
func (r *Registrar) Registered() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != core.RegistrationRegistered {
		return "", false
	}
	return r.identity, true
}

// Identity returns the target identity, registered or not.
func (r *Registrar) Identity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

// View returns the current registration view.
func (r *Registrar) View() core.RegistrationView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// resetLocked invalidates in-flight attempts and pending retries and
// detaches the live registration, which the caller releases unlocked.
func (r *Registrar) resetLocked() callengine.Registration {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	old := r.live
	r.live = nil
	r.state = core.RegistrationUnregistered
	r.retryAttempt = 0
	r.lostAttempt = 0
	return old
}

func (r *Registrar) attempt(ctx context.Context, gen uint64) error {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return ErrSuperseded
	}
	identity := r.identity
	r.state = core.RegistrationRegistering
	r.publishLocked()
	r.mu.Unlock()

	r.metrics.RegistrationAttempt()
	if r.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()
	}
	reg, err := r.transport.Register(ctx, identity)

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		if err == nil {
			r.log.Debug().Str("identity", identity).Msg("releasing late registration")
			r.release(reg)
		}
		return ErrSuperseded
	}

	switch {
	case err == nil:
		r.live = reg
		r.state = core.RegistrationRegistered
		r.retryAttempt = 0
		r.lostAttempt = 0
		r.publishLocked()
		r.mu.Unlock()
		go r.watch(gen, reg)
		r.metrics.RegistrationResult("accepted", 0)
		r.log.Info().Str("identity", identity).Msg("identity registered")
		return nil

	case errors.Is(err, callengine.ErrAddressCollision):
		delay := r.cfg.Backoff(r.retryAttempt)
		r.retryAttempt++
		attempt := r.retryAttempt
		r.state = core.RegistrationConflicted
		r.timer = r.clock.AfterFunc(delay, func() { r.retry(gen) })
		r.publishLocked()
		r.mu.Unlock()
		r.metrics.RegistrationResult("collision", attempt)
		r.log.Warn().
			Str("identity", identity).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("identity collision, retry scheduled")
		return nil

	default:
		r.state = core.RegistrationUnregistered
		r.retryAttempt = 0
		r.publishLocked()
		r.mu.Unlock()
		r.metrics.RegistrationResult("error", 0)
		return fmt.Errorf("register %s: %w", identity, err)
	}
}

func (r *Registrar) retry(gen uint64) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()

	err := r.attempt(context.Background(), gen)
	if err != nil && !errors.Is(err, ErrSuperseded) {
		r.log.Error().Err(err).Msg("registration retry failed")
	}
}

// watch waits for reg to go away. If it is still the live registration
// the transport lost it, and the identity is registered again.
func (r *Registrar) watch(gen uint64, reg callengine.Registration) {
	<-reg.Done()

	r.mu.Lock()
	if gen != r.gen || r.live != reg {
		r.mu.Unlock()
		return
	}
	identity := r.identity
	r.live = nil
	r.state = core.RegistrationUnregistered
	r.publishLocked()
	r.mu.Unlock()

	r.release(reg)
	r.metrics.RegistrationResult("lost", 0)
	r.log.Warn().Str("identity", identity).Msg("registration lost, registering again")
	r.recover(gen)
}

// recover re-attempts a lost registration, backing off after failures
// until it succeeds or the registrar is reset.
func (r *Registrar) recover(gen uint64) {
	err := r.attempt(context.Background(), gen)
	if err == nil || errors.Is(err, ErrSuperseded) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.timer != nil {
		return
	}
	delay := r.cfg.Backoff(r.lostAttempt)
	r.lostAttempt++
	r.log.Warn().Err(err).Int("attempt", r.lostAttempt).Dur("retry_in", delay).Msg("re-registration failed")
	r.timer = r.clock.AfterFunc(delay, func() {
		r.mu.Lock()
		if gen != r.gen {
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()
		r.recover(gen)
	})
}

func (r *Registrar) release(reg callengine.Registration) {
	if reg == nil {
		return
	}
	if err := reg.Release(); err != nil {
		r.log.Warn().Err(err).Str("identity", reg.Identity()).Msg("release registration")
	}
}

func (r *Registrar) viewLocked() core.RegistrationView {
	return core.RegistrationView{
		Identity:     r.identity,
		State:        r.state,
		RetryAttempt: r.retryAttempt,
	}
}

func (r *Registrar) publishLocked() {
	if r.pub != nil {
		r.pub.PublishRegistration(r.viewLocked())
	}
}
