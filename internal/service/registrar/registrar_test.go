package registrar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirecall/internal/callengine"
	"github.com/vovakirdan/wirecall/internal/callengine/enginetest"
	"github.com/vovakirdan/wirecall/internal/core"
)

const waitFor = 2 * time.Second

func newTestRegistrar(t *testing.T) (*Registrar, *enginetest.Engine, *clock.Mock, *core.Hub) {
	t.Helper()
	engine := enginetest.New()
	mock := clock.NewMock()
	hub := core.NewHub()
	logger := zerolog.Nop()
	r := New(engine, hub, DefaultConfig(), &logger, WithClock(mock))
	t.Cleanup(r.Teardown)
	return r, engine, mock, hub
}

func TestBackoff(t *testing.T) {
	cfg := DefaultConfig()
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		6 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for n, w := range want {
		assert.Equal(t, w, cfg.Backoff(n), "attempt %d", n)
	}
	assert.Equal(t, 10*time.Second, cfg.Backoff(1<<40))
}

func TestEnsureRegisteredAccepts(t *testing.T) {
	r, engine, _, hub := newTestRegistrar(t)

	require.NoError(t, r.EnsureRegistered(context.Background(), "app-1"))

	id, ok := r.Registered()
	require.True(t, ok)
	assert.Equal(t, "app-1", id)
	assert.Len(t, engine.Live(), 1)

	view := hub.Latest().Registration
	assert.Equal(t, core.RegistrationRegistered, view.State)
	assert.Equal(t, "app-1", view.Identity)
	assert.Zero(t, view.RetryAttempt)
}

func TestEnsureRegisteredIsIdempotent(t *testing.T) {
	r, engine, _, _ := newTestRegistrar(t)
	ctx := context.Background()

	require.NoError(t, r.EnsureRegistered(ctx, "app-1"))
	require.NoError(t, r.EnsureRegistered(ctx, "app-1"))

	assert.Equal(t, []string{"app-1"}, engine.Attempts())
	assert.Len(t, engine.Live(), 1)
}

func TestEnsureRegisteredNewIdentityReleasesPrevious(t *testing.T) {
	r, engine, _, _ := newTestRegistrar(t)
	ctx := context.Background()

	require.NoError(t, r.EnsureRegistered(ctx, "app-1"))
	require.NoError(t, r.EnsureRegistered(ctx, "app-2"))

	regs := engine.Registrations()
	require.Len(t, regs, 2)
	assert.True(t, regs[0].Released())
	assert.False(t, regs[1].Released())

	id, ok := r.Registered()
	require.True(t, ok)
	assert.Equal(t, "app-2", id)
}

func TestCollisionBackoffSchedule(t *testing.T) {
	r, engine, mock, hub := newTestRegistrar(t)
	engine.QueueRegister(callengine.ErrAddressCollision, callengine.ErrAddressCollision, nil)

	require.NoError(t, r.EnsureRegistered(context.Background(), "app-1"))
	view := r.View()
	assert.Equal(t, core.RegistrationConflicted, view.State)
	assert.Equal(t, 1, view.RetryAttempt)
	assert.Equal(t, 1, hub.Latest().Registration.RetryAttempt)

	// No attempt before the first 2s delay elapses.
	mock.Add(1999 * time.Millisecond)
	assert.Len(t, engine.Attempts(), 1)

	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return len(engine.Attempts()) == 2 }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool {
		v := r.View()
		return v.State == core.RegistrationConflicted && v.RetryAttempt == 2
	}, waitFor, time.Millisecond)

	// Second collision waits 4s.
	mock.Add(3999 * time.Millisecond)
	assert.Len(t, engine.Attempts(), 2)

	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := r.Registered()
		return ok
	}, waitFor, time.Millisecond)
	assert.Len(t, engine.Attempts(), 3)
	assert.Zero(t, r.View().RetryAttempt)
	assert.Len(t, engine.Live(), 1)
}

func TestTeardownCancelsPendingRetry(t *testing.T) {
	r, engine, mock, hub := newTestRegistrar(t)
	engine.QueueRegister(callengine.ErrAddressCollision)

	require.NoError(t, r.EnsureRegistered(context.Background(), "app-1"))
	require.Equal(t, core.RegistrationConflicted, r.View().State)

	r.Teardown()
	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)

	assert.Len(t, engine.Attempts(), 1)
	assert.Equal(t, core.RegistrationUnregistered, hub.Latest().Registration.State)
	assert.Empty(t, hub.Latest().Registration.Identity)
}

func TestNewIdentityRestartsBackoff(t *testing.T) {
	r, engine, mock, _ := newTestRegistrar(t)
	engine.QueueRegister(callengine.ErrAddressCollision, callengine.ErrAddressCollision)
	ctx := context.Background()

	require.NoError(t, r.EnsureRegistered(ctx, "app-1"))
	// Same identity while a retry is pending: no-op.
	require.NoError(t, r.EnsureRegistered(ctx, "app-1"))
	assert.Len(t, engine.Attempts(), 1)

	require.NoError(t, r.EnsureRegistered(ctx, "app-2"))
	v := r.View()
	assert.Equal(t, "app-2", v.Identity)
	assert.Equal(t, 1, v.RetryAttempt)

	// The old identity's retry never fires; the new one fires at 2s.
	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool {
		_, ok := r.Registered()
		return ok
	}, waitFor, time.Millisecond)
	assert.Equal(t, []string{"app-1", "app-2", "app-2"}, engine.Attempts())
}

func TestNonCollisionFailureIsReturned(t *testing.T) {
	r, engine, mock, _ := newTestRegistrar(t)
	boom := errors.New("signaling unreachable")
	engine.QueueRegister(boom)

	err := r.EnsureRegistered(context.Background(), "app-1")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, core.RegistrationUnregistered, r.View().State)

	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, engine.Attempts(), 1)

	// Not retried on its own, but a new call tries again.
	require.NoError(t, r.EnsureRegistered(context.Background(), "app-1"))
	_, ok := r.Registered()
	assert.True(t, ok)
}

func TestLateAcceptanceAfterTeardownIsReleased(t *testing.T) {
	r, engine, _, _ := newTestRegistrar(t)
	release := engine.BlockRegister()

	done := make(chan error, 1)
	go func() { done <- r.EnsureRegistered(context.Background(), "app-1") }()

	select {
	case <-engine.RegisterEntered():
	case <-time.After(waitFor):
		t.Fatal("register not called")
	}
	assert.Equal(t, core.RegistrationRegistering, r.View().State)

	r.Teardown()
	release()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(waitFor):
		t.Fatal("EnsureRegistered did not return")
	}

	regs := engine.Registrations()
	require.Len(t, regs, 1)
	assert.True(t, regs[0].Released())
	_, ok := r.Registered()
	assert.False(t, ok)
}

func TestTeardownReleasesLiveRegistration(t *testing.T) {
	r, engine, _, _ := newTestRegistrar(t)
	require.NoError(t, r.EnsureRegistered(context.Background(), "app-1"))

	r.Teardown()
	r.Teardown()

	assert.Empty(t, engine.Live())
	assert.Equal(t, core.RegistrationUnregistered, r.View().State)
}

func TestLostRegistrationRegistersAgain(t *testing.T) {
	r, engine, _, hub := newTestRegistrar(t)
	require.NoError(t, r.EnsureRegistered(context.Background(), "app-1"))

	first := engine.Registrations()[0]
	first.Drop()

	require.Eventually(t, func() bool {
		return len(engine.Attempts()) == 2 &&
			hub.Latest().Registration.State == core.RegistrationRegistered
	}, waitFor, 5*time.Millisecond)

	assert.True(t, first.Released())
	assert.Len(t, engine.Live(), 1)
	id, ok := r.Registered()
	require.True(t, ok)
	assert.Equal(t, "app-1", id)
}

func TestLostRegistrationBacksOffUntilAccepted(t *testing.T) {
	r, engine, mock, _ := newTestRegistrar(t)
	require.NoError(t, r.EnsureRegistered(context.Background(), "app-1"))

	engine.QueueRegister(errors.New("signaling unreachable"))
	engine.Registrations()[0].Drop()

	require.Eventually(t, func() bool {
		return len(engine.Attempts()) == 2
	}, waitFor, 5*time.Millisecond)
	_, ok := r.Registered()
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		mock.Add(2 * time.Second)
		_, ok := r.Registered()
		return ok
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"app-1", "app-1", "app-1"}, engine.Attempts())
	assert.Len(t, engine.Live(), 1)
}

func TestEnsureRegisteredAfterLossRetriesNow(t *testing.T) {
	r, engine, _, _ := newTestRegistrar(t)
	ctx := context.Background()
	require.NoError(t, r.EnsureRegistered(ctx, "app-1"))

	engine.QueueRegister(errors.New("signaling unreachable"))
	engine.Registrations()[0].Drop()
	require.Eventually(t, func() bool {
		return len(engine.Attempts()) == 2 && r.View().State == core.RegistrationUnregistered
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, r.EnsureRegistered(ctx, "app-1"))
	_, ok := r.Registered()
	assert.True(t, ok)
	assert.Len(t, engine.Live(), 1)
}

func TestTeardownDoesNotTriggerReRegistration(t *testing.T) {
	r, engine, _, _ := newTestRegistrar(t)
	require.NoError(t, r.EnsureRegistered(context.Background(), "app-1"))

	r.Teardown()

	assert.Never(t, func() bool {
		return len(engine.Attempts()) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Empty(t, engine.Live())
}
