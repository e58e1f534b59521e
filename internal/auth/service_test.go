package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

type recordingLifecycle struct {
	mu        sync.Mutex
	inits     []string
	teardowns int
	initErr   error
}

func (r *recordingLifecycle) Init(_ context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits = append(r.inits, identity)
	return r.initErr
}

func (r *recordingLifecycle) Teardown() {
	r.mu.Lock()
	r.teardowns++
	r.mu.Unlock()
}

func (r *recordingLifecycle) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inits), r.teardowns
}

var testJWT = &JWTConfig{
	Secret:   []byte("test-secret-change-me"),
	Issuer:   "test",
	Audience: "test",
	TTL:      time.Hour,
}

func newTestAuthService(t *testing.T) (*Service, *recordingLifecycle, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	target := &recordingLifecycle{}
	logger := zerolog.Nop()
	return NewServiceWithClock(testJWT, "app", target, mock, &logger), target, mock
}

func mustToken(t *testing.T, cfg *JWTConfig, now time.Time, userID int64) string {
	t.Helper()
	token, err := generateTokenAt(cfg, now, userID, "alice", "https://example.com/a.png")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func TestActivateDerivesIdentity(t *testing.T) {
	svc, target, mock := newTestAuthService(t)

	sess, err := svc.Activate(context.Background(), mustToken(t, testJWT, mock.Now(), 42))
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if sess.Identity != "app-42" {
		t.Fatalf("expected identity app-42, got %s", sess.Identity)
	}
	if sess.DisplayName != "alice" || sess.Avatar == "" {
		t.Fatalf("unexpected profile: %+v", sess)
	}
	if len(target.inits) != 1 || target.inits[0] != "app-42" {
		t.Fatalf("expected Init(app-42), got %v", target.inits)
	}

	cur, err := svc.Current()
	if err != nil || cur.UserID != 42 {
		t.Fatalf("unexpected current session: %+v, %v", cur, err)
	}
}

func TestActivateRejectsBadTokens(t *testing.T) {
	svc, target, mock := newTestAuthService(t)
	now := mock.Now()

	wrongSecret := *testJWT
	wrongSecret.Secret = []byte("other")
	wrongIssuer := *testJWT
	wrongIssuer.Issuer = "elsewhere"
	wrongAudience := *testJWT
	wrongAudience.Audience = "elsewhere"

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "wrong secret", token: mustToken(t, &wrongSecret, now, 1)},
		{name: "wrong issuer", token: mustToken(t, &wrongIssuer, now, 1)},
		{name: "wrong audience", token: mustToken(t, &wrongAudience, now, 1)},
		{name: "expired", token: mustToken(t, testJWT, now.Add(-2*time.Hour), 1)},
		{name: "no user", token: mustToken(t, testJWT, now, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Activate(context.Background(), tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
	if inits, _ := target.counts(); inits != 0 {
		t.Fatalf("expected no Init for bad tokens, got %d", inits)
	}
	if _, err := svc.Current(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestDeactivateTearsDown(t *testing.T) {
	svc, target, mock := newTestAuthService(t)
	if _, err := svc.Activate(context.Background(), mustToken(t, testJWT, mock.Now(), 7)); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	svc.Deactivate()
	svc.Deactivate()

	if _, teardowns := target.counts(); teardowns != 1 {
		t.Fatalf("expected 1 teardown, got %d", teardowns)
	}

	// The expiry timer was cancelled with the session.
	mock.Add(2 * time.Hour)
	time.Sleep(10 * time.Millisecond)
	if _, teardowns := target.counts(); teardowns != 1 {
		t.Fatalf("expected expiry timer to be cancelled, got %d teardowns", teardowns)
	}
}

func TestTokenExpiryTearsDown(t *testing.T) {
	svc, target, mock := newTestAuthService(t)
	if _, err := svc.Activate(context.Background(), mustToken(t, testJWT, mock.Now(), 7)); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	mock.Add(59 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	if _, teardowns := target.counts(); teardowns != 0 {
		t.Fatalf("teardown before expiry")
	}

	mock.Add(time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, teardowns := target.counts(); teardowns == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session not torn down at expiry")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := svc.Current(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after expiry, got %v", err)
	}
}

func TestReactivateReplacesExpiryTimer(t *testing.T) {
	svc, target, mock := newTestAuthService(t)
	ctx := context.Background()
	if _, err := svc.Activate(ctx, mustToken(t, testJWT, mock.Now(), 7)); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	mock.Add(30 * time.Minute)
	if _, err := svc.Activate(ctx, mustToken(t, testJWT, mock.Now(), 7)); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// The first token's expiry passes without tearing down the second.
	mock.Add(45 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	if _, teardowns := target.counts(); teardowns != 0 {
		t.Fatalf("stale expiry tore down the refreshed session")
	}
	if _, err := svc.Current(); err != nil {
		t.Fatalf("expected active session, got %v", err)
	}
}

func TestActivateReportsInitFailure(t *testing.T) {
	svc, target, mock := newTestAuthService(t)
	boom := errors.New("signaling down")
	target.initErr = boom

	sess, err := svc.Activate(context.Background(), mustToken(t, testJWT, mock.Now(), 9))
	if !errors.Is(err, boom) {
		t.Fatalf("expected init error, got %v", err)
	}
	if sess == nil || sess.Identity != "app-9" {
		t.Fatalf("expected session to be returned with the error, got %+v", sess)
	}
}
