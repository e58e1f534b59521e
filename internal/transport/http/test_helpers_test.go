package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/auth"
	"github.com/vovakirdan/wirecall/internal/callengine/enginetest"
	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/media/mediatest"
	"github.com/vovakirdan/wirecall/internal/service/calls"
	"github.com/vovakirdan/wirecall/internal/service/registrar"
	"github.com/vovakirdan/wirecall/internal/store"
	"github.com/vovakirdan/wirecall/internal/store/sqlite"
)

const testSecret = "test-secret-please-change"

type testEnv struct {
	ts       *httptest.Server
	engine   *enginetest.Engine
	gateway  *mediatest.Gateway
	manager  *calls.Manager
	sessions *auth.Service
	history  store.Store
	jwt      *auth.JWTConfig
	clock    *clock.Mock
}

// createTestStore creates an in-memory SQLite store with schema applied.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// startTestServer wires a real manager and identity source over fakes of
// the transport and the devices.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}

	logger := zerolog.Nop()
	mock := clock.NewMock()
	mock.Set(time.Now())
	env := &testEnv{
		engine:  enginetest.New(),
		gateway: mediatest.NewGateway(),
		history: createTestStore(t),
		clock:   mock,
		jwt: &auth.JWTConfig{
			Secret:   []byte(testSecret),
			Issuer:   "test",
			Audience: "test",
			TTL:      time.Hour,
		},
	}

	env.manager = calls.NewManager(env.engine, env.gateway, calls.ManagerConfig{
		Registration: registrar.DefaultConfig(),
		Clock:        mock,
		History:      env.history,
	}, &logger)
	env.sessions = auth.NewServiceWithClock(env.jwt, "wirecall", env.manager, mock, &logger)
	t.Cleanup(env.sessions.Deactivate)

	router := NewRouter(&cfg, Deps{
		Calls:    env.manager,
		Sessions: env.sessions,
		History:  env.history,
		Metrics:  stdhttp.NotFoundHandler(),
		Clock:    mock,
	}, &logger)
	env.ts = httptest.NewServer(router)
	t.Cleanup(env.ts.Close)

	return env
}

func (e *testEnv) token(t *testing.T, userID int64, name string) string {
	t.Helper()
	token, err := auth.GenerateToken(e.jwt, userID, name, "")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

// login activates a session for userID and returns its identity.
func (e *testEnv) login(t *testing.T, userID int64, name string) string {
	t.Helper()
	resp := e.do(t, stdhttp.MethodPut, "/api/session", e.token(t, userID, name), nil)
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("login: unexpected status %d", resp.StatusCode)
	}
	var sess SessionResponse
	decode(t, resp, &sess)
	return sess.Identity
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *stdhttp.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := stdhttp.NewRequestWithContext(context.Background(), method, e.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *stdhttp.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
