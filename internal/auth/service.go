package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// ErrNoSession is returned when no identity token is active.
var ErrNoSession = errors.New("no active session")

// Lifecycle is driven by the identity source: Init when a user session
// becomes available, Teardown when it goes away.
type Lifecycle interface {
	Init(ctx context.Context, identity string) error
	Teardown()
}

// Session is the authenticated user currently bound to this process.
type Session struct {
	Identity    string
	UserID      int64
	DisplayName string
	Avatar      string
	ExpiresAt   time.Time
}

// Service turns identity tokens into session lifecycle events. Activating
// a token is the "present" signal; Deactivate or token expiry is "absent".
type Service struct {
	jwt    *JWTConfig
	prefix string
	target Lifecycle
	clock  clock.Clock
	log    zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	current *Session
	timer   *clock.Timer
}

// NewService creates an identity source that derives identities as
// "<prefix>-<userID>".
func NewService(jwtConfig *JWTConfig, prefix string, target Lifecycle, logger *zerolog.Logger) *Service {
	return NewServiceWithClock(jwtConfig, prefix, target, clock.New(), logger)
}

// NewServiceWithClock is NewService with an explicit clock.
func NewServiceWithClock(jwtConfig *JWTConfig, prefix string, target Lifecycle, clk clock.Clock,
	logger *zerolog.Logger,
) *Service {
	return &Service{
		jwt:    jwtConfig,
		prefix: strings.TrimSuffix(prefix, "-"),
		target: target,
		clock:  clk,
		log:    logger.With().Str("component", "auth").Logger(),
	}
}

// IdentityFor returns the transport identity of a user.
func (s *Service) IdentityFor(userID int64) string {
	if s.prefix == "" {
		return fmt.Sprintf("%d", userID)
	}
	return fmt.Sprintf("%s-%d", s.prefix, userID)
}

// Activate validates token and makes its user the local identity. The
// session is torn down automatically when the token expires.
func (s *Service) Activate(ctx context.Context, token string) (*Session, error) {
	claims, err := ValidateToken(s.jwt, strings.TrimSpace(token), s.clock.Now)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		Identity:    s.IdentityFor(claims.UserID),
		UserID:      claims.UserID,
		DisplayName: claims.Username,
		Avatar:      claims.Avatar,
		ExpiresAt:   claims.ExpiresAt.Time,
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.current = sess
	s.timer = s.clock.AfterFunc(sess.ExpiresAt.Sub(s.clock.Now()), func() { s.expire(gen) })
	s.mu.Unlock()

	s.log.Info().Str("identity", sess.Identity).Time("expires_at", sess.ExpiresAt).Msg("session activated")
	if err := s.target.Init(ctx, sess.Identity); err != nil {
		return sess, fmt.Errorf("init session: %w", err)
	}
	return sess, nil
}

// Deactivate tears the current session down. It is a no-op without one.
func (s *Service) Deactivate() {
	s.deactivate(0)
}

// deactivate ends the session; a non-zero gen only ends the session
// activated under that generation.
func (s *Service) deactivate(gen uint64) {
	s.mu.Lock()
	if s.current == nil || (gen != 0 && gen != s.gen) {
		s.mu.Unlock()
		return
	}
	identity := s.current.Identity
	s.gen++
	s.current = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.target.Teardown()
	s.log.Info().Str("identity", identity).Msg("session deactivated")
}

// Current returns the active session.
func (s *Service) Current() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, ErrNoSession
	}
	cp := *s.current
	return &cp, nil
}

func (s *Service) expire(gen uint64) {
	s.log.Warn().Uint64("gen", gen).Msg("identity token expired")
	s.deactivate(gen)
}
