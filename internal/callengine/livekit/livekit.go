// Package livekit mints signaling credentials with LiveKit API key pairs.
// The signaling server verifies the token before binding the identity.
package livekit

import (
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

// TokenIssuer signs short-lived access tokens for transport identities.
type TokenIssuer struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

// New creates a TokenIssuer. A non-positive ttl defaults to one hour.
func New(apiKey, apiSecret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		ttl:       ttl,
	}
}

// Token returns a signed token that lets identity bind itself on the
// signaling server. The grant is scoped to a room named after the identity
// so a token cannot be replayed for another address.
func (i *TokenIssuer) Token(identity string) (string, error) {
	if identity == "" {
		return "", errors.New("empty identity")
	}

	at := auth.NewAccessToken(i.apiKey, i.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     identity,
	}
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(identity).
		SetValidFor(i.ttl)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}
