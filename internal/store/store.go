package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// CallRecord is one finished call session, or one declined inbound offer.
type CallRecord struct {
	ID             string // session UUID
	LocalIdentity  string
	RemoteIdentity string
	Direction      string // "incoming" or "outgoing"
	MediaKind      string // "audio" or "video"
	PeerName       string
	PeerAvatar     string
	EndReason      string
	StartedAt      time.Time
	ConnectedAt    *time.Time
	EndedAt        time.Time
}

// Connected reports whether the call ever reached the connected state.
func (r *CallRecord) Connected() bool {
	return r.ConnectedAt != nil
}

// HistoryStore handles call history persistence.
type HistoryStore interface {
	// RecordCall persists a finished call.
	RecordCall(ctx context.Context, rec *CallRecord) error

	// GetCall retrieves a call record by session ID.
	GetCall(ctx context.Context, id string) (*CallRecord, error)

	// ListCalls lists the most recent calls of localIdentity, newest first.
	// An empty localIdentity lists calls of every identity.
	ListCalls(ctx context.Context, localIdentity string, limit int) ([]*CallRecord, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	HistoryStore

	// Close closes the underlying database connection.
	Close() error
}
