package callengine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/vovakirdan/wirecall/internal/media"
	"github.com/vovakirdan/wirecall/internal/proto"
)

var (
	// ErrAddressCollision is returned by Register when the identity is
	// already registered elsewhere, typically by a stale previous process.
	ErrAddressCollision = errors.New("identity already registered")
	// ErrNotRegistered is returned by Open when no registration is live.
	ErrNotRegistered = errors.New("transport not registered")
	// ErrHandleClosed is returned by Answer on a closed handle.
	ErrHandleClosed = errors.New("transport handle closed")
)

// Engine abstracts the peer-to-peer transport that carries calls.
type Engine interface {
	// Register binds identity to this process on the transport.
	// Returns ErrAddressCollision when the identity is taken.
	Register(ctx context.Context, identity string) (Registration, error)

	// Open starts an outgoing session to remote offering local media.
	Open(ctx context.Context, remote string, local media.Stream, md proto.CallMetadata) (Handle, error)

	// OnIncoming sets the handler for inbound session offers. Offers are
	// delivered off the signaling path, so the handler may block.
	OnIncoming(fn func(*Offer))
}

// Registration is one live identity binding.
type Registration interface {
	Identity() string
	// Release drops the binding and closes every handle opened under it.
	// Release is idempotent.
	Release() error
	// Done is closed once the binding is gone, either released or lost
	// with the transport connection.
	Done() <-chan struct{}
}

// Offer is an inbound session proposal. Metadata is the raw, untrusted
// payload sent by the caller.
type Offer struct {
	From     string
	Metadata json.RawMessage
	Handle   Handle
}

// Handle is one session on the transport.
type Handle interface {
	ID() string
	// Answer completes an inbound session with local media.
	Answer(local media.Stream) error
	// Close tears the session down. Close is idempotent.
	Close() error
	// Events delivers session events. The channel is closed after the
	// first EventClose or EventError.
	Events() <-chan Event
}

// EventKind names what happened on a Handle.
type EventKind int

const (
	// EventStream carries the remote party's media.
	EventStream EventKind = iota
	// EventClose reports that the session ended.
	EventClose
	// EventError reports that the session failed.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStream:
		return "stream"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted by a Handle.
type Event struct {
	Kind   EventKind
	Stream media.Stream // EventStream only
	Err    error        // EventError only
}
