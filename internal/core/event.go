package core

import (
	"time"

	"github.com/vovakirdan/wirecall/internal/media"
)

// RegistrationState tracks the identity binding on the transport.
type RegistrationState string

const (
	RegistrationUnregistered RegistrationState = "unregistered"
	RegistrationRegistering  RegistrationState = "registering"
	RegistrationRegistered   RegistrationState = "registered"
	// RegistrationConflicted means the identity was taken and a retry is pending.
	RegistrationConflicted RegistrationState = "conflicted"
)

// Direction tells who placed the call.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// CallStatus is the lifecycle state of a call session.
type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusCalling   CallStatus = "calling"
	CallStatusConnected CallStatus = "connected"
	CallStatusEnded     CallStatus = "ended"
)

// EndReason explains why a session left the active state.
type EndReason string

const (
	EndReasonLocal          EndReason = "local_hangup"
	EndReasonRemoteClosed   EndReason = "remote_closed"
	EndReasonTransportError EndReason = "transport_error"
	EndReasonMediaFailed    EndReason = "media_failed"
	EndReasonAnswerFailed   EndReason = "answer_failed"
	EndReasonTeardown       EndReason = "teardown"
	// EndReasonMissed marks an inbound offer declined because a call was active.
	EndReasonMissed EndReason = "missed"
)

// PeerMetadata is what the counterpart presents about itself.
type PeerMetadata struct {
	Name   string
	Avatar string
}

// RegistrationView is the registrar part of a Snapshot.
type RegistrationView struct {
	Identity     string
	State        RegistrationState
	RetryAttempt int
}

// CallView is the call part of a Snapshot.
type CallView struct {
	ID              string
	RemoteIdentity  string
	Direction       Direction
	MediaKind       media.Kind
	Status          CallStatus
	HasLocalStream  bool
	HasRemoteStream bool
	Muted           bool
	CameraOff       bool
	Peer            PeerMetadata
	StartedAt       time.Time
	ConnectedAt     *time.Time
}

// Snapshot is everything the presentation surface renders.
// A nil Call means no session exists.
type Snapshot struct {
	Registration RegistrationView
	Call         *CallView
	Seq          uint64
}
