package proto

// Outbound is the envelope pushed to control-surface websocket clients.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

const (
	ProtocolVersion = 1

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventSnapshot = "snapshot"
)

// Snapshot is the wire form of the session manager state.
type Snapshot struct {
	Registration Registration `json:"registration"`
	Call         *Call        `json:"call"`
	Seq          uint64       `json:"seq"`
}

// Registration is the identity registrar view.
type Registration struct {
	Identity     string `json:"identity,omitempty"`
	State        string `json:"state"`
	RetryAttempt int    `json:"retry_attempt"`
}

// Call is the active call view. Nil on the wire means no call.
type Call struct {
	ID              string `json:"id"`
	RemoteIdentity  string `json:"remote_identity"`
	Direction       string `json:"direction"`
	MediaKind       string `json:"media_kind"`
	Status          string `json:"status"`
	HasLocalStream  bool   `json:"has_local_stream"`
	HasRemoteStream bool   `json:"has_remote_stream"`
	Muted           bool   `json:"muted"`
	CameraOff       bool   `json:"camera_off"`
	PeerName        string `json:"peer_name"`
	PeerAvatar      string `json:"peer_avatar,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
