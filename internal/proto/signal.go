package proto

import "encoding/json"

// Signal is the envelope exchanged with the signaling server.
type Signal struct {
	Type    string          `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Signal types. The server answers a connection with OPEN when the identity
// was bound, or ID-TAKEN when another connection already holds it.
const (
	SignalOpen      = "OPEN"
	SignalIDTaken   = "ID-TAKEN"
	SignalError     = "ERROR"
	SignalOffer     = "OFFER"
	SignalAnswer    = "ANSWER"
	SignalCandidate = "CANDIDATE"
	SignalLeave     = "LEAVE"
	SignalExpire    = "EXPIRE"
	SignalHeartbeat = "HEARTBEAT"
)

// SessionDescription is an SDP blob with its type ("offer" or "answer").
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a trickled ICE candidate.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// OfferPayload opens a media connection.
type OfferPayload struct {
	ConnectionID string             `json:"connectionId"`
	SDP          SessionDescription `json:"sdp"`
	Metadata     json.RawMessage    `json:"metadata,omitempty"`
}

// AnswerPayload accepts a media connection.
type AnswerPayload struct {
	ConnectionID string             `json:"connectionId"`
	SDP          SessionDescription `json:"sdp"`
}

// CandidatePayload carries one ICE candidate for a connection.
type CandidatePayload struct {
	ConnectionID string       `json:"connectionId"`
	Candidate    ICECandidate `json:"candidate"`
}

// LeavePayload closes a connection. An empty ConnectionID closes every
// connection with the sender.
type LeavePayload struct {
	ConnectionID string `json:"connectionId,omitempty"`
}

// ErrorPayload describes a server-side failure.
type ErrorPayload struct {
	Msg string `json:"msg"`
}

// NewSignal marshals payload into a Signal envelope.
func NewSignal(typ, src, dst string, payload any) (Signal, error) {
	sig := Signal{Type: typ, Src: src, Dst: dst}
	if payload == nil {
		return sig, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return sig, err
	}
	sig.Payload = data
	return sig, nil
}
