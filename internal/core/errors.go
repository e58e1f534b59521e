package core

// Error codes reported to the control surface.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNoSession    = "no_session"
	ErrCodeRateLimited  = "rate_limited"

	// Call-related error codes
	ErrCodeNotRegistered     = "not_registered"
	ErrCodeCallInProgress    = "call_in_progress"
	ErrCodeNoIncomingCall    = "no_incoming_call"
	ErrCodeAnswerInProgress  = "answer_in_progress"
	ErrCodeCallCancelled     = "call_cancelled"
	ErrCodePermissionDenied  = "permission_denied"
	ErrCodeDeviceUnavailable = "device_unavailable"
	ErrCodeCallError         = "call_error"
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// NewError builds a CoreError.
func NewError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
