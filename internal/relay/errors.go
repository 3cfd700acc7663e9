package relay

import "fmt"

// ValidationError reports a missing or empty required field. It is
// delivered to the originating connection only and never broadcast; the
// connection stays open.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// NotJoinedError reports a chat message sent before joining a room.
type NotJoinedError struct{}

func (e *NotJoinedError) Error() string {
	return "join a room before sending messages"
}

// TransportSendError reports one unreachable recipient during fan-out. It
// is logged and skipped; it never affects delivery to the remaining members
// or the overall operation's success.
type TransportSendError struct {
	ConnID string
	Err    error
}

func (e *TransportSendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.ConnID, e.Err)
}

func (e *TransportSendError) Unwrap() error { return e.Err }
