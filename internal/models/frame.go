package models

// Client frame types accepted on the push channel, beyond the four message
// kinds which double as frame types.
const (
	FrameJoin  = "join"
	FrameLeave = "leave"
	FramePing  = "ping"
)

// Server frame types. Normalized chat/presence echoes are not wrapped in a
// frame; they are sent as the Message entity itself, whose "kind" field tells
// the client what it received.
const (
	FrameSystem  = "system"
	FrameJoined  = "joined"
	FrameHistory = "history"
	FrameError   = "error"
	FramePong    = "pong"
)

// ClientFrame is the envelope for every inbound push-channel frame.
type ClientFrame struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id,omitempty"`
	SenderID string `json:"sender_id,omitempty"`
	Content  string `json:"content,omitempty"`

	FileName  string `json:"file_name,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`

	// Client-supplied timestamp, kept when present; the server fills it
	// with receipt time when absent.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ServerFrame is the envelope for server-originated control frames
// (welcome, join ack, history, errors, pong).
type ServerFrame struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"room_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp int64     `json:"timestamp"`
	Messages  []Message `json:"messages,omitempty"`
}
