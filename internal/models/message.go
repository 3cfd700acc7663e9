package models

import (
	"fmt"
	"time"
)

// Kind classifies a message. Media kinds carry a storage reference in
// Content instead of a text body.
type Kind string

const (
	KindText   Kind = "text"
	KindAudio  Kind = "audio"
	KindVideo  Kind = "video"
	KindSystem Kind = "system"
)

// SystemSender is the sender identity attributed to server-generated messages.
const SystemSender = "system"

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindAudio, KindVideo, KindSystem:
		return true
	}
	return false
}

// IsMedia reports whether the kind carries media metadata.
func (k Kind) IsMedia() bool {
	return k == KindAudio || k == KindVideo
}

// Message is a single chat message. Immutable once created; ID and CreatedAt
// are assigned by the store at persistence time. For ephemeral polling echoes
// that never reach the store, ID is a client-side UUID instead.
type Message struct {
	ID        string `json:"id,omitempty"`
	Kind      Kind   `json:"kind"`
	RoomID    string `json:"room_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds, server-assigned

	// Media metadata, present only for audio/video kinds.
	FileName  string `json:"file_name,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
	Duration  int    `json:"duration,omitempty"` // seconds
	Thumbnail string `json:"thumbnail,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Validate checks the message invariant: known kind, non-empty content and
// room, and media fields absent on text/system messages.
func (m *Message) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("invalid kind %q", m.Kind)
	}
	if m.RoomID == "" {
		return fmt.Errorf("room_id required")
	}
	if m.Content == "" {
		return fmt.Errorf("content required")
	}
	if !m.Kind.IsMedia() {
		if m.FileName != "" || m.FileSize != 0 || m.Duration != 0 || m.Thumbnail != "" || m.MimeType != "" {
			return fmt.Errorf("media fields not allowed for kind %q", m.Kind)
		}
	}
	return nil
}
