package rooms

import (
	"time"

	"github.com/portside-labs/minichat/backend/internal/messages"
)

const (
	eventTypeConnected = "connected"
	eventTypeMessage   = "message"
	eventTypeError     = "error"
	eventTypeUpdate    = "update"
)

// ConnectedEvent confirms a successful room handshake, naming the room and
// the resolved username.
type ConnectedEvent struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	Username string `json:"username"`
}

// NewConnectedEvent builds the confirmation frame sent on session open.
func NewConnectedEvent(roomID, username string) ConnectedEvent {
	return ConnectedEvent{Type: eventTypeConnected, Room: roomID, Username: username}
}

// MessagePayload is the wire shape of one chat message.
type MessagePayload struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// MessageEvent is broadcast to a room after a message is durably appended.
type MessageEvent struct {
	Type string         `json:"type"`
	Data MessagePayload `json:"data"`
}

// NewMessageEvent wraps a stored message for live delivery.
func NewMessageEvent(record messages.Message) MessageEvent {
	return MessageEvent{Type: eventTypeMessage, Data: NewMessagePayload(record)}
}

// NewMessagePayload converts a stored message to its wire shape.
func NewMessagePayload(record messages.Message) MessagePayload {
	return MessagePayload{
		ID:        record.ID,
		Username:  record.Username,
		Message:   record.Body,
		Timestamp: record.SentAt.UTC().Format(time.RFC3339),
	}
}

// ErrorEvent is returned on a single connection after malformed input; the
// session stays open.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorEvent builds an in-session error frame.
func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: eventTypeError, Message: message}
}

// UpdateEvent is the content-free invalidation signal pushed to list
// subscribers; clients re-fetch the list via the pull API rather than parse
// a diff.
type UpdateEvent struct {
	Type string `json:"type"`
}

// NewUpdateEvent builds the default list-changed signal.
func NewUpdateEvent() UpdateEvent {
	return UpdateEvent{Type: eventTypeUpdate}
}
