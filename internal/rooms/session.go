package rooms

import (
	"context"
	"encoding/json"

	"github.com/portside-labs/minichat/backend/internal/messages"
	"go.uber.org/zap"
)

// Close codes distinguish why a handshake was refused before the session
// opened.
const (
	// CloseUnauthenticated is sent when the bearer token is missing or
	// invalid.
	CloseUnauthenticated = 4001
	// CloseForbidden is sent when the identity is known but the room access
	// policy denies the subscription.
	CloseForbidden = 4003
)

// SessionTransport is the bidirectional push channel a room session owns.
// ReadFrame blocks until the peer sends a frame or the connection dies.
type SessionTransport interface {
	Conn
	ReadFrame() ([]byte, error)
	Close(code int, reason string) error
}

// IdentityResolver verifies a bearer credential and returns the username it
// belongs to.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (string, error)
}

// MessageLog is the narrow append contract the session needs from the
// durable store.
type MessageLog interface {
	Append(ctx context.Context, roomID, username, body string) (messages.Message, error)
}

// inboundKind enumerates the closed set of inbound frame variants. Unknown
// tags decode to a no-op variant instead of being dispatched dynamically.
type inboundKind int

const (
	inboundUnknown inboundKind = iota
	inboundMessage
)

type inboundFrame struct {
	kind inboundKind
	body string
}

func decodeInbound(data []byte) (inboundFrame, error) {
	var raw struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return inboundFrame{}, err
	}
	switch raw.Type {
	case eventTypeMessage:
		return inboundFrame{kind: inboundMessage, body: raw.Message}, nil
	default:
		return inboundFrame{kind: inboundUnknown}, nil
	}
}

// SessionHandlerConfig describes the collaborators for room sessions.
type SessionHandlerConfig struct {
	Rooms       *Service
	Identity    IdentityResolver
	Log         MessageLog
	Broadcaster *Broadcaster
	Logger      *zap.Logger
}

// SessionHandler drives the per-connection room chat protocol:
// Unauthenticated -> Authorizing -> Open -> Closed.
type SessionHandler struct {
	rooms       *Service
	identity    IdentityResolver
	log         MessageLog
	broadcaster *Broadcaster
	logger      *zap.Logger
}

// NewSessionHandler constructs the protocol handler shared by all room
// connections.
func NewSessionHandler(cfg SessionHandlerConfig) *SessionHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SessionHandler{
		rooms:       cfg.Rooms,
		identity:    cfg.Identity,
		log:         cfg.Log,
		broadcaster: cfg.Broadcaster,
		logger:      logger,
	}
}

// Run owns one transport's lifecycle for a room: it authenticates,
// authorizes, registers with the broadcaster, then loops on inbound frames
// until the peer disconnects. It returns once the session is closed and the
// connection is guaranteed to be unregistered.
func (h *SessionHandler) Run(ctx context.Context, transport SessionTransport, roomID, token string) {
	username, err := h.identity.ResolveIdentity(ctx, token)
	if err != nil || username == "" {
		_ = transport.Close(CloseUnauthenticated, "authentication required")
		return
	}

	// Posting to an unknown non-DM id lazily creates the channel; the
	// reserved dm- namespace is never auto-created.
	if !IsDirectRoomID(roomID) {
		if err := h.rooms.Registry().EnsureExists(ctx, roomID); err != nil {
			h.logger.Error("room auto-create failed",
				zap.String("room_id", roomID),
				zap.Error(err))
			_ = transport.Close(CloseForbidden, "room unavailable")
			return
		}
	}

	if err := h.rooms.Authorize(ctx, roomID, username); err != nil {
		_ = transport.Close(CloseForbidden, "access denied")
		return
	}

	if err := transport.Send(NewConnectedEvent(roomID, username)); err != nil {
		_ = transport.Close(CloseForbidden, "handshake failed")
		return
	}

	h.broadcaster.Connect(transport, roomID)
	// Every exit path below funnels through this single deferred
	// unregister, so a stale handle can never leak into the room's set.
	defer h.broadcaster.Disconnect(transport, roomID)

	h.logger.Info("room session open",
		zap.String("room_id", roomID),
		zap.String("username", username))

	for {
		data, err := transport.ReadFrame()
		if err != nil {
			h.logger.Debug("room session closed",
				zap.String("room_id", roomID),
				zap.String("username", username),
				zap.Error(err))
			return
		}

		frame, err := decodeInbound(data)
		if err != nil {
			// Malformed input is answered on this connection only and does
			// not close the session.
			if sendErr := transport.Send(NewErrorEvent("invalid json")); sendErr != nil {
				return
			}
			continue
		}
		if frame.kind != inboundMessage {
			continue
		}

		record, err := h.log.Append(ctx, roomID, username, frame.body)
		if err != nil {
			h.logger.Error("message append failed in session",
				zap.String("room_id", roomID),
				zap.String("username", username),
				zap.Error(err))
			if sendErr := transport.Send(NewErrorEvent("message not saved")); sendErr != nil {
				return
			}
			continue
		}

		h.broadcaster.Broadcast(roomID, NewMessageEvent(record))
	}
}
