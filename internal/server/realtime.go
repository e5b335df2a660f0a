package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/portside-labs/minichat/backend/internal/rooms"
	"go.uber.org/zap"
)

const socketWriteTimeout = 10 * time.Second

var socketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn adapts a gorilla connection to the rooms transport contracts. The
// mutex serializes writes because broadcasts arrive from other sessions'
// goroutines while this session may be emitting its own frames.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (w *wsConn) Send(event any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(event)
}

func (w *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

// Close sends a close control frame with the given status code before
// tearing down the underlying connection.
func (w *wsConn) Close(code int, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	deadline := time.Now().Add(socketWriteTimeout)
	_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return w.conn.Close()
}

// handleRoomSocket upgrades the request and hands the connection to the
// room session protocol. Authentication uses the token query parameter
// because browser WebSocket clients cannot set an Authorization header.
func (h *httpHandler) handleRoomSocket(c *gin.Context) {
	conn, err := socketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("room socket upgrade failed", zap.Error(err))
		return
	}

	transport := newWSConn(conn)
	defer conn.Close()

	h.sessions.Run(c.Request.Context(), transport, c.Param("room_id"), c.Query("token"))
}

// handleRoomListSocket serves the per-user room list feed. The server only
// ever pushes update signals on this socket; inbound frames are drained and
// ignored until the peer goes away.
func (h *httpHandler) handleRoomListSocket(c *gin.Context) {
	conn, err := socketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("room list socket upgrade failed", zap.Error(err))
		return
	}

	transport := newWSConn(conn)
	defer conn.Close()

	username, err := h.auth.ResolveIdentity(c.Request.Context(), c.Query("token"))
	if err != nil || username == "" {
		_ = transport.Close(rooms.CloseUnauthenticated, "authentication required")
		return
	}

	h.subscriptions.Connect(transport, username)
	defer h.subscriptions.Disconnect(transport, username)

	h.logger.Debug("room list subscription open", zap.String("username", username))

	for {
		if _, err := transport.ReadFrame(); err != nil {
			return
		}
	}
}
