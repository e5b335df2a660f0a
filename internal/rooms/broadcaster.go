package rooms

import (
	"sync"

	"go.uber.org/zap"
)

// Conn is one live push connection. Send reports failure instead of raising;
// a failed send marks the peer dead and triggers removal from whichever
// registry holds it.
type Conn interface {
	Send(event any) error
}

// Broadcaster owns the per-room sets of live push connections and delivers
// events to every connection in a room. Delivery is best-effort and
// fire-and-forget per connection: dead peers are pruned lazily on the next
// send attempt, not via heartbeats.
type Broadcaster struct {
	mu     sync.Mutex
	rooms  map[string]map[Conn]struct{}
	logger *zap.Logger
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = noOpLogger
	}
	return &Broadcaster{
		rooms:  make(map[string]map[Conn]struct{}),
		logger: logger,
	}
}

// Connect registers a live connection under the room's connection set. The
// caller has already accepted the underlying handshake.
func (b *Broadcaster) Connect(conn Conn, roomID string) {
	b.mu.Lock()
	set, ok := b.rooms[roomID]
	if !ok {
		set = make(map[Conn]struct{})
		b.rooms[roomID] = set
	}
	set[conn] = struct{}{}
	total := len(set)
	b.mu.Unlock()

	b.logger.Debug("room connection added",
		zap.String("room_id", roomID),
		zap.Int("connections", total))
}

// Disconnect removes the connection; when the room's set becomes empty the
// entry itself is dropped so empty rooms never accumulate.
func (b *Broadcaster) Disconnect(conn Conn, roomID string) {
	b.mu.Lock()
	set, ok := b.rooms[roomID]
	if ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(b.rooms, roomID)
		}
	}
	b.mu.Unlock()
}

// Broadcast delivers the event to every connection currently registered for
// the room. Iteration runs over a snapshot, so connections added or removed
// mid-broadcast cannot corrupt it; a send failure prunes that one connection
// and never blocks delivery to the rest.
func (b *Broadcaster) Broadcast(roomID string, event any) {
	b.mu.Lock()
	set := b.rooms[roomID]
	snapshot := make([]Conn, 0, len(set))
	for conn := range set {
		snapshot = append(snapshot, conn)
	}
	b.mu.Unlock()

	for _, conn := range snapshot {
		if err := conn.Send(event); err != nil {
			b.logger.Debug("pruning dead room connection",
				zap.String("room_id", roomID),
				zap.Error(err))
			b.Disconnect(conn, roomID)
		}
	}
}

// ConnectionCount reports the live connections for a room.
func (b *Broadcaster) ConnectionCount(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[roomID])
}

// HasRoom reports whether the room currently holds any live connections.
func (b *Broadcaster) HasRoom(roomID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.rooms[roomID]
	return ok
}
