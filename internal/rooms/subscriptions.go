package rooms

import (
	"sync"

	"go.uber.org/zap"
)

// ListSubscriptions is the per-user analog of the Broadcaster: it tracks
// live connections subscribed to a named list resource (for example
// "rooms") and pushes change events to a user's connections. The resource
// name exists purely for diagnostics; no resource-specific logic lives
// here.
type ListSubscriptions struct {
	name        string
	mu          sync.Mutex
	subscribers map[string]map[Conn]struct{}
	logger      *zap.Logger
}

// NewListSubscriptions constructs an empty registry for the named resource.
func NewListSubscriptions(name string, logger *zap.Logger) *ListSubscriptions {
	if logger == nil {
		logger = noOpLogger
	}
	return &ListSubscriptions{
		name:        name,
		subscribers: make(map[string]map[Conn]struct{}),
		logger:      logger,
	}
}

// Connect registers a connection under the owning user. A user may hold
// many concurrent connections, one per device or tab.
func (l *ListSubscriptions) Connect(conn Conn, username string) {
	l.mu.Lock()
	set, ok := l.subscribers[username]
	if !ok {
		set = make(map[Conn]struct{})
		l.subscribers[username] = set
	}
	set[conn] = struct{}{}
	total := len(set)
	l.mu.Unlock()

	l.logger.Debug("list subscription added",
		zap.String("resource", l.name),
		zap.String("username", username),
		zap.Int("connections", total))
}

// Disconnect removes the connection, dropping the user's entry when the
// last connection goes away.
func (l *ListSubscriptions) Disconnect(conn Conn, username string) {
	l.mu.Lock()
	set, ok := l.subscribers[username]
	if ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(l.subscribers, username)
		}
	}
	l.mu.Unlock()
}

// Notify pushes the event to every connection the user holds. A nil event
// defaults to the content-free update signal. Failed sends prune that one
// connection only.
func (l *ListSubscriptions) Notify(username string, event any) {
	if event == nil {
		event = NewUpdateEvent()
	}

	l.mu.Lock()
	set := l.subscribers[username]
	snapshot := make([]Conn, 0, len(set))
	for conn := range set {
		snapshot = append(snapshot, conn)
	}
	l.mu.Unlock()

	for _, conn := range snapshot {
		if err := conn.Send(event); err != nil {
			l.logger.Debug("pruning dead list subscription",
				zap.String("resource", l.name),
				zap.String("username", username),
				zap.Error(err))
			l.Disconnect(conn, username)
		}
	}
}

// NotifyAll pushes the event to every subscribed user. Each user's delivery
// is an independent Notify call, so one slow or failing user never blocks
// the others.
func (l *ListSubscriptions) NotifyAll(event any) {
	l.mu.Lock()
	usernames := make([]string, 0, len(l.subscribers))
	for username := range l.subscribers {
		usernames = append(usernames, username)
	}
	l.mu.Unlock()

	for _, username := range usernames {
		l.Notify(username, event)
	}
}

// SubscriberCount reports the live connections held by a user.
func (l *ListSubscriptions) SubscriberCount(username string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subscribers[username])
}
