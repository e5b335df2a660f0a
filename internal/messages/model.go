package messages

import "time"

// Message is one persisted chat message. Identifiers are assigned by the
// store on insert and are strictly increasing within a room, so id order is
// display order.
type Message struct {
	ID       int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RoomID   string    `gorm:"column:room_id;size:190;not null;index:idx_messages_room,priority:1"`
	Username string    `gorm:"column:username;size:190;not null;index"`
	Body     string    `gorm:"column:message;type:text;not null"`
	SentAt   time.Time `gorm:"column:sent_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

// SearchQuery describes the optional filters for a message search.
type SearchQuery struct {
	Text     string
	RoomID   string
	Username string
	Limit    int
	Offset   int
}

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 500
)

func (q SearchQuery) boundedLimit() int {
	if q.Limit <= 0 {
		return defaultSearchLimit
	}
	if q.Limit > maxSearchLimit {
		return maxSearchLimit
	}
	return q.Limit
}
