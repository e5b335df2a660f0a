package rooms

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// RoomType distinguishes open channels from two-party direct conversations.
// A room's type is immutable after creation.
type RoomType string

const (
	// RoomTypeChannel is a room visible to every authenticated user.
	RoomTypeChannel RoomType = "channel"
	// RoomTypeDM is a private room visible only to its exactly two members.
	RoomTypeDM RoomType = "dm"
)

// dmPrefix is reserved for deterministically derived direct-message room ids.
const dmPrefix = "dm-"

var (
	// ErrUnauthenticated indicates no usable identity accompanied the request.
	ErrUnauthenticated = errors.New("rooms: unauthenticated")
	// ErrForbidden indicates the identity is known but access is denied.
	ErrForbidden = errors.New("rooms: forbidden")
	// ErrNotFound indicates the room does not exist.
	ErrNotFound = errors.New("rooms: room not found")
	// ErrAlreadyExists indicates a duplicate create.
	ErrAlreadyExists = errors.New("rooms: room already exists")
	// ErrInvalidRequest indicates a malformed room name or self-referential DM.
	ErrInvalidRequest = errors.New("rooms: invalid request")
)

var channelNamePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidateChannelName enforces the channel name grammar: lowercase
// alphanumerics and single interior hyphens. The dm- prefix is reserved so a
// user-supplied channel cannot impersonate a direct-message room id.
func ValidateChannelName(name string) error {
	if !channelNamePattern.MatchString(name) {
		return fmt.Errorf("%w: channel name %q must match %s", ErrInvalidRequest, name, channelNamePattern.String())
	}
	if strings.HasPrefix(name, dmPrefix) {
		return fmt.Errorf("%w: channel name %q uses the reserved dm- prefix", ErrInvalidRequest, name)
	}
	return nil
}

// DirectRoomID derives the canonical room id for a pair of usernames. The
// pair is sorted lexicographically, so both members derive the same id and
// creation is idempotent.
func DirectRoomID(userA, userB string) string {
	members := []string{userA, userB}
	sort.Strings(members)
	return dmPrefix + members[0] + "-" + members[1]
}

// IsDirectRoomID reports whether an id sits in the reserved DM namespace.
func IsDirectRoomID(roomID string) bool {
	return strings.HasPrefix(roomID, dmPrefix)
}

// Room is the durable record behind a registry entry. Deletion is a soft
// flag; message history survives it.
type Room struct {
	RoomID    string     `gorm:"column:room_id;primaryKey;size:190;not null"`
	Type      RoomType   `gorm:"column:room_type;size:16;not null;default:'channel'"`
	CreatedAt time.Time  `gorm:"column:created_at;not null"`
	Deleted   bool       `gorm:"column:deleted;not null;default:false"`
	DeletedAt *time.Time `gorm:"column:deleted_at"`
	DeletedBy string     `gorm:"column:deleted_by;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Room) TableName() string {
	return "rooms"
}

// Membership relates a DM room to one of its two members. Channels carry no
// membership rows; they are implicitly open to all authenticated users.
type Membership struct {
	RoomID   string `gorm:"column:room_id;primaryKey;size:190;not null"`
	Username string `gorm:"column:username;primaryKey;size:190;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "room_memberships"
}

// RoomView is the per-user description of a room returned by list and DM
// create operations.
type RoomView struct {
	RoomID      string   `json:"room_id"`
	Type        RoomType `json:"type"`
	DisplayName string   `json:"display_name"`
	Members     []string `json:"members"`
}
