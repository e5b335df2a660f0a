package admin

import "time"

// Setting is one key/value server setting.
type Setting struct {
	Key   string `gorm:"column:key;primaryKey;size:64;not null"`
	Value string `gorm:"column:value;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Setting) TableName() string {
	return "settings"
}

// InviteToken grants one registration in invite-only mode.
type InviteToken struct {
	Token     string     `gorm:"column:token;primaryKey;size:64;not null"`
	CreatedBy string     `gorm:"column:created_by;size:190;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;not null"`
	UsedBy    *string    `gorm:"column:used_by;size:190"`
	UsedAt    *time.Time `gorm:"column:used_at"`
}

// TableName provides the explicit table binding for GORM.
func (InviteToken) TableName() string {
	return "invite_tokens"
}

// RegistrationMode controls who may register a new account.
type RegistrationMode string

const (
	// RegistrationClosed refuses all registrations.
	RegistrationClosed RegistrationMode = "closed"
	// RegistrationInviteOnly requires a valid unused invite token.
	RegistrationInviteOnly RegistrationMode = "invite_only"
	// RegistrationApprovalRequired queues registrations for admin approval.
	RegistrationApprovalRequired RegistrationMode = "approval_required"
	// RegistrationOpen approves registrations immediately.
	RegistrationOpen RegistrationMode = "open"
)

// ValidRegistrationMode reports whether the value names a known mode.
func ValidRegistrationMode(value RegistrationMode) bool {
	switch value {
	case RegistrationClosed, RegistrationInviteOnly, RegistrationApprovalRequired, RegistrationOpen:
		return true
	default:
		return false
	}
}

// SystemStatus summarizes counts and settings for the admin surface.
type SystemStatus struct {
	UsersCount       int64            `json:"users_count"`
	PendingCount     int64            `json:"pending_count"`
	RoomsCount       int64            `json:"rooms_count"`
	MessagesCount    int64            `json:"messages_count"`
	RegistrationMode RegistrationMode `json:"registration_mode"`
}
