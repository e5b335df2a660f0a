package users

import "time"

// Role enumerates the access levels a user can hold.
type Role string

const (
	// RoleAdmin may manage users, registration, and rooms.
	RoleAdmin Role = "admin"
	// RoleUser is an ordinary chat participant.
	RoleUser Role = "user"
)

// ValidRole reports whether the value names a known role.
func ValidRole(value Role) bool {
	return value == RoleAdmin || value == RoleUser
}

// User is an approved account able to authenticate and chat.
type User struct {
	Username     string     `gorm:"column:username;primaryKey;size:190;not null"`
	CredentialID string     `gorm:"column:credential_id;size:512;not null;index"`
	PublicKey    string     `gorm:"column:public_key;type:text;not null"`
	Role         Role       `gorm:"column:role;size:16;not null;default:'user'"`
	Approved     bool       `gorm:"column:approved;not null;default:true"`
	ApprovedAt   *time.Time `gorm:"column:approved_at"`
	ApprovedBy   string     `gorm:"column:approved_by;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// PendingUser is a registration awaiting admin approval.
type PendingUser struct {
	Username     string    `gorm:"column:username;primaryKey;size:190;not null"`
	CredentialID string    `gorm:"column:credential_id;size:512;not null"`
	PublicKey    string    `gorm:"column:public_key;type:text;not null"`
	ApprovalCode string    `gorm:"column:approval_code;size:32;not null;uniqueIndex"`
	RegisteredAt time.Time `gorm:"column:registered_at;not null"`
	Approved     bool      `gorm:"column:approved;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (PendingUser) TableName() string {
	return "pending_users"
}

// Preference stores a user's display settings.
type Preference struct {
	Username   string  `gorm:"column:username;primaryKey;size:190;not null"`
	Color      string  `gorm:"column:color;size:32;not null;default:'#1976d2'"`
	ThemeColor *string `gorm:"column:theme_color;size:32"`
}

// TableName provides the explicit table binding for GORM.
func (Preference) TableName() string {
	return "user_preferences"
}

// DefaultColor is assigned when a user has not chosen one.
const DefaultColor = "#1976d2"
