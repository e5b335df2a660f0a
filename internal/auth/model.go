package auth

import "time"

// ChallengeType separates registration challenges from login challenges.
type ChallengeType string

const (
	// ChallengeRegistration is consumed when completing a registration.
	ChallengeRegistration ChallengeType = "registration"
	// ChallengeLogin is consumed when completing a login.
	ChallengeLogin ChallengeType = "login"
)

// Challenge is a single-use nonce handed to a client at the start of a
// credential ceremony and consumed on completion.
type Challenge struct {
	Challenge string        `gorm:"column:challenge;primaryKey;size:64;not null"`
	Type      ChallengeType `gorm:"column:type;size:16;not null"`
	CreatedAt time.Time     `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Challenge) TableName() string {
	return "challenges"
}

// RegistrationStatus describes how a completed registration ended.
type RegistrationStatus string

const (
	// RegistrationApproved means the account is immediately usable.
	RegistrationApproved RegistrationStatus = "approved"
	// RegistrationPending means an admin must approve the account.
	RegistrationPending RegistrationStatus = "pending"
)

// RegistrationOutcome is returned from CompleteRegistration.
type RegistrationOutcome struct {
	Status       RegistrationStatus
	ApprovalCode string
}

// Session carries a freshly issued token and the identity behind it.
type Session struct {
	Token     string
	ExpiresIn int64
	Username  string
	Role      string
}
