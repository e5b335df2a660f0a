package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the user or pending registration does not exist.
	ErrNotFound = errors.New("users: not found")
	// ErrLastAdmin indicates the operation would leave the system without an
	// administrator.
	ErrLastAdmin = errors.New("users: cannot remove the last admin")
	// ErrInvalidRole indicates an unknown role value.
	ErrInvalidRole = errors.New("users: invalid role")

	errMissingDatabase = errors.New("users: database connection required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies for user management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages approved users, pending registrations, roles, and display
// preferences.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Lookup returns the approved user with the given username.
func (s *Service) Lookup(ctx context.Context, username string) (User, error) {
	var record User
	err := s.db.WithContext(ctx).
		Where("username = ? AND approved = ?", username, true).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err != nil {
		return User{}, err
	}
	return record, nil
}

// IsAdmin reports whether the username belongs to an approved admin.
func (s *Service) IsAdmin(ctx context.Context, username string) (bool, error) {
	record, err := s.Lookup(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.Role == RoleAdmin, nil
}

// PendingUsers lists registrations still awaiting approval, newest first.
func (s *Service) PendingUsers(ctx context.Context) ([]PendingUser, error) {
	var records []PendingUser
	if err := s.db.WithContext(ctx).
		Where("approved = ?", false).
		Order("registered_at DESC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Approve promotes the pending registration matching the approval code into
// an approved user. The very first approved user becomes an admin.
func (s *Service) Approve(ctx context.Context, approvalCode, adminUsername string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending PendingUser
		err := tx.Where("approval_code = ? AND approved = ?", approvalCode, false).
			Take(&pending).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: approval code", ErrNotFound)
		}
		if err != nil {
			return err
		}

		var userCount int64
		if err := tx.Model(&User{}).Count(&userCount).Error; err != nil {
			return err
		}
		role := RoleUser
		if userCount == 0 {
			role = RoleAdmin
		}

		approvedAt := s.clock().UTC()
		record := User{
			Username:     pending.Username,
			CredentialID: pending.CredentialID,
			PublicKey:    pending.PublicKey,
			Role:         role,
			Approved:     true,
			ApprovedAt:   &approvedAt,
			ApprovedBy:   adminUsername,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if err := tx.Model(&PendingUser{}).
			Where("approval_code = ?", approvalCode).
			Update("approved", true).Error; err != nil {
			return err
		}

		s.logger.Info("user approved",
			zap.String("username", pending.Username),
			zap.String("approved_by", adminUsername))
		return nil
	})
}

// Reject deletes the pending registration matching the approval code.
func (s *Service) Reject(ctx context.Context, approvalCode string) error {
	result := s.db.WithContext(ctx).
		Where("approval_code = ? AND approved = ?", approvalCode, false).
		Delete(&PendingUser{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: approval code", ErrNotFound)
	}
	return nil
}

// ListUsers returns all approved users ordered by username.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	var records []User
	if err := s.db.WithContext(ctx).
		Order("username ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// SetRole updates a user's role.
func (s *Service) SetRole(ctx context.Context, username string, role Role) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("username = ?", username).
		Update("role", role)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	return nil
}

// RevokeAccess deletes a user. Removing the last remaining admin is
// refused.
func (s *Service) RevokeAccess(ctx context.Context, username string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var adminCount int64
		if err := tx.Model(&User{}).
			Where("role = ?", RoleAdmin).
			Count(&adminCount).Error; err != nil {
			return err
		}
		if adminCount <= 1 {
			var record User
			err := tx.Where("username = ?", username).Take(&record).Error
			if err == nil && record.Role == RoleAdmin {
				return ErrLastAdmin
			}
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		result := tx.Where("username = ?", username).Delete(&User{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, username)
		}
		return nil
	})
}

// Preferences returns the user's display preferences, creating defaults on
// first access.
func (s *Service) Preferences(ctx context.Context, username string) (Preference, error) {
	var record Preference
	err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = Preference{Username: username, Color: DefaultColor}
		if createErr := s.db.WithContext(ctx).Create(&record).Error; createErr != nil {
			return Preference{}, createErr
		}
		return record, nil
	}
	if err != nil {
		return Preference{}, err
	}
	return record, nil
}

// UpdatePreferences applies the provided fields, creating the row when
// missing. An empty theme color string resets to the server default.
func (s *Service) UpdatePreferences(ctx context.Context, username string, color, themeColor *string) error {
	var record Preference
	err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = Preference{Username: username, Color: DefaultColor}
		if color != nil {
			record.Color = *color
		}
		if themeColor != nil && *themeColor != "" {
			record.ThemeColor = themeColor
		}
		return s.db.WithContext(ctx).Create(&record).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if color != nil {
		updates["color"] = *color
	}
	if themeColor != nil {
		if *themeColor == "" {
			updates["theme_color"] = nil
		} else {
			updates["theme_color"] = *themeColor
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&Preference{}).
		Where("username = ?", username).
		Updates(updates).Error
}

// AllColors returns every user's chosen color keyed by username, for
// efficient message rendering.
func (s *Service) AllColors(ctx context.Context) (map[string]string, error) {
	var records []Preference
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}
	colors := make(map[string]string, len(records))
	for _, record := range records {
		colors[record.Username] = record.Color
	}
	return colors, nil
}
