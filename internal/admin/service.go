package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/portside-labs/minichat/backend/internal/messages"
	"github.com/portside-labs/minichat/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const settingRegistrationMode = "registration_mode"

var (
	// ErrNotFound indicates the invite token does not exist.
	ErrNotFound = errors.New("admin: not found")
	// ErrInvalidMode indicates an unknown registration mode value.
	ErrInvalidMode = errors.New("admin: invalid registration mode")

	errMissingDatabase = errors.New("admin: database connection required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies for server administration.
type ServiceConfig struct {
	Database    *gorm.DB
	DefaultMode RegistrationMode
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service owns server settings, invite tokens, and the system status
// summary.
type Service struct {
	db          *gorm.DB
	defaultMode RegistrationMode
	clock       func() time.Time
	logger      *zap.Logger
}

// NewService constructs the admin service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	mode := cfg.DefaultMode
	if !ValidRegistrationMode(mode) {
		mode = RegistrationOpen
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, defaultMode: mode, clock: clock, logger: logger}, nil
}

// RegistrationMode returns the current registration mode, falling back to
// the configured default when no setting row exists yet.
func (s *Service) RegistrationMode(ctx context.Context) (RegistrationMode, error) {
	var record Setting
	err := s.db.WithContext(ctx).
		Where("key = ?", settingRegistrationMode).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.defaultMode, nil
	}
	if err != nil {
		return "", err
	}
	mode := RegistrationMode(record.Value)
	if !ValidRegistrationMode(mode) {
		return s.defaultMode, nil
	}
	return mode, nil
}

// SetRegistrationMode updates the registration mode setting.
func (s *Service) SetRegistrationMode(ctx context.Context, mode RegistrationMode) error {
	if !ValidRegistrationMode(mode) {
		return fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}
	record := Setting{Key: settingRegistrationMode, Value: string(mode)}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&record).Error; err != nil {
		return err
	}
	s.logger.Info("registration mode changed", zap.String("mode", string(mode)))
	return nil
}

// CreateInvite mints a new single-use invite token.
func (s *Service) CreateInvite(ctx context.Context, adminUsername string) (InviteToken, error) {
	record := InviteToken{
		Token:     uuid.NewString(),
		CreatedBy: adminUsername,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return InviteToken{}, err
	}
	return record, nil
}

// ListInvites returns all invite tokens, newest first.
func (s *Service) ListInvites(ctx context.Context) ([]InviteToken, error) {
	var records []InviteToken
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteInvite removes an invite token.
func (s *Service) DeleteInvite(ctx context.Context, token string) error {
	result := s.db.WithContext(ctx).
		Where("token = ?", token).
		Delete(&InviteToken{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: invite token", ErrNotFound)
	}
	return nil
}

// ValidateInvite reports whether the token exists and is still unused.
func (s *Service) ValidateInvite(ctx context.Context, token string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&InviteToken{}).
		Where("token = ? AND used_by IS NULL", token).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ConsumeInvite marks the token as used by the given username. A token
// already consumed by a racing registrant yields ErrNotFound.
func (s *Service) ConsumeInvite(ctx context.Context, token, username string) error {
	usedAt := s.clock().UTC()
	result := s.db.WithContext(ctx).
		Model(&InviteToken{}).
		Where("token = ? AND used_by IS NULL", token).
		Updates(map[string]interface{}{
			"used_by": username,
			"used_at": usedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: invite token", ErrNotFound)
	}
	return nil
}

// SystemStatus gathers the count summary shown on the admin surface.
func (s *Service) SystemStatus(ctx context.Context) (SystemStatus, error) {
	status := SystemStatus{}

	if err := s.db.WithContext(ctx).Model(&users.User{}).Count(&status.UsersCount).Error; err != nil {
		return SystemStatus{}, err
	}
	if err := s.db.WithContext(ctx).Model(&users.PendingUser{}).
		Where("approved = ?", false).
		Count(&status.PendingCount).Error; err != nil {
		return SystemStatus{}, err
	}
	if err := s.db.WithContext(ctx).Model(&messages.Message{}).
		Distinct("room_id").
		Count(&status.RoomsCount).Error; err != nil {
		return SystemStatus{}, err
	}
	if err := s.db.WithContext(ctx).Model(&messages.Message{}).Count(&status.MessagesCount).Error; err != nil {
		return SystemStatus{}, err
	}

	mode, err := s.RegistrationMode(ctx)
	if err != nil {
		return SystemStatus{}, err
	}
	status.RegistrationMode = mode
	return status, nil
}
