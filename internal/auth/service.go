package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/portside-labs/minichat/backend/internal/admin"
	"github.com/portside-labs/minichat/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrRegistrationClosed indicates the current mode refuses registration.
	ErrRegistrationClosed = errors.New("auth: registration is closed")
	// ErrInviteRequired indicates invite-only mode without a valid token.
	ErrInviteRequired = errors.New("auth: registration requires a valid invite")
	// ErrInvalidChallenge indicates a missing, expired, or mismatched
	// challenge.
	ErrInvalidChallenge = errors.New("auth: invalid or expired challenge")
	// ErrUsernameTaken indicates the username is already registered or
	// pending.
	ErrUsernameTaken = errors.New("auth: username already taken")
	// ErrUnknownCredential indicates no approved user owns the credential.
	ErrUnknownCredential = errors.New("auth: unknown credential")
	// ErrInvalidToken indicates the bearer token did not resolve to an
	// approved user.
	ErrInvalidToken = errors.New("auth: invalid token")

	errMissingDatabase    = errors.New("auth: database connection required")
	errMissingTokenIssuer = errors.New("auth: token issuer required")
	errMissingPolicy      = errors.New("auth: registration policy required")
	noOpLogger            = zap.NewNop()
)

// RegistrationPolicy is the narrow contract the auth service needs from
// server administration: the current mode and invite validation.
type RegistrationPolicy interface {
	RegistrationMode(ctx context.Context) (admin.RegistrationMode, error)
	ValidateInvite(ctx context.Context, token string) (bool, error)
	ConsumeInvite(ctx context.Context, token, username string) error
}

// ServiceConfig describes the dependencies for authentication.
type ServiceConfig struct {
	Database *gorm.DB
	Tokens   *TokenIssuer
	Policy   RegistrationPolicy
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service handles credential registration, login, and bearer-token identity
// resolution. The request path and the push-connection handshake both
// resolve identities through the same ResolveIdentity.
type Service struct {
	db     *gorm.DB
	tokens *TokenIssuer
	policy RegistrationPolicy
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the auth service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if cfg.Policy == nil {
		return nil, errMissingPolicy
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		tokens: cfg.Tokens,
		policy: cfg.Policy,
		clock:  clock,
		logger: logger,
	}, nil
}

func newChallengeValue() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func newApprovalCode() (string, error) {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(raw)), nil
}

func (s *Service) checkRegistrationAllowed(ctx context.Context, inviteToken string) error {
	mode, err := s.policy.RegistrationMode(ctx)
	if err != nil {
		return err
	}
	switch mode {
	case admin.RegistrationClosed:
		return ErrRegistrationClosed
	case admin.RegistrationInviteOnly:
		if inviteToken == "" {
			return ErrInviteRequired
		}
		valid, err := s.policy.ValidateInvite(ctx, inviteToken)
		if err != nil {
			return err
		}
		if !valid {
			return ErrInviteRequired
		}
		return nil
	default:
		return nil
	}
}

// BeginRegistration checks the registration mode and hands out a single-use
// challenge.
func (s *Service) BeginRegistration(ctx context.Context, inviteToken string) (string, error) {
	if err := s.checkRegistrationAllowed(ctx, inviteToken); err != nil {
		return "", err
	}
	return s.storeChallenge(ctx, ChallengeRegistration)
}

// BeginLogin hands out a single-use login challenge. Login is usernameless;
// the credential presented on completion identifies the user.
func (s *Service) BeginLogin(ctx context.Context) (string, error) {
	return s.storeChallenge(ctx, ChallengeLogin)
}

func (s *Service) storeChallenge(ctx context.Context, challengeType ChallengeType) (string, error) {
	value, err := newChallengeValue()
	if err != nil {
		return "", err
	}
	record := Challenge{Challenge: value, Type: challengeType, CreatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", err
	}
	return value, nil
}

func (s *Service) consumeChallenge(ctx context.Context, value string, challengeType ChallengeType) error {
	result := s.db.WithContext(ctx).
		Where("challenge = ? AND type = ?", value, challengeType).
		Delete(&Challenge{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidChallenge
	}
	return nil
}

// CompleteRegistrationRequest carries the client's registration payload.
type CompleteRegistrationRequest struct {
	Username     string
	CredentialID string
	PublicKey    string
	Challenge    string
	InviteToken  string
}

// CompleteRegistration consumes the challenge and registers the user. The
// first user ever is approved immediately as an admin; otherwise the
// registration mode decides between immediate approval and the pending
// queue.
func (s *Service) CompleteRegistration(ctx context.Context, request CompleteRegistrationRequest) (RegistrationOutcome, error) {
	if err := s.checkRegistrationAllowed(ctx, request.InviteToken); err != nil {
		return RegistrationOutcome{}, err
	}
	if err := s.consumeChallenge(ctx, request.Challenge, ChallengeRegistration); err != nil {
		return RegistrationOutcome{}, err
	}

	username := strings.TrimSpace(request.Username)
	if username == "" {
		return RegistrationOutcome{}, fmt.Errorf("%w: empty username", ErrInvalidChallenge)
	}
	if err := s.ensureUsernameFree(ctx, username); err != nil {
		return RegistrationOutcome{}, err
	}

	mode, err := s.policy.RegistrationMode(ctx)
	if err != nil {
		return RegistrationOutcome{}, err
	}

	var userCount int64
	if err := s.db.WithContext(ctx).Model(&users.User{}).Count(&userCount).Error; err != nil {
		return RegistrationOutcome{}, err
	}

	now := s.clock().UTC()
	switch {
	case userCount == 0:
		if err := s.createApproved(ctx, request, username, users.RoleAdmin, "system", now); err != nil {
			return RegistrationOutcome{}, err
		}
		s.logger.Info("first user registered as admin", zap.String("username", username))
		return RegistrationOutcome{Status: RegistrationApproved}, nil

	case mode == admin.RegistrationOpen:
		if err := s.createApproved(ctx, request, username, users.RoleUser, "open", now); err != nil {
			return RegistrationOutcome{}, err
		}
		return RegistrationOutcome{Status: RegistrationApproved}, nil

	case mode == admin.RegistrationInviteOnly:
		if err := s.policy.ConsumeInvite(ctx, request.InviteToken, username); err != nil {
			if errors.Is(err, admin.ErrNotFound) {
				return RegistrationOutcome{}, ErrInviteRequired
			}
			return RegistrationOutcome{}, err
		}
		if err := s.createApproved(ctx, request, username, users.RoleUser, "invite", now); err != nil {
			return RegistrationOutcome{}, err
		}
		return RegistrationOutcome{Status: RegistrationApproved}, nil

	default:
		approvalCode, err := newApprovalCode()
		if err != nil {
			return RegistrationOutcome{}, err
		}
		pending := users.PendingUser{
			Username:     username,
			CredentialID: request.CredentialID,
			PublicKey:    request.PublicKey,
			ApprovalCode: approvalCode,
			RegisteredAt: now,
		}
		if err := s.db.WithContext(ctx).Create(&pending).Error; err != nil {
			return RegistrationOutcome{}, err
		}
		return RegistrationOutcome{Status: RegistrationPending, ApprovalCode: approvalCode}, nil
	}
}

func (s *Service) ensureUsernameFree(ctx context.Context, username string) error {
	var taken int64
	if err := s.db.WithContext(ctx).Model(&users.User{}).
		Where("username = ?", username).
		Count(&taken).Error; err != nil {
		return err
	}
	if taken == 0 {
		if err := s.db.WithContext(ctx).Model(&users.PendingUser{}).
			Where("username = ?", username).
			Count(&taken).Error; err != nil {
			return err
		}
	}
	if taken > 0 {
		return fmt.Errorf("%w: %s", ErrUsernameTaken, username)
	}
	return nil
}

func (s *Service) createApproved(ctx context.Context, request CompleteRegistrationRequest, username string, role users.Role, approvedBy string, now time.Time) error {
	record := users.User{
		Username:     username,
		CredentialID: request.CredentialID,
		PublicKey:    request.PublicKey,
		Role:         role,
		Approved:     true,
		ApprovedAt:   &now,
		ApprovedBy:   approvedBy,
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// CompleteLogin consumes the challenge, identifies the approved user by
// credential id, and issues a session token.
func (s *Service) CompleteLogin(ctx context.Context, credentialID, challenge string) (Session, error) {
	if err := s.consumeChallenge(ctx, challenge, ChallengeLogin); err != nil {
		return Session{}, err
	}

	var record users.User
	err := s.db.WithContext(ctx).
		Where("credential_id = ? AND approved = ?", credentialID, true).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrUnknownCredential
	}
	if err != nil {
		return Session{}, err
	}

	token, expiresIn, err := s.tokens.Issue(record.Username)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		ExpiresIn: expiresIn,
		Username:  record.Username,
		Role:      string(record.Role),
	}, nil
}

// ResolveIdentity verifies a bearer credential and returns the username it
// belongs to, refusing tokens whose user no longer exists or lost approval.
func (s *Service) ResolveIdentity(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	username, err := s.tokens.ValidateToken(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&users.User{}).
		Where("username = ? AND approved = ?", username, true).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return "", ErrInvalidToken
	}
	return username, nil
}
