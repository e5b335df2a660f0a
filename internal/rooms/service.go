package rooms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingRegistry = errors.New("room registry is required")

// ServiceConfig describes the dependencies for room access decisions.
type ServiceConfig struct {
	Database *gorm.DB
	Registry *Registry
	Logger   *zap.Logger
}

// Service combines the live registry with the durable membership table to
// decide who may read, write, or subscribe to a room, and owns channel and
// DM creation.
type Service struct {
	db       *gorm.DB
	registry *Registry
	logger   *zap.Logger
}

// NewService constructs the room service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, registry: cfg.Registry, logger: logger}, nil
}

// Registry exposes the underlying live room registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Authorize decides whether username may read, write, and subscribe to the
// room. Channels are open to every authenticated user; a DM admits only its
// two members.
func (s *Service) Authorize(ctx context.Context, roomID, username string) error {
	if strings.TrimSpace(username) == "" {
		return ErrUnauthenticated
	}
	roomType, ok := s.registry.TypeOf(roomID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	if roomType != RoomTypeDM {
		return nil
	}

	members, err := s.Members(ctx, roomID)
	if err != nil {
		return err
	}
	for _, member := range members {
		if member == username {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not a member of %s", ErrForbidden, username, roomID)
}

// CreateChannel validates the name grammar and registers a new channel.
func (s *Service) CreateChannel(ctx context.Context, name string) error {
	if err := ValidateChannelName(name); err != nil {
		return err
	}
	return s.registry.Create(ctx, name, RoomTypeChannel)
}

// CreateOrGetDM returns the direct-message room between the two users,
// creating it together with both membership rows when absent. The canonical
// sorted-pair id plus the registry's atomic check-and-insert make the
// operation idempotent under concurrent calls from both members.
func (s *Service) CreateOrGetDM(ctx context.Context, requester, other string) (RoomView, error) {
	requester = strings.TrimSpace(requester)
	other = strings.TrimSpace(other)
	if requester == "" {
		return RoomView{}, ErrUnauthenticated
	}
	if other == "" || requester == other {
		return RoomView{}, fmt.Errorf("%w: cannot open a conversation with yourself", ErrInvalidRequest)
	}

	roomID := DirectRoomID(requester, other)
	view := RoomView{
		RoomID:      roomID,
		Type:        RoomTypeDM,
		DisplayName: other,
		Members:     []string{requester, other},
	}
	sort.Strings(view.Members)

	if s.registry.Exists(roomID) {
		return view, nil
	}

	err := s.registry.Create(ctx, roomID, RoomTypeDM, requester, other)
	if errors.Is(err, ErrAlreadyExists) {
		// The other member won the race; the room is the same one.
		return view, nil
	}
	if err != nil {
		return RoomView{}, err
	}
	s.logger.Info("dm room created", zap.String("room_id", roomID))
	return view, nil
}

// DeleteRoom soft-deletes the room on behalf of the acting user.
func (s *Service) DeleteRoom(ctx context.Context, roomID, actor string) error {
	return s.registry.Delete(ctx, roomID, actor)
}

// Members returns the membership rows for a room, sorted. Channels have
// none.
func (s *Service) Members(ctx context.Context, roomID string) ([]string, error) {
	var members []string
	if err := s.db.WithContext(ctx).
		Model(&Membership{}).
		Where("room_id = ?", roomID).
		Order("username ASC").
		Pluck("username", &members).Error; err != nil {
		return nil, fmt.Errorf("rooms: membership lookup for %q failed: %w", roomID, err)
	}
	return members, nil
}

// ListForUser returns every live channel plus every live DM the user is a
// member of, each with its per-user display name.
func (s *Service) ListForUser(ctx context.Context, username string) ([]RoomView, error) {
	if strings.TrimSpace(username) == "" {
		return nil, ErrUnauthenticated
	}

	live := s.registry.Snapshot()

	var memberships []Membership
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("rooms: membership lookup for %q failed: %w", username, err)
	}
	memberOf := make(map[string]struct{}, len(memberships))
	for _, membership := range memberships {
		memberOf[membership.RoomID] = struct{}{}
	}

	views := make([]RoomView, 0, len(live))
	for roomID, roomType := range live {
		switch roomType {
		case RoomTypeDM:
			if _, ok := memberOf[roomID]; !ok {
				continue
			}
			members, err := s.Members(ctx, roomID)
			if err != nil {
				return nil, err
			}
			views = append(views, RoomView{
				RoomID:      roomID,
				Type:        RoomTypeDM,
				DisplayName: otherMember(members, username),
				Members:     members,
			})
		default:
			views = append(views, RoomView{
				RoomID:      roomID,
				Type:        RoomTypeChannel,
				DisplayName: "#" + roomID,
				Members:     []string{},
			})
		}
	}

	sort.Slice(views, func(i, j int) bool { return views[i].RoomID < views[j].RoomID })
	return views, nil
}

func otherMember(members []string, username string) string {
	for _, member := range members {
		if member != username {
			return member
		}
	}
	return username
}
