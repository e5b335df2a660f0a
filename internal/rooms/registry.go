package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// MessageRoomSource lists the room identifiers present in the durable
// message log, used to reconcile the registry at startup.
type MessageRoomSource interface {
	DistinctRoomIDs(ctx context.Context) ([]string, error)
}

// RegistryConfig describes the dependencies for the in-memory room registry.
type RegistryConfig struct {
	Database     *gorm.DB
	MessageRooms MessageRoomSource
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Registry is the process-wide source of truth for which rooms exist right
// now and what type they are. It mirrors the persistent room table: the map
// is guarded by a single mutex held only for in-memory operations, never
// across a store round-trip.
type Registry struct {
	mu           sync.Mutex
	rooms        map[string]RoomType
	db           *gorm.DB
	messageRooms MessageRoomSource
	clock        func() time.Time
	logger       *zap.Logger
}

// NewRegistry constructs an empty registry; call Load before serving traffic.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
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
	return &Registry{
		rooms:        make(map[string]RoomType),
		db:           cfg.Database,
		messageRooms: cfg.MessageRooms,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Load rehydrates the registry from the persistent room table and backfills
// a channel-typed record for every room id that appears in the message log
// without a matching room row. The backfill commits before Load returns, so
// every room that has ever received a message has a row by the time traffic
// is served.
func (r *Registry) Load(ctx context.Context) error {
	var records []Room
	if err := r.db.WithContext(ctx).Find(&records).Error; err != nil {
		return fmt.Errorf("rooms: registry load failed: %w", err)
	}

	known := make(map[string]struct{}, len(records))
	loaded := make(map[string]RoomType, len(records))
	for _, record := range records {
		known[record.RoomID] = struct{}{}
		if !record.Deleted {
			loaded[record.RoomID] = record.Type
		}
	}

	var orphans []string
	if r.messageRooms != nil {
		messageRoomIDs, err := r.messageRooms.DistinctRoomIDs(ctx)
		if err != nil {
			return fmt.Errorf("rooms: legacy room scan failed: %w", err)
		}
		for _, roomID := range messageRoomIDs {
			if _, ok := known[roomID]; !ok {
				orphans = append(orphans, roomID)
			}
		}
	}

	for _, roomID := range orphans {
		record := Room{RoomID: roomID, Type: RoomTypeChannel, CreatedAt: r.clock().UTC()}
		if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
			return fmt.Errorf("rooms: backfill of room %q failed: %w", roomID, err)
		}
		loaded[roomID] = RoomTypeChannel
	}

	r.mu.Lock()
	r.rooms = loaded
	r.mu.Unlock()

	r.logger.Info("room registry loaded",
		zap.Int("rooms", len(loaded)),
		zap.Int("backfilled", len(orphans)))
	return nil
}

// Create registers a new room of the given type, persisting the room record
// and any membership rows in one transaction. The id is reserved in memory
// before the store write; a crash in that window simply drops the
// reservation and a retry succeeds.
func (r *Registry) Create(ctx context.Context, roomID string, roomType RoomType, members ...string) error {
	r.mu.Lock()
	if _, exists := r.rooms[roomID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyExists, roomID)
	}
	r.rooms[roomID] = roomType
	r.mu.Unlock()

	if err := r.persistRoom(ctx, roomID, roomType, members); err != nil {
		r.mu.Lock()
		delete(r.rooms, roomID)
		r.mu.Unlock()
		return fmt.Errorf("rooms: create of %q failed: %w", roomID, err)
	}
	return nil
}

func (r *Registry) persistRoom(ctx context.Context, roomID string, roomType RoomType, members []string) error {
	record := Room{RoomID: roomID, Type: roomType, CreatedAt: r.clock().UTC()}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Recreating a soft-deleted id resurrects the row and clears the
		// deletion markers; the prior message history remains attached.
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"deleted":    false,
				"deleted_at": nil,
				"deleted_by": "",
			}),
		}).Create(&record).Error; err != nil {
			return err
		}
		for _, member := range members {
			membership := Membership{RoomID: roomID, Username: member}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&membership).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Exists reports whether the room id is currently registered.
func (r *Registry) Exists(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

// TypeOf returns the registered type for a room id.
func (r *Registry) TypeOf(roomID string) (RoomType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomType, ok := r.rooms[roomID]
	return roomType, ok
}

// EnsureExists idempotently registers an id as a channel when absent. It
// never promotes or demotes an existing entry's type. This preserves the
// legacy behavior that posting to any valid id always succeeds.
func (r *Registry) EnsureExists(ctx context.Context, roomID string) error {
	if r.Exists(roomID) {
		return nil
	}
	err := r.Create(ctx, roomID, RoomTypeChannel)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

// Delete removes the room from the live registry and marks the durable
// record deleted with the acting user and timestamp. Message history is
// untouched.
func (r *Registry) Delete(ctx context.Context, roomID, actor string) error {
	r.mu.Lock()
	roomType, exists := r.rooms[roomID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	delete(r.rooms, roomID)
	r.mu.Unlock()

	deletedAt := r.clock().UTC()
	if err := r.db.WithContext(ctx).
		Model(&Room{}).
		Where("room_id = ?", roomID).
		Updates(map[string]interface{}{
			"deleted":    true,
			"deleted_at": deletedAt,
			"deleted_by": actor,
		}).Error; err != nil {
		// The row is still live in the store, so the registry takes the
		// id back rather than letting the two views drift apart.
		r.mu.Lock()
		r.rooms[roomID] = roomType
		r.mu.Unlock()
		return fmt.Errorf("rooms: delete of %q failed: %w", roomID, err)
	}

	r.logger.Info("room deleted", zap.String("room_id", roomID), zap.String("actor", actor))
	return nil
}

// Snapshot returns a point-in-time copy of the live room table.
func (r *Registry) Snapshot() map[string]RoomType {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[string]RoomType, len(r.rooms))
	for roomID, roomType := range r.rooms {
		snapshot[roomID] = roomType
	}
	return snapshot
}

// Len reports the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
