package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errEmptyRoomID     = errors.New("room identifier is required")
	errEmptyUsername   = errors.New("username is required")
	noOpLogger         = zap.NewNop()
)

const (
	opStoreNew   = "messages.store.new"
	opAppend     = "messages.append"
	opReadSince  = "messages.read_since"
	opSearch     = "messages.search"
	opListRooms  = "messages.list_room_ids"
	queryRoomID  = "room_id = ?"
	querySinceID = "room_id = ? AND id > ?"
)

// StoreError carries a dotted operation.reason code alongside the cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// StoreConfig describes the dependencies for the durable message log.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store is the durable, ordered message log keyed by room. Appends serialize
// into a total order through the store's own id assignment.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs the message store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Append durably records one message and returns it with the store-assigned
// id and timestamp.
func (s *Store) Append(ctx context.Context, roomID, username, body string) (Message, error) {
	if strings.TrimSpace(roomID) == "" {
		return Message{}, newStoreError(opAppend, "missing_room_id", errEmptyRoomID)
	}
	if strings.TrimSpace(username) == "" {
		return Message{}, newStoreError(opAppend, "missing_username", errEmptyUsername)
	}

	record := Message{
		RoomID:   roomID,
		Username: username,
		Body:     body,
		SentAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logger.Error("message append failed",
			zap.String("operation", opAppend),
			zap.String("room_id", roomID),
			zap.Error(err))
		return Message{}, newStoreError(opAppend, "insert_failed", err)
	}
	return record, nil
}

// ReadSince returns the room's messages with id strictly greater than
// sinceID, in ascending id order. Repeated calls with the same cursor are
// side-effect free.
func (s *Store) ReadSince(ctx context.Context, roomID string, sinceID int64) ([]Message, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, newStoreError(opReadSince, "missing_room_id", errEmptyRoomID)
	}

	var records []Message
	if err := s.db.WithContext(ctx).
		Where(querySinceID, roomID, sinceID).
		Order("id ASC").
		Find(&records).Error; err != nil {
		s.logger.Error("message read failed",
			zap.String("operation", opReadSince),
			zap.String("room_id", roomID),
			zap.Int64("since_id", sinceID),
			zap.Error(err))
		return nil, newStoreError(opReadSince, "query_failed", err)
	}
	return records, nil
}

// Search returns messages matching the query filters, newest first, along
// with the total number of matches before pagination.
func (s *Store) Search(ctx context.Context, query SearchQuery) ([]Message, int64, error) {
	scoped := s.db.WithContext(ctx).Model(&Message{})
	if text := strings.TrimSpace(query.Text); text != "" {
		scoped = scoped.Where("message LIKE ?", "%"+text+"%")
	}
	if query.RoomID != "" {
		scoped = scoped.Where(queryRoomID, query.RoomID)
	}
	if query.Username != "" {
		scoped = scoped.Where("username = ?", query.Username)
	}

	var total int64
	if err := scoped.Count(&total).Error; err != nil {
		return nil, 0, newStoreError(opSearch, "count_failed", err)
	}

	var records []Message
	if err := scoped.
		Order("id DESC").
		Limit(query.boundedLimit()).
		Offset(query.Offset).
		Find(&records).Error; err != nil {
		s.logger.Error("message search failed",
			zap.String("operation", opSearch),
			zap.Error(err))
		return nil, 0, newStoreError(opSearch, "query_failed", err)
	}
	return records, total, nil
}

// DistinctRoomIDs lists every room identifier that has ever received a
// message, soft-deleted rooms included. The room registry uses this during
// startup reconciliation.
func (s *Store) DistinctRoomIDs(ctx context.Context) ([]string, error) {
	var roomIDs []string
	if err := s.db.WithContext(ctx).
		Model(&Message{}).
		Distinct("room_id").
		Pluck("room_id", &roomIDs).Error; err != nil {
		return nil, newStoreError(opListRooms, "query_failed", err)
	}
	return roomIDs, nil
}

// Count reports the total number of stored messages.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Message{}).Count(&total).Error; err != nil {
		return 0, newStoreError(opSearch, "count_failed", err)
	}
	return total, nil
}
