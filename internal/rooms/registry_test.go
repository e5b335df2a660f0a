package rooms

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticRoomSource struct {
	roomIDs []string
}

func (s *staticRoomSource) DistinctRoomIDs(ctx context.Context) ([]string, error) {
	return s.roomIDs, nil
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:rooms_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Room{}, &Membership{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestRegistry(t *testing.T, db *gorm.DB, source MessageRoomSource) *Registry {
	t.Helper()
	registry, err := NewRegistry(RegistryConfig{
		Database:     db,
		MessageRooms: source,
		Clock:        func() time.Time { return time.Unix(1750000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	return registry
}

func TestRegistryCreatePersistsRoomAndMembers(t *testing.T) {
	db := newTestDatabase(t)
	registry := newTestRegistry(t, db, nil)

	if err := registry.Create(context.Background(), "dm-alice-bob", RoomTypeDM, "alice", "bob"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if !registry.Exists("dm-alice-bob") {
		t.Fatalf("expected room to be registered in memory")
	}

	var record Room
	if err := db.First(&record, "room_id = ?", "dm-alice-bob").Error; err != nil {
		t.Fatalf("expected persisted room row: %v", err)
	}
	if record.Type != RoomTypeDM {
		t.Fatalf("expected dm type, got %q", record.Type)
	}

	var memberCount int64
	if err := db.Model(&Membership{}).Where("room_id = ?", "dm-alice-bob").Count(&memberCount).Error; err != nil {
		t.Fatalf("failed to count memberships: %v", err)
	}
	if memberCount != 2 {
		t.Fatalf("expected 2 membership rows, got %d", memberCount)
	}
}

func TestRegistryCreateRejectsDuplicates(t *testing.T) {
	db := newTestDatabase(t)
	registry := newTestRegistry(t, db, nil)

	if err := registry.Create(context.Background(), "general", RoomTypeChannel); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	err := registry.Create(context.Background(), "general", RoomTypeChannel)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected a single live room, got %d", registry.Len())
	}
}

func TestRegistryEnsureExistsIsIdempotent(t *testing.T) {
	db := newTestDatabase(t)
	registry := newTestRegistry(t, db, nil)

	for i := 0; i < 3; i++ {
		if err := registry.EnsureExists(context.Background(), "general"); err != nil {
			t.Fatalf("unexpected ensure error on attempt %d: %v", i, err)
		}
	}
	roomType, ok := registry.TypeOf("general")
	if !ok || roomType != RoomTypeChannel {
		t.Fatalf("expected general to be a channel, got %q ok=%v", roomType, ok)
	}

	var count int64
	if err := db.Model(&Room{}).Where("room_id = ?", "general").Count(&count).Error; err != nil {
		t.Fatalf("failed to count rooms: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one room row, got %d", count)
	}
}

func TestRegistryEnsureExistsDoesNotChangeDMType(t *testing.T) {
	db := newTestDatabase(t)
	registry := newTestRegistry(t, db, nil)

	if err := registry.Create(context.Background(), "dm-alice-bob", RoomTypeDM, "alice", "bob"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := registry.EnsureExists(context.Background(), "dm-alice-bob"); err != nil {
		t.Fatalf("unexpected ensure error: %v", err)
	}
	roomType, _ := registry.TypeOf("dm-alice-bob")
	if roomType != RoomTypeDM {
		t.Fatalf("expected dm type to survive EnsureExists, got %q", roomType)
	}
}

func TestRegistryDeleteSoftDeletesAndAllowsRecreate(t *testing.T) {
	db := newTestDatabase(t)
	registry := newTestRegistry(t, db, nil)

	if err := registry.Create(context.Background(), "general", RoomTypeChannel); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := registry.Delete(context.Background(), "general", "admin"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if registry.Exists("general") {
		t.Fatalf("expected room to leave the live registry")
	}

	var record Room
	if err := db.First(&record, "room_id = ?", "general").Error; err != nil {
		t.Fatalf("expected soft-deleted row to remain: %v", err)
	}
	if !record.Deleted || record.DeletedBy != "admin" || record.DeletedAt == nil {
		t.Fatalf("expected deletion markers set, got %+v", record)
	}

	if err := registry.Create(context.Background(), "general", RoomTypeChannel); err != nil {
		t.Fatalf("expected recreate to resurrect the row: %v", err)
	}
	record = Room{}
	if err := db.First(&record, "room_id = ?", "general").Error; err != nil {
		t.Fatalf("failed to reload row: %v", err)
	}
	if record.Deleted || record.DeletedAt != nil || record.DeletedBy != "" {
		t.Fatalf("expected deletion markers cleared on recreate, got %+v", record)
	}
}

func TestRegistryDeleteRestoresEntryOnStoreFailure(t *testing.T) {
	db := newTestDatabase(t)
	registry := newTestRegistry(t, db, nil)

	if err := registry.Create(context.Background(), "dm-alice-bob", RoomTypeDM, "alice", "bob"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := db.Migrator().DropTable(&Room{}); err != nil {
		t.Fatalf("failed to drop rooms table: %v", err)
	}

	if err := registry.Delete(context.Background(), "dm-alice-bob", "admin"); err == nil {
		t.Fatalf("expected delete to fail once the store is gone")
	}
	if !registry.Exists("dm-alice-bob") {
		t.Fatalf("expected failed delete to leave the room registered")
	}
	roomType, _ := registry.TypeOf("dm-alice-bob")
	if roomType != RoomTypeDM {
		t.Fatalf("expected restored entry to keep its type, got %q", roomType)
	}
}

func TestRegistryDeleteUnknownRoom(t *testing.T) {
	db := newTestDatabase(t)
	registry := newTestRegistry(t, db, nil)

	err := registry.Delete(context.Background(), "missing", "admin")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryLoadBackfillsMessageLogOrphans(t *testing.T) {
	db := newTestDatabase(t)
	seed := Room{RoomID: "general", Type: RoomTypeChannel, CreatedAt: time.Unix(1750000000, 0).UTC()}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed room: %v", err)
	}
	deleted := Room{RoomID: "retired", Type: RoomTypeChannel, CreatedAt: time.Unix(1750000000, 0).UTC(), Deleted: true}
	if err := db.Create(&deleted).Error; err != nil {
		t.Fatalf("failed to seed deleted room: %v", err)
	}

	source := &staticRoomSource{roomIDs: []string{"general", "retired", "legacy"}}
	registry := newTestRegistry(t, db, source)
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if !registry.Exists("general") {
		t.Fatalf("expected seeded room to be live")
	}
	if registry.Exists("retired") {
		t.Fatalf("expected deleted room to stay out of the live registry")
	}
	roomType, ok := registry.TypeOf("legacy")
	if !ok || roomType != RoomTypeChannel {
		t.Fatalf("expected legacy message room to be backfilled as a channel")
	}

	var record Room
	if err := db.First(&record, "room_id = ?", "legacy").Error; err != nil {
		t.Fatalf("expected backfilled room row: %v", err)
	}

	var count int64
	if err := db.Model(&Room{}).Where("room_id = ?", "retired").Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the deleted room not to be duplicated by the backfill, got %d rows", count)
	}
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	db := newTestDatabase(t)
	registry := newTestRegistry(t, db, nil)

	if err := registry.Create(context.Background(), "general", RoomTypeChannel); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	snapshot := registry.Snapshot()
	delete(snapshot, "general")
	if !registry.Exists("general") {
		t.Fatalf("mutating the snapshot must not affect the registry")
	}
}
