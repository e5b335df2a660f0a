package admin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/portside-labs/minichat/backend/internal/messages"
	"github.com/portside-labs/minichat/backend/internal/users"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:admin_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Setting{}, &InviteToken{}, &users.User{}, &users.PendingUser{}, &messages.Message{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:    db,
		DefaultMode: RegistrationOpen,
		Clock:       func() time.Time { return time.Unix(1750000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct admin service: %v", err)
	}
	return service, db
}

func TestRegistrationModeFallsBackToDefault(t *testing.T) {
	service, _ := newTestService(t)

	mode, err := service.RegistrationMode(context.Background())
	if err != nil {
		t.Fatalf("unexpected mode error: %v", err)
	}
	if mode != RegistrationOpen {
		t.Fatalf("expected the configured default, got %q", mode)
	}
}

func TestSetRegistrationModePersists(t *testing.T) {
	service, _ := newTestService(t)

	if err := service.SetRegistrationMode(context.Background(), RegistrationInviteOnly); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	mode, err := service.RegistrationMode(context.Background())
	if err != nil || mode != RegistrationInviteOnly {
		t.Fatalf("expected invite_only, got %q err=%v", mode, err)
	}

	// Setting again upserts the same row.
	if err := service.SetRegistrationMode(context.Background(), RegistrationClosed); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	mode, err = service.RegistrationMode(context.Background())
	if err != nil || mode != RegistrationClosed {
		t.Fatalf("expected closed, got %q err=%v", mode, err)
	}
}

func TestSetRegistrationModeRejectsUnknownValues(t *testing.T) {
	service, _ := newTestService(t)
	err := service.SetRegistrationMode(context.Background(), RegistrationMode("anything-goes"))
	if !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestInviteLifecycle(t *testing.T) {
	service, _ := newTestService(t)

	invite, err := service.CreateInvite(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if invite.Token == "" || invite.CreatedBy != "alice" {
		t.Fatalf("unexpected invite %+v", invite)
	}

	valid, err := service.ValidateInvite(context.Background(), invite.Token)
	if err != nil || !valid {
		t.Fatalf("expected fresh invite to validate, got %v err=%v", valid, err)
	}

	if err := service.ConsumeInvite(context.Background(), invite.Token, "bob"); err != nil {
		t.Fatalf("unexpected consume error: %v", err)
	}
	valid, err = service.ValidateInvite(context.Background(), invite.Token)
	if err != nil || valid {
		t.Fatalf("expected consumed invite to be invalid")
	}

	invites, err := service.ListInvites(context.Background())
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(invites) != 1 || invites[0].UsedBy == nil || *invites[0].UsedBy != "bob" {
		t.Fatalf("expected consumption to be recorded, got %+v", invites)
	}
}

func TestConsumeInviteRejectsSecondConsumer(t *testing.T) {
	service, _ := newTestService(t)

	invite, err := service.CreateInvite(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := service.ConsumeInvite(context.Background(), invite.Token, "bob"); err != nil {
		t.Fatalf("unexpected consume error: %v", err)
	}

	err = service.ConsumeInvite(context.Background(), invite.Token, "carol")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an already-used token, got %v", err)
	}
	invites, err := service.ListInvites(context.Background())
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(invites) != 1 || invites[0].UsedBy == nil || *invites[0].UsedBy != "bob" {
		t.Fatalf("expected bob to keep the token, got %+v", invites)
	}
}

func TestConsumeInviteUnknownToken(t *testing.T) {
	service, _ := newTestService(t)
	err := service.ConsumeInvite(context.Background(), "missing", "bob")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestValidateInviteUnknownToken(t *testing.T) {
	service, _ := newTestService(t)
	valid, err := service.ValidateInvite(context.Background(), "missing")
	if err != nil || valid {
		t.Fatalf("expected unknown token to be invalid, got %v err=%v", valid, err)
	}
}

func TestDeleteInvite(t *testing.T) {
	service, _ := newTestService(t)

	invite, err := service.CreateInvite(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := service.DeleteInvite(context.Background(), invite.Token); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	err = service.DeleteInvite(context.Background(), invite.Token)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}
}

func TestSystemStatusCounts(t *testing.T) {
	service, db := newTestService(t)

	approvedAt := time.Unix(1750000000, 0).UTC()
	if err := db.Create(&users.User{Username: "alice", CredentialID: "cred-alice", Role: users.RoleAdmin, Approved: true, ApprovedAt: &approvedAt}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	if err := db.Create(&users.PendingUser{Username: "bob", CredentialID: "cred-bob", ApprovalCode: "CODE", RegisteredAt: approvedAt}).Error; err != nil {
		t.Fatalf("failed to seed pending user: %v", err)
	}
	for _, room := range []string{"general", "general", "random"} {
		if err := db.Create(&messages.Message{RoomID: room, Username: "alice", Body: "hello", SentAt: approvedAt}).Error; err != nil {
			t.Fatalf("failed to seed message: %v", err)
		}
	}

	status, err := service.SystemStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status.UsersCount != 1 || status.PendingCount != 1 {
		t.Fatalf("unexpected user counts %+v", status)
	}
	if status.RoomsCount != 2 || status.MessagesCount != 3 {
		t.Fatalf("unexpected room/message counts %+v", status)
	}
	if status.RegistrationMode != RegistrationOpen {
		t.Fatalf("expected mode in status, got %q", status.RegistrationMode)
	}
}
