package domain

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "domain.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	// Enforce FKs so RESTRICT actually fires.
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&User{}, &Chat{}, &Task{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func ptr[T any](v T) *T { return &v }

func TestTableNames(t *testing.T) {
	if (User{}).TableName() != "users" {
		t.Fatalf("User.TableName() = %q", (User{}).TableName())
	}
	if (Chat{}).TableName() != "chats" {
		t.Fatalf("Chat.TableName() = %q", (Chat{}).TableName())
	}
	if (Task{}).TableName() != "tasks" {
		t.Fatalf("Task.TableName() = %q", (Task{}).TableName())
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	for _, idx := range []struct {
		model any
		name  string
	}{
		{&User{}, "ux_users_tg_id"},
		{&User{}, "idx_users_username"},
		{&Chat{}, "ux_chats_tg_chat_id"},
		{&Task{}, "idx_tasks_assignee_status"},
		{&Task{}, "idx_tasks_deadline"},
		{&Task{}, "idx_tasks_chat_origin"},
	} {
		if !m.HasIndex(idx.model, idx.name) {
			t.Fatalf("expected index %s on %T", idx.name, idx.model)
		}
	}
}

func seedTask(t *testing.T, db *gorm.DB) (*Chat, *User, *Task) {
	t.Helper()
	ch := &Chat{TgChatID: -100, Title: ptr("team"), Type: ChatGroup}
	if err := db.Create(ch).Error; err != nil {
		t.Fatalf("insert chat: %v", err)
	}
	u := &User{TgID: ptr(int64(1)), Username: ptr("alice")}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}
	deadline, _ := NewDate(2025, 11, 20)
	tk := &Task{ChatID: ch.ID, CreatorID: u.ID, AssigneeID: u.ID, Title: "ship", Deadline: deadline, Status: StatusOpen}
	if err := db.Create(tk).Error; err != nil {
		t.Fatalf("insert task: %v", err)
	}
	return ch, u, tk
}

func TestTask_DeadlineRoundTrip_AndDefaults(t *testing.T) {
	db := newDomainDB(t)
	_, _, tk := seedTask(t, db)

	var got Task
	if err := db.First(&got, tk.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Deadline != tk.Deadline {
		t.Fatalf("deadline = %v; want %v", got.Deadline, tk.Deadline)
	}
	if got.Status != StatusOpen || got.ClosedAt != nil {
		t.Fatalf("unexpected lifecycle fields: %+v", got)
	}
	if !got.IsOpen() {
		t.Fatalf("IsOpen() = false")
	}
}

func TestTask_DeleteReferencedChatIsRestricted(t *testing.T) {
	db := newDomainDB(t)
	ch, u, _ := seedTask(t, db)

	if err := db.Delete(&Chat{}, ch.ID).Error; err == nil {
		t.Fatalf("expected FK violation deleting referenced chat")
	}
	if err := db.Delete(&User{}, u.ID).Error; err == nil {
		t.Fatalf("expected FK violation deleting referenced user")
	}
}

func TestTask_StatusCheckConstraint(t *testing.T) {
	db := newDomainDB(t)
	_, _, tk := seedTask(t, db)

	err := db.Model(&Task{}).Where("id = ?", tk.ID).Update("status", "archived").Error
	if err == nil {
		t.Fatalf("expected CHECK violation for unknown status")
	}
}

func TestUser_UniqueTgID_AllowsManyStubs(t *testing.T) {
	db := newDomainDB(t)

	if err := db.Create(&User{TgID: ptr(int64(7))}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.Create(&User{TgID: ptr(int64(7))}).Error; err == nil {
		t.Fatalf("expected unique violation on tg_id")
	}
	// NULL identities never collide.
	for i := 0; i < 2; i++ {
		if err := db.Create(&User{Username: ptr("stub")}).Error; err != nil {
			t.Fatalf("insert stub %d: %v", i, err)
		}
	}
}

func TestHelpers(t *testing.T) {
	if !(User{}).IsStub() || (User{TgID: ptr(int64(1))}).IsStub() {
		t.Fatalf("IsStub mismatch")
	}
	if (User{}).Handle() != "" || (User{Username: ptr("bob")}).Handle() != "bob" {
		t.Fatalf("Handle mismatch")
	}
	if (Chat{}).DisplayTitle() != "" || (Chat{Title: ptr("x")}).DisplayTitle() != "x" {
		t.Fatalf("DisplayTitle mismatch")
	}
	if !ChatGroup.IsGroup() || !ChatSupergroup.IsGroup() || ChatPrivate.IsGroup() {
		t.Fatalf("IsGroup mismatch")
	}
}
