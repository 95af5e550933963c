// Package domain defines the persistence models for users, chats, and
// deadline-bound tasks. These types are mapped with GORM and form the core
// data layer of the bot.
package domain

import (
	"time"
)

// ChatType is the conversation kind reported by the chat platform.
type ChatType string

// Chat kinds.
const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// IsGroup reports whether t is a multi-participant conversation.
func (t ChatType) IsGroup() bool {
	return t == ChatGroup || t == ChatSupergroup
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

// Task lifecycle states. Transitions are open → done and open → canceled only.
const (
	StatusOpen     TaskStatus = "open"
	StatusDone     TaskStatus = "done"
	StatusCanceled TaskStatus = "canceled"
)

// User is a chat participant acting as task creator and/or assignee.
//
// Fields:
//   - ID: surrogate primary key.
//   - TgID: external chat identity; nil for stub users that were referenced
//     by handle but have never contacted the bot. Unique when present.
//   - Username: handle without the '@' prefix (stored lower-cased for stubs).
//   - FirstName / LastName: optional display name fields.
//   - CreatedAt: set by GORM on insert.
type User struct {
	ID        int64     `json:"id"                   gorm:"primaryKey;autoIncrement"`
	TgID      *int64    `json:"tg_id,omitempty"      gorm:"uniqueIndex:ux_users_tg_id"`
	Username  *string   `json:"username,omitempty"   gorm:"type:varchar(255);index:idx_users_username"`
	FirstName *string   `json:"first_name,omitempty" gorm:"type:varchar(255)"`
	LastName  *string   `json:"last_name,omitempty"  gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// IsStub reports whether the user has no external identity yet.
func (u User) IsStub() bool { return u.TgID == nil }

// Handle returns the username or "" when unset.
func (u User) Handle() string {
	if u.Username == nil {
		return ""
	}
	return *u.Username
}

// Chat is a conversation tasks are created in.
type Chat struct {
	ID        int64     `json:"id"              gorm:"primaryKey;autoIncrement"`
	TgChatID  int64     `json:"tg_chat_id"      gorm:"not null;uniqueIndex:ux_chats_tg_chat_id"`
	Title     *string   `json:"title,omitempty" gorm:"type:varchar(255)"`
	Type      ChatType  `json:"type"            gorm:"type:varchar(32)"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// DisplayTitle returns the chat title or "" when unset.
func (c Chat) DisplayTitle() string {
	if c.Title == nil {
		return ""
	}
	return *c.Title
}

// Task is a deadline-bound assignment created in a chat.
//
// ClosedAt is set if and only if Status is not open. Deadline never changes
// after creation. Referenced chat and users cannot be deleted while a task
// points at them (ON DELETE RESTRICT).
type Task struct {
	ID              int64      `json:"id"                          gorm:"primaryKey;autoIncrement"`
	ChatID          int64      `json:"chat_id"                     gorm:"not null;index:idx_tasks_chat_origin,priority:1"`
	CreatorID       int64      `json:"creator_id"                  gorm:"not null"`
	AssigneeID      int64      `json:"assignee_id"                 gorm:"not null;index:idx_tasks_assignee_status,priority:1"`
	Title           string     `json:"title"                       gorm:"type:varchar(500);not null"`
	Description     *string    `json:"description,omitempty"       gorm:"type:text"`
	Deadline        Date       `json:"deadline"                    gorm:"type:varchar(10);not null;index:idx_tasks_deadline"`
	Status          TaskStatus `json:"status"                      gorm:"type:varchar(20);not null;default:'open';index:idx_tasks_assignee_status,priority:2;check:status IN ('open','done','canceled')"`
	CreatedAt       time.Time  `json:"created_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	OriginMessageID *int64     `json:"origin_message_id,omitempty" gorm:"index:idx_tasks_chat_origin,priority:2"`

	Chat     Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Creator  User `json:"-" gorm:"foreignKey:CreatorID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Assignee User `json:"-" gorm:"foreignKey:AssigneeID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Task.
func (Task) TableName() string { return "tasks" }

// IsOpen reports whether the task is still open.
func (t Task) IsOpen() bool { return t.Status == StatusOpen }
