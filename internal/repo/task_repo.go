// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Task model.
//
// Every list query is restricted to open tasks and ordered by
// (deadline ASC, id ASC). Deadlines are ISO date strings, so equality and
// range predicates compare lexicographically on every driver.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/deadline-master/internal/domain"
)

// MaxOpenTasks caps ListOpenTasks to keep replies within message size limits.
const MaxOpenTasks = 200

const taskOrder = "deadline ASC, id ASC"

// NewTask carries the fields of a task to insert.
type NewTask struct {
	ChatID          int64
	CreatorID       int64
	AssigneeID      int64
	Title           string
	Description     *string
	Deadline        domain.Date
	OriginMessageID *int64
}

// CreateTask inserts an open task and returns it with its assigned ID.
func CreateTask(ctx context.Context, db *gorm.DB, nt NewTask) (*domain.Task, error) {
	t := &domain.Task{
		ChatID:          nt.ChatID,
		CreatorID:       nt.CreatorID,
		AssigneeID:      nt.AssigneeID,
		Title:           nt.Title,
		Description:     nt.Description,
		Deadline:        nt.Deadline,
		Status:          domain.StatusOpen,
		CreatedAt:       time.Now().UTC(),
		OriginMessageID: nt.OriginMessageID,
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask fetches a task by ID regardless of status, or returns ErrNotFound.
func GetTask(ctx context.Context, db *gorm.DB, id int64) (*domain.Task, error) {
	var t domain.Task
	if err := db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// FindTaskByOrigin returns the task created from the given chat message, or
// ErrNotFound. Used to make redelivered updates idempotent.
func FindTaskByOrigin(ctx context.Context, db *gorm.DB, chatID, originMessageID int64) (*domain.Task, error) {
	var t domain.Task
	err := db.WithContext(ctx).
		Where("chat_id = ? AND origin_message_id = ?", chatID, originMessageID).
		Order("id ASC").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListOpenTasks returns up to MaxOpenTasks open tasks assigned to userID.
func ListOpenTasks(ctx context.Context, db *gorm.DB, userID int64) ([]domain.Task, error) {
	var out []domain.Task
	err := openTasks(ctx, db, userID).
		Limit(MaxOpenTasks).
		Find(&out).Error
	return out, err
}

// ListTasksForDate returns open tasks assigned to userID due exactly on d.
func ListTasksForDate(ctx context.Context, db *gorm.DB, userID int64, d domain.Date) ([]domain.Task, error) {
	var out []domain.Task
	err := openTasks(ctx, db, userID).
		Where("deadline = ?", d).
		Find(&out).Error
	return out, err
}

// ListTasksInRange returns open tasks assigned to userID with
// from <= deadline <= to.
func ListTasksInRange(ctx context.Context, db *gorm.DB, userID int64, from, to domain.Date) ([]domain.Task, error) {
	var out []domain.Task
	err := openTasks(ctx, db, userID).
		Where("deadline >= ? AND deadline <= ?", from, to).
		Find(&out).Error
	return out, err
}

// ListOverdueTasks returns open tasks assigned to userID due strictly before today.
func ListOverdueTasks(ctx context.Context, db *gorm.DB, userID int64, today domain.Date) ([]domain.Task, error) {
	var out []domain.Task
	err := openTasks(ctx, db, userID).
		Where("deadline < ?", today).
		Find(&out).Error
	return out, err
}

// CloseTask moves an open task to status and stamps closedAt. It reports
// false when the task was no longer open, so a concurrent close loses
// cleanly instead of overwriting the first closure time.
func CloseTask(ctx context.Context, db *gorm.DB, id int64, status domain.TaskStatus, closedAt time.Time) (bool, error) {
	if status == domain.StatusOpen {
		return false, errors.New("repo: cannot close a task to status open")
	}
	res := db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.StatusOpen).
		Updates(map[string]any{
			"status":    string(status),
			"closed_at": closedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListUsersWithOpenTasks returns registered users that are assignee of at
// least one open task, ordered by ID.
func ListUsersWithOpenTasks(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	sub := db.Model(&domain.Task{}).
		Select("assignee_id").
		Where("status = ?", domain.StatusOpen)

	var out []domain.User
	err := db.WithContext(ctx).
		Where("tg_id IS NOT NULL AND id IN (?)", sub).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func openTasks(ctx context.Context, db *gorm.DB, userID int64) *gorm.DB {
	return db.WithContext(ctx).
		Where("assignee_id = ? AND status = ?", userID, domain.StatusOpen).
		Order(taskOrder)
}
