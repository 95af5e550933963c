// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/deadline-master/internal/domain"
)

// OpenTasksStats returns the number of open tasks assigned to userID and the
// latest CreatedAt among them.
//
// When the user has no open tasks, the returned count is 0 and latest is nil.
func OpenTasksStats(ctx context.Context, db *gorm.DB, userID int64) (count int64, latest *time.Time, err error) {
	q := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Task{}).
			Where("assignee_id = ? AND status = ?", userID, domain.StatusOpen)
	}

	if err = q().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = q().Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
