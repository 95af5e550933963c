package repo

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/deadline-master/internal/domain"
)

func TestOpenTasksStats_CountError_NoTable(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, _, err := OpenTasksStats(context.Background(), db, 1); err == nil {
		t.Fatalf("expected error due to missing tasks table")
	}
}

func TestOpenTasksStats_ZeroRows(t *testing.T) {
	db := newRepoDB(t)
	count, latest, err := OpenTasksStats(context.Background(), db, 1)
	if err != nil {
		t.Fatalf("OpenTasksStats error: %v", err)
	}
	if count != 0 || latest != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, latest)
	}
}

func TestOpenTasksStats_CountsOpenOnly_AndLatest(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	u := newAssignee(t, db, 1)

	older := seedTaskFor(t, db, u.ID, mustDate(t, "2025-01-01"))
	newer := seedTaskFor(t, db, u.ID, mustDate(t, "2025-01-02"))
	closed := seedTaskFor(t, db, u.ID, mustDate(t, "2025-01-03"))

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	db.Model(&domain.Task{}).Where("id = ?", older.ID).Update("created_at", base)
	db.Model(&domain.Task{}).Where("id = ?", newer.ID).Update("created_at", base.Add(time.Hour))
	db.Model(&domain.Task{}).Where("id = ?", closed.ID).Update("created_at", base.Add(2*time.Hour))
	if _, err := CloseTask(ctx, db, closed.ID, domain.StatusDone, time.Now()); err != nil {
		t.Fatalf("close: %v", err)
	}

	count, latest, err := OpenTasksStats(ctx, db, u.ID)
	if err != nil {
		t.Fatalf("OpenTasksStats: %v", err)
	}
	if count != 2 || latest == nil || !latest.Equal(base.Add(time.Hour)) {
		t.Fatalf("got (%d, %v); want (2, %v)", count, latest, base.Add(time.Hour))
	}
}
