// Package handlers implements the ops HTTP API: transport-neutral command
// execution, per-user task views and the manual digest trigger.
//
// Handlers are transport-thin: they validate input, call application
// services and translate results into HTTP responses.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/deadline-master/internal/domain"
	"github.com/tbourn/deadline-master/internal/services"
	"github.com/tbourn/deadline-master/internal/utils"
)

// CommandExecutor runs one chat command.
type CommandExecutor interface {
	Handle(ctx context.Context, in services.Incoming) (*services.Reply, error)
}

// TaskLister serves read-only task views for known users.
type TaskLister interface {
	Today() domain.Date
	ListByTgID(ctx context.Context, tgID int64, scope services.Scope) (*services.TaskList, error)
	OpenStats(ctx context.Context, tgID int64) (int64, *time.Time, error)
}

// DigestRunner runs the daily digest once.
type DigestRunner interface {
	Run(ctx context.Context) (services.DigestReport, error)
}

// Handlers groups the ops endpoints. Any dependency may be nil; the
// corresponding endpoints then answer 503 or are not mounted.
type Handlers struct {
	cmd    CommandExecutor
	tasks  TaskLister
	digest DigestRunner
}

// New constructs Handlers.
func New(cmd CommandExecutor, tasks TaskLister, digest DigestRunner) *Handlers {
	return &Handlers{cmd: cmd, tasks: tasks, digest: digest}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// clampPagination bounds the page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 50
		maxPageSize     = 200
	)
	return utils.PageParams(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
}

// pageBounds returns the [lo, hi) slice bounds of page within total items.
// Pages past the end are empty; page is compared before multiplying so huge
// values cannot overflow.
func pageBounds(total, page, pageSize int) (lo, hi int) {
	if page < 1 || pageSize < 1 || page-1 > total/pageSize {
		return total, total
	}
	lo = (page - 1) * pageSize
	hi = lo + pageSize
	if hi > total {
		hi = total
	}
	return lo, hi
}
