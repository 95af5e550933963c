package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/deadline-master/internal/domain"
	"github.com/tbourn/deadline-master/internal/services"
)

// TaskItem is one task in a list response.
type TaskItem struct {
	ID        int64             `json:"id"`
	Title     string            `json:"title"`
	Deadline  domain.Date       `json:"deadline"`
	Status    domain.TaskStatus `json:"status"`
	ChatTitle string            `json:"chat_title,omitempty"`
	Overdue   bool              `json:"overdue"`
}

// ListTasksResponse is a page of a user's task view.
type ListTasksResponse struct {
	Scope services.Scope `json:"scope"`
	Today domain.Date    `json:"today"`
	Tasks []TaskItem     `json:"tasks"`
	// Text is the full view rendered as the bot would send it.
	Text       string     `json:"text"`
	Pagination Pagination `json:"pagination"`
}

// ListUserTasks returns one of the open-task views of a known user. It never
// registers users. A weak ETag over (scope, today, open count, newest task)
// allows 304 responses.
//
//	GET {base}/users/:tg_id/tasks?scope=open|today|week|overdue&page=&page_size=
func (h *Handlers) ListUserTasks(c *gin.Context) {
	ctx := c.Request.Context()

	tgID, err := strconv.ParseInt(c.Param("tg_id"), 10, 64)
	if err != nil || tgID == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tg_id must be a non-zero integer")
		return
	}
	scope, err := services.ParseScope(c.Query("scope"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeUnknownScope, "scope must be one of: open, today, week, overdue")
		return
	}
	page, pageSize := clampPagination(c)

	count, latest, err := h.tasks.OpenStats(ctx, tgID)
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeUserNotFound, "user has not contacted the bot")
		return
	case err == nil:
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"tasks:%d:%s:%s:%d:%d:%d:%d"`, tgID, scope, h.tasks.Today(), count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	list, err := h.tasks.ListByTgID(ctx, tgID, scope)
	if errors.Is(err, services.ErrUserNotFound) {
		fail(c, http.StatusNotFound, ErrCodeUserNotFound, "user has not contacted the bot")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list tasks")
		return
	}

	total := len(list.Tasks)
	lo, hi := pageBounds(total, page, pageSize)
	items := make([]TaskItem, 0, hi-lo)
	for _, t := range list.Tasks[lo:hi] {
		items = append(items, TaskItem{
			ID:        t.ID,
			Title:     t.Title,
			Deadline:  t.Deadline,
			Status:    t.Status,
			ChatTitle: list.Chats[t.ChatID].DisplayTitle(),
			Overdue:   t.Deadline.Before(list.Today),
		})
	}
	totalPages := (total + pageSize - 1) / pageSize
	ok(c, http.StatusOK, ListTasksResponse{
		Scope: list.Scope,
		Today: list.Today,
		Tasks: items,
		Text:  services.FormatTaskList(list),
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
