// Package services – TaskService
//
// This file implements TaskService, which owns the task lifecycle: creation
// from a /task command, the four list views and closing. Every public method
// runs as one unit of work inside a single database transaction; any error
// rolls back that unit only.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/deadline-master/internal/command"
	"github.com/tbourn/deadline-master/internal/domain"
	"github.com/tbourn/deadline-master/internal/repo"
)

// WeekDays is the look-ahead of the week view: today..today+WeekDays inclusive.
const WeekDays = 7

// Scope selects one of the task list views.
type Scope string

// Task list views.
const (
	ScopeOpen    Scope = "open"
	ScopeToday   Scope = "today"
	ScopeWeek    Scope = "week"
	ScopeOverdue Scope = "overdue"
)

// ParseScope maps a scope name (or the matching command name) to a Scope.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open", command.NameMy:
		return ScopeOpen, nil
	case "today":
		return ScopeToday, nil
	case "week":
		return ScopeWeek, nil
	case "overdue":
		return ScopeOverdue, nil
	default:
		return "", ErrUnknownScope
	}
}

// CloseOutcome is the result of a close attempt.
type CloseOutcome int

// Close outcomes.
const (
	CloseSuccess CloseOutcome = iota
	CloseNotFound
	CloseAlreadyClosed
	CloseForbidden
)

func (o CloseOutcome) String() string {
	switch o {
	case CloseSuccess:
		return "success"
	case CloseNotFound:
		return "not_found"
	case CloseAlreadyClosed:
		return "already_closed"
	case CloseForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// TaskService coordinates task persistence and the close rules.
type TaskService struct {
	DB *gorm.DB

	// Now returns the current instant; defaults to time.Now.
	Now func() time.Time
	// Location defines the calendar day used for "today"; defaults to time.Local.
	Location *time.Location
	// AllowCreatorClose lets the creator close a task on behalf of the assignee.
	AllowCreatorClose bool
}

// NewTaskService constructs a TaskService with the wall clock.
func NewTaskService(db *gorm.DB, loc *time.Location, allowCreatorClose bool) *TaskService {
	return &TaskService{
		DB:                db,
		Now:               time.Now,
		Location:          loc,
		AllowCreatorClose: allowCreatorClose,
	}
}

func (s *TaskService) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

// Today returns the current calendar date in the configured location.
func (s *TaskService) Today() domain.Date { return domain.DateOf(s.now()) }

// CreateTaskInput is a /task request together with where and by whom it was sent.
type CreateTaskInput struct {
	Chat    repo.ChatProfile
	Creator repo.UserProfile
	Text    string
	// OriginMessageID identifies the source message; a repeat with the same
	// (chat, message) returns the existing task.
	OriginMessageID *int64
}

// CreateTaskResult describes a created (or previously created) task.
type CreateTaskResult struct {
	Task     *domain.Task
	Chat     *domain.Chat
	Creator  *domain.User
	Assignee *domain.User
	// Duplicate is true when the source message had already produced Task.
	Duplicate bool
}

// Create parses text and persists the task: upsert chat, upsert creator,
// resolve or stub the assignee, insert. A malformed command yields a
// *command.ParseError and touches nothing.
func (s *TaskService) Create(ctx context.Context, in CreateTaskInput) (*CreateTaskResult, error) {
	tr := otel.Tracer("services/TaskService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.Int64("chat.tg_id", in.Chat.TgChatID),
			attribute.Int64("user.tg_id", in.Creator.TgID),
		),
	)
	defer span.End()

	cmd, err := command.ParseAt(in.Text, s.now())
	if err != nil {
		return nil, err
	}

	var out CreateTaskResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := repo.UpsertChatByTgID(ctx, tx, in.Chat)
		if err != nil {
			return fmt.Errorf("upsert chat: %w", err)
		}
		creator, err := repo.UpsertUserByTgID(ctx, tx, in.Creator)
		if err != nil {
			return fmt.Errorf("upsert creator: %w", err)
		}
		out.Chat, out.Creator = chat, creator

		if in.OriginMessageID != nil {
			prev, err := repo.FindTaskByOrigin(ctx, tx, chat.ID, *in.OriginMessageID)
			switch {
			case err == nil:
				assignee, err := repo.GetUser(ctx, tx, prev.AssigneeID)
				if err != nil {
					return err
				}
				out.Task, out.Assignee, out.Duplicate = prev, assignee, true
				return nil
			case !errors.Is(err, repo.ErrNotFound):
				return err
			}
		}

		assignee, err := repo.GetOrStubUserByUsername(ctx, tx, cmd.AssigneeHandle)
		if err != nil {
			return fmt.Errorf("resolve assignee: %w", err)
		}
		task, err := repo.CreateTask(ctx, tx, repo.NewTask{
			ChatID:          chat.ID,
			CreatorID:       creator.ID,
			AssigneeID:      assignee.ID,
			Title:           cmd.Title,
			Deadline:        cmd.Deadline,
			OriginMessageID: in.OriginMessageID,
		})
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		out.Task, out.Assignee = task, assignee
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("task.id", out.Task.ID))
	if !out.Duplicate {
		tasksCreated.Inc()
	}
	return &out, nil
}

// TaskList is one list view for a user.
type TaskList struct {
	Scope Scope
	Today domain.Date
	User  *domain.User
	Tasks []domain.Task
	// Chats holds the originating chat of every task in Tasks.
	Chats map[int64]domain.Chat
}

// List resolves the requesting user (registering them on first contact) and
// returns their open tasks for scope, evaluated against today's date.
func (s *TaskService) List(ctx context.Context, who repo.UserProfile, scope Scope) (*TaskList, error) {
	tr := otel.Tracer("services/TaskService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.Int64("user.tg_id", who.TgID),
			attribute.String("scope", string(scope)),
		),
	)
	defer span.End()

	out := &TaskList{Scope: scope, Today: s.Today()}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := repo.UpsertUserByTgID(ctx, tx, who)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		out.User = u
		return s.fill(ctx, tx, out)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// ListByTgID is List for a user who must already be known. It never
// registers anyone and returns ErrUserNotFound for an unknown identity.
func (s *TaskService) ListByTgID(ctx context.Context, tgID int64, scope Scope) (*TaskList, error) {
	tr := otel.Tracer("services/TaskService")
	ctx, span := tr.Start(ctx, "ListByTgID",
		trace.WithAttributes(
			attribute.Int64("user.tg_id", tgID),
			attribute.String("scope", string(scope)),
		),
	)
	defer span.End()

	out := &TaskList{Scope: scope, Today: s.Today()}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := repo.GetUserByTgID(ctx, tx, tgID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		out.User = u
		return s.fill(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OpenStats returns the number of open tasks assigned to the user with
// tgID and the newest creation time among them. Used for HTTP ETags.
func (s *TaskService) OpenStats(ctx context.Context, tgID int64) (int64, *time.Time, error) {
	u, err := repo.GetUserByTgID(ctx, s.DB, tgID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil, ErrUserNotFound
	}
	if err != nil {
		return 0, nil, err
	}
	return repo.OpenTasksStats(ctx, s.DB, u.ID)
}

func (s *TaskService) fill(ctx context.Context, tx *gorm.DB, l *TaskList) error {
	var err error
	switch l.Scope {
	case ScopeOpen:
		l.Tasks, err = repo.ListOpenTasks(ctx, tx, l.User.ID)
	case ScopeToday:
		l.Tasks, err = repo.ListTasksForDate(ctx, tx, l.User.ID, l.Today)
	case ScopeWeek:
		l.Tasks, err = repo.ListTasksInRange(ctx, tx, l.User.ID, l.Today, l.Today.AddDays(WeekDays))
	case ScopeOverdue:
		l.Tasks, err = repo.ListOverdueTasks(ctx, tx, l.User.ID, l.Today)
	default:
		return ErrUnknownScope
	}
	if err != nil {
		return err
	}
	l.Chats, err = repo.GetChatsByIDs(ctx, tx, chatIDs(l.Tasks))
	return err
}

// CloseResult describes a close attempt.
type CloseResult struct {
	Outcome CloseOutcome
	// Task is set for CloseSuccess and CloseAlreadyClosed.
	Task *domain.Task
	// Chat is the originating chat of a successfully closed task.
	Chat   *domain.Chat
	Closer *domain.User
}

// Close resolves the closer and applies CloseTask in one transaction.
func (s *TaskService) Close(ctx context.Context, taskID int64, closer repo.UserProfile) (*CloseResult, error) {
	tr := otel.Tracer("services/TaskService")
	ctx, span := tr.Start(ctx, "Close",
		trace.WithAttributes(
			attribute.Int64("task.id", taskID),
			attribute.Int64("user.tg_id", closer.TgID),
		),
	)
	defer span.End()

	var out CloseResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := repo.UpsertUserByTgID(ctx, tx, closer)
		if err != nil {
			return fmt.Errorf("upsert closer: %w", err)
		}
		out.Closer = u

		task, outcome, err := CloseTask(ctx, tx, taskID, u, s.AllowCreatorClose, s.now())
		if err != nil {
			return err
		}
		out.Task, out.Outcome = task, outcome
		if outcome != CloseSuccess {
			return nil
		}
		chats, err := repo.GetChatsByIDs(ctx, tx, []int64{task.ChatID})
		if err != nil {
			return err
		}
		if c, ok := chats[task.ChatID]; ok {
			out.Chat = &c
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("close.outcome", out.Outcome.String()))
	tasksClosed.WithLabelValues(out.Outcome.String()).Inc()
	return &out, nil
}

// CloseTask applies the close rules inside the caller's transaction:
//   - unknown id: (nil, CloseNotFound)
//   - status not open: (task unchanged, CloseAlreadyClosed)
//   - closer neither assignee nor (if allowCreatorClose) creator: (nil, CloseForbidden)
//   - otherwise the task becomes done with ClosedAt = now: (task, CloseSuccess)
//
// The write is guarded by status = 'open'; losing a concurrent close
// reports CloseAlreadyClosed with the winner's state.
func CloseTask(ctx context.Context, tx *gorm.DB, taskID int64, closer *domain.User, allowCreatorClose bool, now time.Time) (*domain.Task, CloseOutcome, error) {
	task, err := repo.GetTask(ctx, tx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, CloseNotFound, nil
	}
	if err != nil {
		return nil, 0, err
	}
	if !task.IsOpen() {
		return task, CloseAlreadyClosed, nil
	}
	if closer == nil || !(closer.ID == task.AssigneeID || (allowCreatorClose && closer.ID == task.CreatorID)) {
		return nil, CloseForbidden, nil
	}

	closedAt := now.UTC()
	ok, err := repo.CloseTask(ctx, tx, task.ID, domain.StatusDone, closedAt)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		current, err := repo.GetTask(ctx, tx, taskID)
		if err != nil {
			return nil, 0, err
		}
		return current, CloseAlreadyClosed, nil
	}
	task.Status = domain.StatusDone
	task.ClosedAt = &closedAt
	return task, CloseSuccess, nil
}

func chatIDs(tasks []domain.Task) []int64 {
	seen := make(map[int64]struct{}, len(tasks))
	out := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.ChatID]; ok {
			continue
		}
		seen[t.ChatID] = struct{}{}
		out = append(out, t.ChatID)
	}
	return out
}
