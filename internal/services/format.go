// Package services – user-facing texts
//
// Every reply the bot sends is composed here. Messages are plain text (no
// parse mode), so titles and handles need no escaping.
package services

import (
	"fmt"
	"strings"

	"github.com/tbourn/deadline-master/internal/domain"
)

// Static texts.
const (
	StartPrivateText = "Привет! Я — Мастер дедлайнов.\n\n" +
		"Я помогаю создавать задачи с дедлайнами прямо в чатах и следить за ними.\n\n" +
		"➕ Создать задачу в группе:\n" +
		"/task сделать лендинг до 20.11 @username\n" +
		"/task настроить оплату до 2025-11-20 @username\n\n" +
		"📋 Смотреть задачи (в ЛС):\n" +
		"/my — все открытые\n" +
		"/today — на сегодня\n" +
		"/week — на 7 дней вперёд\n" +
		"/overdue — просроченные\n\n" +
		"✅ Отметить выполненной: /done 123\n\n" +
		"Важно: напишите мне /start, чтобы я мог присылать личные уведомления."

	StartGroupText = "Привет! Я здесь, чтобы помогать со сроками.\n\n" +
		"Создайте задачу так:\n" +
		"/task сделать лендинг до 20.11 @username\n\n" +
		"Чтобы получать личные уведомления — участники должны написать мне /start в ЛС."

	HelpText = "Справка по командам:\n" +
		"/task <что> до <дата> @username — создать задачу в чате\n" +
		"/my, /today, /week, /overdue — смотреть задачи (в ЛС)\n" +
		"/done <id> — отметить задачу выполненной"

	// GenericFailureText is shown when a command failed for a reason the
	// user cannot fix (storage or transport trouble).
	GenericFailureText = "Что-то пошло не так. Попробуйте ещё раз позже."

	closeNotFoundText  = "Задача с таким ID не найдена."
	closeForbiddenText = "У вас нет прав закрывать эту задачу."
)

type listTexts struct {
	header string
	empty  string
	label  string
}

var scopeTexts = map[Scope]listTexts{
	ScopeOpen:    {header: "📋 Твои открытые задачи:", empty: "У тебя нет открытых задач.", label: labelDue},
	ScopeToday:   {header: DigestTodayHeader, empty: "На сегодня задач нет.", label: labelDue},
	ScopeWeek:    {header: "🗓 Задачи на 7 дней:", empty: "На ближайшие 7 дней задач нет.", label: labelDue},
	ScopeOverdue: {header: DigestOverdueHeader, empty: "Просроченных задач нет.", label: labelDeadline},
}

// FormatTaskList renders a list view reply.
func FormatTaskList(l *TaskList) string {
	txt, ok := scopeTexts[l.Scope]
	if !ok {
		txt = scopeTexts[ScopeOpen]
	}
	if len(l.Tasks) == 0 {
		return txt.empty
	}
	lines := make([]string, 0, len(l.Tasks)+1)
	lines = append(lines, txt.header)
	for _, t := range l.Tasks {
		lines = append(lines, FormatTaskLine(t, l.Chats, txt.label))
	}
	return strings.Join(lines, "\n")
}

// FormatCreated is the confirmation posted where the task was created.
func FormatCreated(r *CreateTaskResult) string {
	return fmt.Sprintf("✅ Задача #%d создана: %s\nИсполнитель: %s\nДедлайн: %s",
		r.Task.ID, r.Task.Title, mention(r.Assignee), r.Task.Deadline.Format(displayDate))
}

// FormatAssigneeNotice is the private message to a newly assigned user.
func FormatAssigneeNotice(r *CreateTaskResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📌 Вам назначена задача #%d: %s\nДедлайн: %s",
		r.Task.ID, r.Task.Title, r.Task.Deadline.Format(displayDate))
	if r.Chat != nil && r.Chat.DisplayTitle() != "" {
		fmt.Fprintf(&b, "\nЧат: %s", r.Chat.DisplayTitle())
	}
	if r.Creator != nil {
		fmt.Fprintf(&b, "\nПоставил(а): %s", mention(r.Creator))
	}
	return b.String()
}

// FormatCloseResult is the reply to /done for every outcome.
func FormatCloseResult(r *CloseResult) string {
	switch r.Outcome {
	case CloseSuccess:
		return fmt.Sprintf("✅ Задача #%d «%s» отмечена выполненной.", r.Task.ID, r.Task.Title)
	case CloseAlreadyClosed:
		return fmt.Sprintf("Задача уже имеет статус '%s'.", r.Task.Status)
	case CloseForbidden:
		return closeForbiddenText
	default:
		return closeNotFoundText
	}
}

// FormatDoneAnnouncement is posted into the task's chat after a close.
func FormatDoneAnnouncement(r *CloseResult) string {
	return fmt.Sprintf("✅ %s выполнил(а) задачу #%d: %s", mention(r.Closer), r.Task.ID, r.Task.Title)
}

// mention renders a user as "@handle", falling back to the first name.
func mention(u *domain.User) string {
	if u == nil {
		return "?"
	}
	if h := u.Handle(); h != "" {
		return "@" + h
	}
	if u.FirstName != nil && *u.FirstName != "" {
		return *u.FirstName
	}
	return fmt.Sprintf("user#%d", u.ID)
}
