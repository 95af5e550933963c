// Package services – digest text
//
// BuildDigest and the line formatters are pure: no clock, no database. The
// same line format is used by the list replies so a task reads identically
// everywhere.
package services

import (
	"fmt"
	"strings"

	"github.com/tbourn/deadline-master/internal/domain"
)

// Digest section headers.
const (
	DigestTodayHeader   = "🎯 Твои задачи на сегодня:"
	DigestOverdueHeader = "⏰ Просрочены:"
)

// displayDate is the user-facing deadline layout.
const displayDate = "02.01.2006"

// Line labels in front of the deadline.
const (
	labelDue      = "до"
	labelDeadline = "дедлайн:"
)

// FormatTaskLine renders "#<id> — <title> (<label> DD.MM.YYYY[, чат: <title>])".
// The chat part is omitted when the chat is unknown or untitled.
func FormatTaskLine(t domain.Task, chats map[int64]domain.Chat, label string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d — %s (%s %s", t.ID, t.Title, label, t.Deadline.Format(displayDate))
	if c, ok := chats[t.ChatID]; ok && c.DisplayTitle() != "" {
		b.WriteString(", чат: ")
		b.WriteString(c.DisplayTitle())
	}
	b.WriteByte(')')
	return b.String()
}

// BuildDigest composes the daily digest for one recipient. It returns false
// when both lists are empty and there is nothing to send.
func BuildDigest(today, overdue []domain.Task, chats map[int64]domain.Chat) (string, bool) {
	if len(today) == 0 && len(overdue) == 0 {
		return "", false
	}
	lines := make([]string, 0, len(today)+len(overdue)+3)
	if len(today) > 0 {
		lines = append(lines, DigestTodayHeader)
		for _, t := range today {
			lines = append(lines, FormatTaskLine(t, chats, labelDue))
		}
	}
	if len(overdue) > 0 {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, DigestOverdueHeader)
		for _, t := range overdue {
			lines = append(lines, FormatTaskLine(t, chats, labelDeadline))
		}
	}
	return strings.Join(lines, "\n"), true
}
