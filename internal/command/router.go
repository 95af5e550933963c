package command

import (
	"strconv"
	"strings"
)

// Command names understood by the bot.
const (
	NameStart   = "start"
	NameHelp    = "help"
	NameTask    = "task"
	NameMy      = "my"
	NameToday   = "today"
	NameWeek    = "week"
	NameOverdue = "overdue"
	NameDone    = "done"
)

// Errors for /done <id>.
var (
	ErrMissingTaskID = &ParseError{Code: "missing_task_id", Message: "Укажите ID задачи: /done 123"}
	ErrBadTaskID     = &ParseError{Code: "bad_task_id", Message: "ID задачи должен быть положительным числом."}
)

// Name returns the lower-cased command name of text without the leading
// slash and any "@botname" qualifier, or "" if text is not a command.
func Name(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	head := text[1:]
	if i := strings.IndexFunc(head, isSpace); i >= 0 {
		head = head[:i]
	}
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	return strings.ToLower(head)
}

// Mention returns the "@botname" qualifier of a command without the "@",
// or "" when there is none.
func Mention(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	head := text[1:]
	if i := strings.IndexFunc(head, isSpace); i >= 0 {
		head = head[:i]
	}
	if i := strings.IndexByte(head, '@'); i >= 0 {
		return head[i+1:]
	}
	return ""
}

// AddressedTo reports whether a command is meant for the bot named
// username. Unqualified commands address every bot in the chat. An empty
// username accepts any qualifier.
func AddressedTo(text, username string) bool {
	m := Mention(text)
	return m == "" || username == "" || strings.EqualFold(m, strings.TrimPrefix(username, "@"))
}

// Args returns everything after the command token, trimmed.
func Args(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return text
	}
	if i := strings.IndexFunc(text, isSpace); i >= 0 {
		return strings.TrimSpace(text[i:])
	}
	return ""
}

// ParseTaskID parses the argument of "/done <id>". Extra tokens are ignored.
func ParseTaskID(text string) (int64, error) {
	fields := strings.Fields(Args(text))
	if len(fields) == 0 {
		return 0, ErrMissingTaskID
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(fields[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrBadTaskID
	}
	return id, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
