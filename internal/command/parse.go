// Package command turns free-text chat commands into structured requests.
//
// The task grammar is:
//
//	/task <title text> до <date> @<handle>
//
// where <date> is one of DD.MM, DD.MM.YYYY or YYYY-MM-DD. Parsing is pure:
// the only outside input is the reference time used to default the year of
// a DD.MM date.
package command

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tbourn/deadline-master/internal/domain"
)

// TaskCommand is a validated /task request.
type TaskCommand struct {
	Title          string
	Deadline       domain.Date
	AssigneeHandle string // without the '@' prefix
}

// ParseError is a user-input defect. Error() is safe to show to the user.
type ParseError struct {
	Code    string
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// Parse failures. Compare with errors.Is.
var (
	ErrEmptyCommand     = &ParseError{Code: "empty_command", Message: "Пустая команда."}
	ErrMissingDelimiter = &ParseError{Code: "missing_delimiter", Message: "Не найдено ключевое слово 'до'."}
	ErrMissingTitle     = &ParseError{Code: "missing_title", Message: "Не указан заголовок задачи перед 'до'."}
	ErrMissingDate      = &ParseError{Code: "missing_date", Message: "После 'до' должна быть дата."}
	ErrMissingAssignee  = &ParseError{Code: "missing_assignee", Message: "Не указан исполнитель (@username)."}
	ErrUnparsableDate   = &ParseError{Code: "unparsable_date", Message: "Не удалось распознать дату. Поддерживаемые форматы: DD.MM, DD.MM.YYYY, YYYY-MM-DD."}
	ErrTitleTooLong     = &ParseError{Code: "title_too_long", Message: "Заголовок задачи слишком длинный: не более 500 символов."}
)

// MaxTitleLength is the longest accepted title in characters; it matches the
// tasks.title column.
const MaxTitleLength = 500

// HandlePrefix marks the assignee token.
const HandlePrefix = "@"

var (
	// taskPrefixRE matches the leading command token, e.g. "/task" or "/task@deadline_bot".
	taskPrefixRE = regexp.MustCompile(`(?i)^/task(?:@[A-Za-z0-9_]+)?(?:\s+|$)`)

	// delimiterRE finds "до" as a standalone word. RE2's \b is ASCII-only, so
	// the word boundary is spelled out over Unicode letters, digits and '_'.
	delimiterRE = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(до)(?:[^\p{L}\p{N}_]|$)`)
)

// datePattern is one accepted deadline format. yIdx is -1 when the pattern
// carries no year.
type datePattern struct {
	re     *regexp.Regexp
	dayIdx int
	monIdx int
	yIdx   int
}

var datePatterns = []datePattern{
	{re: regexp.MustCompile(`^(\d{2})\.(\d{2})$`), dayIdx: 1, monIdx: 2, yIdx: -1},         // DD.MM
	{re: regexp.MustCompile(`^(\d{2})\.(\d{2})\.(\d{4})$`), dayIdx: 1, monIdx: 2, yIdx: 3}, // DD.MM.YYYY
	{re: regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`), dayIdx: 3, monIdx: 2, yIdx: 1},   // YYYY-MM-DD
}

// Parse parses a /task command using the current wall clock as reference.
func Parse(text string) (*TaskCommand, error) {
	return ParseAt(text, time.Now())
}

// ParseAt parses a /task command. now supplies the default year for DD.MM
// dates; a DD.MM date already in the past is not rolled to next year.
func ParseAt(text string, now time.Time) (*TaskCommand, error) {
	text = strings.TrimSpace(text)
	if loc := taskPrefixRE.FindStringIndex(text); loc != nil {
		text = text[loc[1]:]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyCommand
	}

	m := delimiterRE.FindStringSubmatchIndex(text)
	if m == nil {
		return nil, ErrMissingDelimiter
	}
	left := strings.TrimSpace(text[:m[2]])
	right := strings.TrimSpace(text[m[3]:])
	if left == "" {
		return nil, ErrMissingTitle
	}
	if utf8.RuneCountInString(left) > MaxTitleLength {
		return nil, ErrTitleTooLong
	}

	parts := strings.Fields(right)
	if len(parts) == 0 {
		return nil, ErrMissingDate
	}
	dateStr := parts[0]

	handle := ""
	if len(parts) >= 2 && strings.HasPrefix(parts[1], HandlePrefix) {
		handle = strings.TrimPrefix(parts[1], HandlePrefix)
	}
	if handle == "" {
		return nil, ErrMissingAssignee
	}

	deadline, err := ParseDate(dateStr, now)
	if err != nil {
		return nil, err
	}
	return &TaskCommand{Title: left, Deadline: deadline, AssigneeHandle: handle}, nil
}

// ParseDate parses a deadline in one of the accepted formats. Patterns are
// tried in order and the first structural match decides; an impossible
// calendar date there fails without consulting later patterns.
func ParseDate(s string, now time.Time) (domain.Date, error) {
	s = strings.TrimSpace(s)
	for _, p := range datePatterns {
		g := p.re.FindStringSubmatch(s)
		if g == nil {
			continue
		}
		year := now.Year()
		if p.yIdx > 0 {
			year, _ = strconv.Atoi(g[p.yIdx])
		}
		month, _ := strconv.Atoi(g[p.monIdx])
		day, _ := strconv.Atoi(g[p.dayIdx])
		d, ok := domain.NewDate(year, time.Month(month), day)
		if !ok {
			return domain.Date{}, ErrUnparsableDate
		}
		return d, nil
	}
	return domain.Date{}, ErrUnparsableDate
}
