// Package services – CommandService
//
// CommandService executes one chat command end to end and returns what to
// send back. It knows nothing about the chat transport: the Telegram poller
// and the ops HTTP API both feed it Incoming values.
//
// Error contract: parse errors and close outcomes become reply text. Only
// persistence failures are returned as errors; the caller replies with
// GenericFailureText and logs.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/deadline-master/internal/command"
	"github.com/tbourn/deadline-master/internal/domain"
	"github.com/tbourn/deadline-master/internal/repo"
)

// Incoming is one command message.
type Incoming struct {
	Chat repo.ChatProfile
	From repo.UserProfile
	// MessageID is the platform message id; 0 when unknown.
	MessageID int64
	Text      string
}

// Outgoing is a message to a chat other than the one being replied to.
type Outgoing struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// Reply is the response to an Incoming command.
type Reply struct {
	Text string `json:"text"`
	// Menu asks the transport to attach the quick-command keyboard.
	Menu bool `json:"menu,omitempty"`
	// Notices are sent after Text, best effort.
	Notices []Outgoing `json:"notices,omitempty"`
}

// CommandService routes commands to TaskService and renders replies.
type CommandService struct {
	Tasks *TaskService
	// NotifyDoneInChat announces a completed task in its originating chat.
	NotifyDoneInChat bool
	// BotUsername, when set, drops commands qualified for another bot.
	BotUsername string
}

// NewCommandService constructs a CommandService.
func NewCommandService(tasks *TaskService, notifyDoneInChat bool) *CommandService {
	return &CommandService{Tasks: tasks, NotifyDoneInChat: notifyDoneInChat}
}

// Handle executes in. It returns (nil, nil) for messages that need no reply:
// plain text, unknown commands, commands for another bot and messages
// without a sender.
func (s *CommandService) Handle(ctx context.Context, in Incoming) (*Reply, error) {
	name := command.Name(in.Text)
	if name == "" || in.From.TgID == 0 || !command.AddressedTo(in.Text, s.BotUsername) {
		return nil, nil
	}
	log.Debug().
		Str("command", name).
		Int64("chat_tg_id", in.Chat.TgChatID).
		Int64("user_tg_id", in.From.TgID).
		Msg("command received")

	switch name {
	case command.NameStart:
		return s.start(ctx, in)
	case command.NameHelp:
		return &Reply{Text: HelpText}, nil
	case command.NameTask:
		return s.createTask(ctx, in)
	case command.NameMy, command.NameToday, command.NameWeek, command.NameOverdue:
		scope, _ := ParseScope(name)
		l, err := s.Tasks.List(ctx, in.From, scope)
		if err != nil {
			return nil, err
		}
		return &Reply{Text: FormatTaskList(l)}, nil
	case command.NameDone:
		return s.done(ctx, in)
	default:
		return nil, nil
	}
}

func (s *CommandService) start(ctx context.Context, in Incoming) (*Reply, error) {
	err := s.Tasks.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.UpsertUserByTgID(ctx, tx, in.From); err != nil {
			return fmt.Errorf("register user: %w", err)
		}
		if in.Chat.Type.IsGroup() {
			if _, err := repo.UpsertChatByTgID(ctx, tx, in.Chat); err != nil {
				return fmt.Errorf("register chat: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if in.Chat.Type.IsGroup() {
		return &Reply{Text: StartGroupText}, nil
	}
	return &Reply{Text: StartPrivateText, Menu: true}, nil
}

func (s *CommandService) createTask(ctx context.Context, in Incoming) (*Reply, error) {
	input := CreateTaskInput{Chat: in.Chat, Creator: in.From, Text: in.Text}
	if in.MessageID != 0 {
		id := in.MessageID
		input.OriginMessageID = &id
	}
	res, err := s.Tasks.Create(ctx, input)
	var pe *command.ParseError
	if errors.As(err, &pe) {
		log.Debug().Str("code", pe.Code).Msg("task command rejected")
		return &Reply{Text: pe.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	reply := &Reply{Text: FormatCreated(res)}
	if res.Duplicate {
		return reply, nil
	}
	if a := res.Assignee; a != nil && !a.IsStub() && *a.TgID != in.Chat.TgChatID {
		reply.Notices = append(reply.Notices, Outgoing{ChatID: *a.TgID, Text: FormatAssigneeNotice(res)})
	}
	return reply, nil
}

func (s *CommandService) done(ctx context.Context, in Incoming) (*Reply, error) {
	id, err := command.ParseTaskID(in.Text)
	if err != nil {
		return &Reply{Text: err.Error()}, nil
	}
	res, err := s.Tasks.Close(ctx, id, in.From)
	if err != nil {
		return nil, err
	}
	reply := &Reply{Text: FormatCloseResult(res)}
	if res.Outcome == CloseSuccess && s.NotifyDoneInChat && announceable(res.Chat, in.Chat.TgChatID) {
		reply.Notices = append(reply.Notices, Outgoing{ChatID: res.Chat.TgChatID, Text: FormatDoneAnnouncement(res)})
	}
	return reply, nil
}

// announceable reports whether a completion notice should go to c: it must
// be a group chat other than the one the reply already goes to.
func announceable(c *domain.Chat, replyChat int64) bool {
	return c != nil && c.Type.IsGroup() && c.TgChatID != replyChat
}
