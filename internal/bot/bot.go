// Package bot adapts the Telegram Bot API to the transport-neutral command
// service. It long-polls updates, runs each one on its own goroutine, sends
// replies and notices, and implements services.Notifier for the digest job.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/deadline-master/internal/command"
	"github.com/tbourn/deadline-master/internal/domain"
	"github.com/tbourn/deadline-master/internal/repo"
	"github.com/tbourn/deadline-master/internal/services"
)

// maxSendRetries bounds how often a send is retried after a 429 with retry_after.
const maxSendRetries = 2

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler executes one command message.
type Handler interface {
	Handle(ctx context.Context, in services.Incoming) (*services.Reply, error)
}

// Bot wires an API client to a Handler.
type Bot struct {
	api         API
	handler     Handler
	pollTimeout time.Duration
	// username is the bot's own handle; commands qualified for another bot
	// are ignored.
	username string

	// sleep waits d or until ctx is done; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

// New constructs a Bot. pollTimeout is the long-poll wait per getUpdates call
// and username is the bot's own handle (api.Self.UserName).
func New(api API, h Handler, pollTimeout time.Duration, username string) *Bot {
	return &Bot{api: api, handler: h, pollTimeout: pollTimeout, username: username, sleep: sleepCtx}
}

// Run polls updates until ctx is cancelled or the update channel closes.
// It waits for in-flight handlers before returning.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(b.pollTimeout / time.Second)
	u.AllowedUpdates = []string{"message"}
	updates := b.api.GetUpdatesChan(u)

	log.Info().Dur("poll_timeout", b.pollTimeout).Msg("telegram polling started")
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Info().Msg("telegram polling stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func(upd tgbotapi.Update) {
				defer b.wg.Done()
				b.HandleUpdate(ctx, upd)
			}(upd)
		}
	}
}

// HandleUpdate processes a single update. Panics are recovered and logged.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			updatesTotal.WithLabelValues(outcomeFailed).Inc()
			log.Error().Interface("panic", r).Int("update_id", upd.UpdateID).Msg("update handler panicked")
		}
	}()

	msg := upd.Message
	if msg == nil || msg.From == nil || msg.From.IsBot || msg.Chat == nil || msg.Text == "" ||
		!command.AddressedTo(msg.Text, b.username) {
		updatesTotal.WithLabelValues(outcomeIgnored).Inc()
		return
	}

	reply, err := b.handler.Handle(ctx, incomingFrom(msg))
	if err != nil {
		updatesTotal.WithLabelValues(outcomeFailed).Inc()
		log.Error().Err(err).
			Int64("chat_tg_id", msg.Chat.ID).
			Int64("user_tg_id", msg.From.ID).
			Msg("command failed")
		reply = &services.Reply{Text: services.GenericFailureText}
	}
	if reply == nil {
		updatesTotal.WithLabelValues(outcomeIgnored).Inc()
		return
	}
	if err == nil {
		updatesTotal.WithLabelValues(outcomeHandled).Inc()
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, reply.Text)
	out.DisableWebPagePreview = true
	if !msg.Chat.IsPrivate() {
		out.ReplyToMessageID = msg.MessageID
	}
	if reply.Menu {
		out.ReplyMarkup = MainMenu()
	}
	if err := b.send(ctx, out); err != nil {
		log.Warn().Err(err).Int64("chat_tg_id", msg.Chat.ID).Msg("reply not delivered")
	}

	for _, n := range reply.Notices {
		if err := b.Send(ctx, n.ChatID, n.Text); err != nil {
			log.Warn().Err(err).Int64("chat_tg_id", n.ChatID).Msg("notice not delivered")
		}
	}
}

// Send delivers a plain text message. It satisfies services.Notifier.
func (b *Bot) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := tgbotapi.NewMessage(chatID, text)
	out.DisableWebPagePreview = true
	return b.send(ctx, out)
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) error {
	for attempt := 0; ; attempt++ {
		_, err := b.api.Send(c)
		if err == nil {
			sendsTotal.WithLabelValues(resultOK).Inc()
			return nil
		}
		wait := retryAfter(err)
		if wait <= 0 || attempt >= maxSendRetries {
			sendsTotal.WithLabelValues(resultError).Inc()
			return err
		}
		log.Warn().Dur("retry_after", wait).Int("attempt", attempt+1).Msg("telegram rate limited")
		if err := b.sleep(ctx, wait); err != nil {
			sendsTotal.WithLabelValues(resultError).Inc()
			return err
		}
	}
}

// RegisterCommands publishes the command list shown in Telegram clients.
func RegisterCommands(api API) error {
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Начать работу с ботом"},
		tgbotapi.BotCommand{Command: "help", Description: "Как ставить задачи"},
		tgbotapi.BotCommand{Command: "task", Description: "Поставить задачу: /task <текст> до <дата> @user"},
		tgbotapi.BotCommand{Command: "my", Description: "Мои открытые задачи"},
		tgbotapi.BotCommand{Command: "today", Description: "Задачи на сегодня"},
		tgbotapi.BotCommand{Command: "week", Description: "Задачи на 7 дней"},
		tgbotapi.BotCommand{Command: "overdue", Description: "Просроченные задачи"},
		tgbotapi.BotCommand{Command: "done", Description: "Закрыть задачу: /done <id>"},
	)
	if _, err := api.Request(cfg); err != nil {
		return fmt.Errorf("set my commands: %w", err)
	}
	return nil
}

// MainMenu is the quick-command keyboard attached to the private /start reply.
func MainMenu() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/my"),
			tgbotapi.NewKeyboardButton("/today"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/week"),
			tgbotapi.NewKeyboardButton("/overdue"),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func incomingFrom(msg *tgbotapi.Message) services.Incoming {
	chat := repo.ChatProfile{
		TgChatID: msg.Chat.ID,
		Type:     domain.ChatType(msg.Chat.Type),
	}
	if !msg.Chat.IsPrivate() {
		chat.Title = optional(msg.Chat.Title)
	}
	return services.Incoming{
		Chat: chat,
		From: repo.UserProfile{
			TgID:      msg.From.ID,
			Username:  optional(msg.From.UserName),
			FirstName: optional(msg.From.FirstName),
			LastName:  optional(msg.From.LastName),
		},
		MessageID: int64(msg.MessageID),
		Text:      msg.Text,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// retryAfter extracts the flood-control wait from an API error.
func retryAfter(err error) time.Duration {
	var p *tgbotapi.Error
	if errors.As(err, &p) && p.RetryAfter > 0 {
		return time.Duration(p.RetryAfter) * time.Second
	}
	var v tgbotapi.Error
	if errors.As(err, &v) && v.RetryAfter > 0 {
		return time.Duration(v.RetryAfter) * time.Second
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
