package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Connect authenticates with the Bot API and routes the client's internal
// logging through zerolog.
func Connect(token string, debug bool) (*tgbotapi.BotAPI, error) {
	if err := tgbotapi.SetLogger(zlogger{}); err != nil {
		return nil, fmt.Errorf("set telegram logger: %w", err)
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	api.Debug = debug
	log.Info().Str("bot", api.Self.UserName).Msg("telegram authorized")
	return api, nil
}

// zlogger implements tgbotapi.BotLogger.
type zlogger struct{}

func (zlogger) Println(v ...interface{}) {
	log.Debug().Str("component", "tgbotapi").Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (zlogger) Printf(format string, v ...interface{}) {
	log.Debug().Str("component", "tgbotapi").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
