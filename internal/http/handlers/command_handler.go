package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/deadline-master/internal/domain"
	"github.com/tbourn/deadline-master/internal/repo"
	"github.com/tbourn/deadline-master/internal/services"
)

// ChatDTO identifies the chat a command was sent in.
type ChatDTO struct {
	TgChatID int64   `json:"tg_chat_id" binding:"required"`
	Title    *string `json:"title"`
	// Type is private, group, supergroup or channel. When empty it is
	// private if tg_chat_id equals from.tg_id and group otherwise.
	Type string `json:"type"`
}

// UserDTO identifies the sender.
type UserDTO struct {
	TgID      int64   `json:"tg_id" binding:"required"`
	Username  *string `json:"username"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// CommandRequest is the JSON payload of POST /commands.
type CommandRequest struct {
	Chat      ChatDTO `json:"chat"`
	From      UserDTO `json:"from"`
	MessageID int64   `json:"message_id"`
	Text      string  `json:"text" binding:"required,max=4096"`
}

// ExecuteCommand runs a chat command with the same semantics as a Telegram
// message and returns the reply without delivering it. Notices that the bot
// would send to other chats are included in the response.
//
//	POST {base}/commands
//	200 services.Reply | 204 when the message needs no reply
func (h *Handlers) ExecuteCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: chat.tg_chat_id, from.tg_id and text are required")
		return
	}
	chatType, valid := resolveChatType(req.Chat.Type, req.Chat.TgChatID, req.From.TgID)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat.type must be one of: private, group, supergroup, channel")
		return
	}

	in := services.Incoming{
		Chat: repo.ChatProfile{TgChatID: req.Chat.TgChatID, Title: req.Chat.Title, Type: chatType},
		From: repo.UserProfile{
			TgID:      req.From.TgID,
			Username:  req.From.Username,
			FirstName: req.From.FirstName,
			LastName:  req.From.LastName,
		},
		MessageID: req.MessageID,
		Text:      req.Text,
	}
	reply, err := h.cmd.Handle(c.Request.Context(), in)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCommandFailed, "command failed")
		return
	}
	if reply == nil {
		noContent(c)
		return
	}
	ok(c, http.StatusOK, reply)
}

func resolveChatType(raw string, chatID, fromID int64) (domain.ChatType, bool) {
	switch t := domain.ChatType(strings.ToLower(strings.TrimSpace(raw))); t {
	case domain.ChatPrivate, domain.ChatGroup, domain.ChatSupergroup, domain.ChatChannel:
		return t, true
	case "":
		if chatID == fromID {
			return domain.ChatPrivate, true
		}
		return domain.ChatGroup, true
	default:
		return "", false
	}
}
