package notify

import (
	"context"
	"strings"
)

const defaultTelegramHost = "https://api.telegram.org"

// telegramTextLimit is the Bot API cap on sendMessage text.
const telegramTextLimit = 4096

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// TelegramSender relays notifications to one chat through a bot. Messages go
// out as plain text; Markdown mode would choke on the underscores in event
// keys.
type TelegramSender struct {
	host   string
	token  string
	chatID string
	hook   webhook
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		host:   defaultTelegramHost,
		token:  token,
		chatID: chatID,
		hook:   newWebhook("telegram"),
	}
}

// WithBaseURL overrides the Bot API host, mainly for tests.
func (t *TelegramSender) WithBaseURL(host string) *TelegramSender {
	t.host = strings.TrimRight(host, "/")
	return t
}

func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	text := title
	if message != "" {
		text += "\n" + message
	}
	msg := telegramMessage{
		ChatID:                t.chatID,
		Text:                  clip(text, telegramTextLimit),
		DisableWebPagePreview: true,
	}
	return t.hook.post(ctx, t.host+"/bot"+t.token+"/sendMessage", msg)
}

func (t *TelegramSender) Name() string { return "telegram" }
