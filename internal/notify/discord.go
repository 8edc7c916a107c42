package notify

import (
	"context"
	"time"
)

// Discord embed limits.
const (
	discordTitleLimit = 256
	discordBodyLimit  = 4096
)

// embedColor is the sidebar colour used for every arbiter embed.
const embedColor = 0x2f81f7

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// DiscordSender posts each notification as a single embed on a webhook.
type DiscordSender struct {
	url  string
	hook webhook
	now  func() time.Time
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{url: webhookURL, hook: newWebhook("discord"), now: time.Now}
}

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	embed := discordEmbed{
		Title:     clip(title, discordTitleLimit),
		Color:     embedColor,
		Timestamp: d.now().UTC().Format(time.RFC3339),
	}
	if message != "" {
		embed.Description = clip(message, discordBodyLimit)
	}
	return d.hook.post(ctx, d.url, discordPayload{Username: "arbiter", Embeds: []discordEmbed{embed}})
}

func (d *DiscordSender) Name() string { return "discord" }
