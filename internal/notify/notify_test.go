package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indijan/arbiter/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"position_opened", " tick_failed "}, testLogger())

	require.NoError(t, n.Notify(context.Background(), "position_opened", "Opened", ""))
	require.NoError(t, n.Notify(context.Background(), "tick_completed", "Completed", ""))
	require.NoError(t, n.Notify(context.Background(), "tick_failed", "Failed", ""))
	require.NoError(t, n.NotifyAll(context.Background(), "All", ""))

	assert.Equal(t, []string{"Opened", "Failed", "All"}, s.titles)
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "x", "T", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, good.titles, 1)
}

func TestFromConfig(t *testing.T) {
	assert.Nil(t, FromConfig(config.NotifyConfig{}, testLogger()))

	n := FromConfig(config.NotifyConfig{
		TelegramToken:     "tok",
		TelegramChatID:    "42",
		DiscordWebhookURL: "https://discord.example/hook",
	}, testLogger())
	require.NotNil(t, n)
	assert.Equal(t, []string{"telegram", "discord"}, n.Senders())
}

func TestTelegramSendsPlainText(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Position opened", "position_id: p1"))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Position opened\nposition_id: p1", got["text"])
	assert.Equal(t, true, got["disable_web_page_preview"])
	_, hasMode := got["parse_mode"]
	assert.False(t, hasMode)
}

func TestTelegramReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTelegramSender("tok", "42").WithBaseURL(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram: status 400")
	assert.Contains(t, err.Error(), "chat not found")
}

func TestDiscordPostsClippedEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	d.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	require.NoError(t, d.Send(context.Background(), "Tick failed", strings.Repeat("x", 5000)))

	require.Len(t, got.Embeds, 1)
	embed := got.Embeds[0]
	assert.Equal(t, "arbiter", got.Username)
	assert.Equal(t, "Tick failed", embed.Title)
	assert.Equal(t, "2026-01-02T03:04:05Z", embed.Timestamp)
	assert.Len(t, []rune(embed.Description), discordBodyLimit)
	assert.True(t, strings.HasSuffix(embed.Description, "…"))
}

func TestClipKeepsShortText(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 3))
	assert.Equal(t, "ab…", clip("abcd", 3))
}
