package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturedRequest struct {
	path    string
	headers http.Header
	body    []byte
}

func captureServer(t *testing.T, status int) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		captured.path = r.URL.Path
		captured.headers = r.Header.Clone()
		captured.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func sampleNotification() *model.Notification {
	return &model.Notification{
		ID:        "notif-1",
		ChangeID:  "chg-1",
		ChannelID: "ch-1",
		Event: model.ChangeEvent{
			ChangeID:        "chg-1",
			ServerName:      "acme/files",
			ChangeType:      "updated",
			PreviousVersion: "1.2.0",
			NewVersion:      "2.0.0",
			Breaking:        true,
			FieldChanges: []model.FieldChange{
				{Field: "version", OldValue: "1.2.0", NewValue: "2.0.0"},
			},
			DetectedAt: time.Now().UTC(),
		},
	}
}

func TestWebhookSenderSignsWhenSecretSet(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK)

	n := sampleNotification()
	sub := model.Subscription{Name: "core-servers"}
	ch := model.Channel{
		ID:     "ch-1",
		Type:   model.ChannelWebhook,
		Config: model.ChannelConfig{URL: srv.URL, Secret: "s3cret"},
	}

	sender := NewWebhookSender(srv.Client())
	require.NoError(t, sender.Send(context.Background(), n, sub, ch))

	assert.Equal(t, "notif-1", captured.headers.Get(HeaderWebhookID))
	timestamp := captured.headers.Get(HeaderWebhookTimestamp)
	require.NotEmpty(t, timestamp)
	assert.Equal(t,
		Sign("s3cret", timestamp, captured.body),
		captured.headers.Get(HeaderWebhookSignature),
		"signature must cover the exact bytes on the wire")

	var envelope WebhookEnvelope
	require.NoError(t, json.Unmarshal(captured.body, &envelope))
	assert.Equal(t, "notif-1", envelope.ID)
	assert.Equal(t, "change.detected", envelope.Type)
	assert.Equal(t, "core-servers", envelope.Subscription)
	assert.Equal(t, "acme/files", envelope.Change.ServerName)
	assert.True(t, envelope.Change.Breaking)
}

func TestWebhookSenderUnsignedWithoutSecret(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK)

	ch := model.Channel{
		ID:     "ch-1",
		Type:   model.ChannelWebhook,
		Config: model.ChannelConfig{URL: srv.URL},
	}

	sender := NewWebhookSender(srv.Client())
	require.NoError(t, sender.Send(context.Background(), sampleNotification(), model.Subscription{}, ch))

	assert.Equal(t, "notif-1", captured.headers.Get(HeaderWebhookID))
	assert.Empty(t, captured.headers.Get(HeaderWebhookTimestamp))
	assert.Empty(t, captured.headers.Get(HeaderWebhookSignature))
}

func TestWebhookSenderNon2xxIsError(t *testing.T) {
	srv, _ := captureServer(t, http.StatusServiceUnavailable)

	ch := model.Channel{
		ID:     "ch-1",
		Type:   model.ChannelWebhook,
		Config: model.ChannelConfig{URL: srv.URL},
	}

	sender := NewWebhookSender(srv.Client())
	err := sender.Send(context.Background(), sampleNotification(), model.Subscription{}, ch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestChatSenderPayloadShape(t *testing.T) {
	tests := []struct {
		channelType model.ChannelType
		field       string
	}{
		{model.ChannelDiscord, "content"},
		{model.ChannelSlack, "text"},
		{model.ChannelTeams, "text"},
	}

	for _, tt := range tests {
		t.Run(string(tt.channelType), func(t *testing.T) {
			srv, captured := captureServer(t, http.StatusNoContent)

			ch := model.Channel{
				ID:     "ch-1",
				Type:   tt.channelType,
				Config: model.ChannelConfig{URL: srv.URL},
			}

			sender := NewChatSender(srv.Client(), tt.channelType)
			require.NoError(t, sender.Send(context.Background(), sampleNotification(), model.Subscription{}, ch))

			var payload map[string]string
			require.NoError(t, json.Unmarshal(captured.body, &payload))
			message, ok := payload[tt.field]
			require.True(t, ok, "payload must carry the %q field", tt.field)
			assert.Contains(t, message, "acme/files")
			assert.Contains(t, message, "breaking")
		})
	}
}

func TestTelegramSenderHitsBotEndpoint(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK)

	ch := model.Channel{
		ID:     "ch-1",
		Type:   model.ChannelTelegram,
		Config: model.ChannelConfig{BotToken: "123:abc", ChatID: "42"},
	}

	sender := NewTelegramSender(srv.Client())
	sender.baseURL = srv.URL
	require.NoError(t, sender.Send(context.Background(), sampleNotification(), model.Subscription{}, ch))

	assert.Equal(t, "/bot123:abc/sendMessage", captured.path)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(captured.body, &payload))
	assert.Equal(t, "42", payload["chat_id"])
	assert.Contains(t, payload["text"], "acme/files")
}

type fakeMailer struct {
	mu    sync.Mutex
	to    string
	calls int
}

func (m *fakeMailer) SendMail(_ context.Context, to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = to
	m.calls++
	return nil
}

type fakeDigestQueue struct {
	mu    sync.Mutex
	calls int
}

func (q *fakeDigestQueue) Enqueue(context.Context, model.Channel, string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	return nil
}

func TestEmailSenderImmediateVsDigest(t *testing.T) {
	logger := testLogger()

	t.Run("immediate goes straight to the mailer", func(t *testing.T) {
		mailer := &fakeMailer{}
		queue := &fakeDigestQueue{}
		sender := NewEmailSender(mailer, queue, logger)

		ch := model.Channel{
			ID:     "ch-1",
			Type:   model.ChannelEmail,
			Config: model.ChannelConfig{Address: "ops@example.com", Digest: model.DigestImmediate},
		}
		require.NoError(t, sender.Send(context.Background(), sampleNotification(), model.Subscription{}, ch))
		assert.Equal(t, 1, mailer.calls)
		assert.Equal(t, "ops@example.com", mailer.to)
		assert.Zero(t, queue.calls)
	})

	t.Run("hourly is buffered for the flusher", func(t *testing.T) {
		mailer := &fakeMailer{}
		queue := &fakeDigestQueue{}
		sender := NewEmailSender(mailer, queue, logger)

		ch := model.Channel{
			ID:     "ch-1",
			Type:   model.ChannelEmail,
			Config: model.ChannelConfig{Address: "ops@example.com", Digest: model.DigestHourly},
		}
		require.NoError(t, sender.Send(context.Background(), sampleNotification(), model.Subscription{}, ch))
		assert.Zero(t, mailer.calls)
		assert.Equal(t, 1, queue.calls)
	})
}

func TestFormatMessage(t *testing.T) {
	msg := FormatMessage(sampleNotification().Event)
	assert.True(t, strings.HasPrefix(msg, "Server updated: acme/files (1.2.0 -> 2.0.0)"))
	assert.Contains(t, msg, "[possible breaking change]")
	assert.Contains(t, msg, "- version: 1.2.0 -> 2.0.0")

	removed := FormatMessage(model.ChangeEvent{
		ServerName:      "acme/files",
		ChangeType:      "removed",
		PreviousVersion: "1.2.0",
	})
	assert.Equal(t, "Server removed: acme/files (was v1.2.0)", removed)
}
