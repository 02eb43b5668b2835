package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

// ChatSender posts a human-readable message to an incoming-webhook style
// chat endpoint (Discord, Slack, Teams). The JSON field carrying the text
// is the only difference between the three.
type ChatSender struct {
	client      *http.Client
	channelType model.ChannelType
}

func NewChatSender(client *http.Client, channelType model.ChannelType) *ChatSender {
	return &ChatSender{client: client, channelType: channelType}
}

func (s *ChatSender) Send(ctx context.Context, n *model.Notification, sub model.Subscription, ch model.Channel) error {
	if ch.Config.URL == "" {
		return fmt.Errorf("%s channel %s has no URL configured", s.channelType, ch.ID)
	}

	message := FormatMessage(n.Event)

	var payload any
	switch s.channelType {
	case model.ChannelDiscord:
		payload = map[string]string{"content": message}
	case model.ChannelSlack, model.ChannelTeams:
		payload = map[string]string{"text": message}
	default:
		return fmt.Errorf("unsupported chat channel type %q", s.channelType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal chat payload: %w", err)
	}

	ctx, cancel := withDeliveryTimeout(ctx)
	defer cancel()
	return postJSON(ctx, s.client, ch.Config.URL, body, nil)
}

// TelegramSender delivers via the Telegram Bot API sendMessage endpoint.
type TelegramSender struct {
	client *http.Client
	// baseURL is overridable in tests.
	baseURL string
}

func NewTelegramSender(client *http.Client) *TelegramSender {
	return &TelegramSender{client: client, baseURL: "https://api.telegram.org"}
}

func (s *TelegramSender) Send(ctx context.Context, n *model.Notification, sub model.Subscription, ch model.Channel) error {
	if ch.Config.BotToken == "" || ch.Config.ChatID == "" {
		return fmt.Errorf("telegram channel %s is missing bot_token or chat_id", ch.ID)
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": ch.Config.ChatID,
		"text":    FormatMessage(n.Event),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, url.PathEscape(ch.Config.BotToken))

	ctx, cancel := withDeliveryTimeout(ctx)
	defer cancel()
	return postJSON(ctx, s.client, endpoint, body, nil)
}
