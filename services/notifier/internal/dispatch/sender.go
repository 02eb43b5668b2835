// Package dispatch renders and delivers channel-specific notification
// payloads.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

// Sender delivers one notification over one channel. A nil error means the
// receiver accepted the delivery; any error counts as a failed attempt.
type Sender interface {
	Send(ctx context.Context, n *model.Notification, sub model.Subscription, ch model.Channel) error
}

// Dispatcher routes a notification to the sender for its channel type.
type Dispatcher struct {
	senders map[model.ChannelType]Sender
	logger  *slog.Logger
}

func NewDispatcher(logger *slog.Logger, httpClient *http.Client, mailer Mailer, digests DigestQueue) *Dispatcher {
	l := logger.With("component", "dispatcher")
	return &Dispatcher{
		senders: map[model.ChannelType]Sender{
			model.ChannelWebhook:  NewWebhookSender(httpClient),
			model.ChannelDiscord:  NewChatSender(httpClient, model.ChannelDiscord),
			model.ChannelSlack:    NewChatSender(httpClient, model.ChannelSlack),
			model.ChannelTeams:    NewChatSender(httpClient, model.ChannelTeams),
			model.ChannelTelegram: NewTelegramSender(httpClient),
			model.ChannelEmail:    NewEmailSender(mailer, digests, l),
		},
		logger: l,
	}
}

// Send delivers the notification over the given channel.
func (d *Dispatcher) Send(ctx context.Context, n *model.Notification, sub model.Subscription, ch model.Channel) error {
	sender, ok := d.senders[ch.Type]
	if !ok {
		return fmt.Errorf("unsupported channel type %q", ch.Type)
	}
	return sender.Send(ctx, n, sub, ch)
}

// postJSON issues a POST and classifies any non-2xx response as a failure.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// deliveryTimeout bounds a single attempt: receivers are expected to answer
// within 30 seconds.
const deliveryTimeout = 30 * time.Second

func withDeliveryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, deliveryTimeout)
}
