package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

// WebhookSender posts the structured JSON envelope to the channel's URL.
// When the channel config carries a secret, the delivery is signed so the
// receiver can authenticate it (and, using the timestamp header, reject
// replays older than 5 minutes).
type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender(client *http.Client) *WebhookSender {
	return &WebhookSender{client: client}
}

func (s *WebhookSender) Send(ctx context.Context, n *model.Notification, sub model.Subscription, ch model.Channel) error {
	if ch.Config.URL == "" {
		return fmt.Errorf("webhook channel %s has no URL configured", ch.ID)
	}

	body, err := json.Marshal(NewEnvelope(n, sub.Name))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook envelope: %w", err)
	}

	headers := map[string]string{
		HeaderWebhookID: n.ID,
	}
	if ch.Config.Secret != "" {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		headers[HeaderWebhookTimestamp] = timestamp
		headers[HeaderWebhookSignature] = Sign(ch.Config.Secret, timestamp, body)
	}

	ctx, cancel := withDeliveryTimeout(ctx)
	defer cancel()
	return postJSON(ctx, s.client, ch.Config.URL, body, headers)
}
