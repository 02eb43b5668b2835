package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

// WebhookEnvelope is the JSON body delivered to webhook channels. Third
// parties verify this wire format, so the shape must stay stable. The ID is
// the notification ID; receivers use it to deduplicate redeliveries.
type WebhookEnvelope struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Timestamp    time.Time         `json:"timestamp"`
	Subscription string            `json:"subscription"`
	Change       model.ChangeEvent `json:"change"`
}

const envelopeType = "change.detected"

// NewEnvelope builds the webhook payload for a notification.
func NewEnvelope(n *model.Notification, subscriptionName string) WebhookEnvelope {
	return WebhookEnvelope{
		ID:           n.ID,
		Type:         envelopeType,
		Timestamp:    time.Now().UTC(),
		Subscription: subscriptionName,
		Change:       n.Event,
	}
}

// FormatMessage renders the human-readable text used by chat channels and
// email bodies.
func FormatMessage(ev model.ChangeEvent) string {
	var b strings.Builder

	switch ev.ChangeType {
	case "new":
		fmt.Fprintf(&b, "New server published: %s", ev.ServerName)
		if ev.NewVersion != "" {
			fmt.Fprintf(&b, " (v%s)", strings.TrimPrefix(ev.NewVersion, "v"))
		}
	case "updated":
		fmt.Fprintf(&b, "Server updated: %s", ev.ServerName)
		if ev.PreviousVersion != "" || ev.NewVersion != "" {
			fmt.Fprintf(&b, " (%s -> %s)", orDash(ev.PreviousVersion), orDash(ev.NewVersion))
		}
		if ev.Breaking {
			b.WriteString(" [possible breaking change]")
		}
	case "removed":
		fmt.Fprintf(&b, "Server removed: %s", ev.ServerName)
		if ev.PreviousVersion != "" {
			fmt.Fprintf(&b, " (was v%s)", strings.TrimPrefix(ev.PreviousVersion, "v"))
		}
	default:
		fmt.Fprintf(&b, "Server changed: %s", ev.ServerName)
	}

	if ev.Description != "" {
		fmt.Fprintf(&b, "\n%s", ev.Description)
	}
	for _, fc := range ev.FieldChanges {
		fmt.Fprintf(&b, "\n- %s: %s -> %s", fc.Field, orDash(fc.OldValue), orDash(fc.NewValue))
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
