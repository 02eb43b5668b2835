package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Webhook signature headers. Receivers verify the signature and are
// expected to reject timestamps older than 5 minutes for replay
// protection; enforcement is the receiver's job, not ours.
const (
	HeaderWebhookID        = "X-Webhook-ID"
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"
	HeaderWebhookSignature = "X-Webhook-Signature"
)

// Sign computes the webhook signature for a payload:
// HMAC-SHA256(secret, "{timestamp}.{body}"), hex encoded with a "sha256="
// prefix. The timestamp is Unix seconds as a decimal string.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
