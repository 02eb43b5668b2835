package model

import "time"

// SubscriptionStatus gates whether a subscription participates in matching.
type SubscriptionStatus string

const (
	SubscriptionActive SubscriptionStatus = "active"
	SubscriptionPaused SubscriptionStatus = "paused"
)

// Filters restrict which changes a subscription is notified about.
// Categories are ANDed together; entries within a category are ORed. An
// empty category matches everything — subscribers rely on omission meaning
// "no restriction", so this must be preserved exactly.
type Filters struct {
	// Namespaces match the server name; an entry ending in '*' is a
	// prefix match, anything else is exact.
	Namespaces []string `json:"namespaces,omitempty" yaml:"namespaces,omitempty"`
	// Keywords are case-insensitive substrings of name or description.
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	// ChangeTypes restrict to new/updated/removed.
	ChangeTypes []string `json:"change_types,omitempty" yaml:"change_types,omitempty"`
}

// Subscription is a named rule set for which changes to notify about and
// where. Owned by the API layer; the notifier reads it and bumps counters.
type Subscription struct {
	ID                string             `json:"id" db:"id"`
	Name              string             `json:"name" db:"name"`
	Status            SubscriptionStatus `json:"status" db:"status"`
	Filters           Filters            `json:"filters"`
	Channels          []Channel          `json:"channels"`
	NotificationCount int                `json:"notification_count" db:"notification_count"`
	LastReset         time.Time          `json:"last_reset" db:"last_reset"`
}

// ChannelType identifies a delivery mechanism.
type ChannelType string

const (
	ChannelWebhook  ChannelType = "webhook"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelTeams    ChannelType = "teams"
	ChannelTelegram ChannelType = "telegram"
	ChannelEmail    ChannelType = "email"
)

// DigestFrequency controls email batching.
type DigestFrequency string

const (
	DigestImmediate DigestFrequency = "immediate"
	DigestHourly    DigestFrequency = "hourly"
	DigestDaily     DigestFrequency = "daily"
	DigestWeekly    DigestFrequency = "weekly"
)

// ChannelConfig carries the type-specific delivery settings. Only the
// fields relevant to the channel's type are populated.
type ChannelConfig struct {
	// URL is the destination for webhook and chat-webhook channels.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// Secret enables HMAC signing of webhook deliveries.
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`
	// Email settings.
	Address string          `json:"address,omitempty" yaml:"address,omitempty"`
	Digest  DigestFrequency `json:"digest,omitempty" yaml:"digest,omitempty"`
	// Telegram settings.
	BotToken string `json:"bot_token,omitempty" yaml:"bot_token,omitempty"`
	ChatID   string `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
}

// Channel is one concrete delivery mechanism attached to a subscription.
// Entities reference each other by ID, never by embedded pointer.
type Channel struct {
	ID             string        `json:"id" db:"id"`
	SubscriptionID string        `json:"subscription_id" db:"subscription_id"`
	Type           ChannelType   `json:"type" db:"type"`
	Config         ChannelConfig `json:"config"`
	Enabled        bool          `json:"enabled" db:"enabled"`
	SuccessCount   int           `json:"success_count" db:"success_count"`
	FailureCount   int           `json:"failure_count" db:"failure_count"`
	LastSuccess    *time.Time    `json:"last_success,omitempty" db:"last_success"`
	LastError      string        `json:"last_error,omitempty" db:"last_error"`
}
