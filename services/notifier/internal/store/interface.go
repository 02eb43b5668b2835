package store

import (
	"context"
	"time"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

// SubscriptionStorage reads the subscriptions the API layer owns and
// upserts bootstrap-file entries.
type SubscriptionStorage interface {
	// GetActiveSubscriptions returns active subscriptions with their
	// channels populated.
	GetActiveSubscriptions(ctx context.Context) ([]model.Subscription, error)
	// GetSubscription returns one subscription (any status) with channels.
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)
	// UpsertSubscription inserts or replaces a subscription and its
	// channels, keyed by name. Used by the bootstrap file loader.
	UpsertSubscription(ctx context.Context, sub *model.Subscription) error
	// IncrementNotificationCount bumps the subscription's counter.
	IncrementNotificationCount(ctx context.Context, subscriptionID string) error
}

// ChannelStorage updates per-channel delivery counters. Increments are
// executed in SQL so concurrent deliveries to the same channel serialize
// in the database without lost updates.
type ChannelStorage interface {
	IncrementChannelSuccess(ctx context.Context, channelID string, at time.Time) error
	// IncrementChannelFailure bumps the failure counter; used when a
	// notification reaches its terminal failed state.
	IncrementChannelFailure(ctx context.Context, channelID string, lastError string) error
	// SetChannelError records the most recent delivery error without
	// touching the failure counter.
	SetChannelError(ctx context.Context, channelID string, lastError string) error
}

// NotificationStorage owns the notification lifecycle rows.
type NotificationStorage interface {
	// SaveNotification inserts the notification if its ID is new and
	// reports whether a row was created. An existing ID is left untouched
	// so event redelivery cannot reset delivery state.
	SaveNotification(ctx context.Context, n *model.Notification) (bool, error)
	// GetPendingNotifications returns pending notifications due at or
	// before now, oldest first.
	GetPendingNotifications(ctx context.Context, now time.Time) ([]model.Notification, error)
	UpdateNotification(ctx context.Context, n *model.Notification) error
}

// Storage is the full persistence surface the notifier needs.
type Storage interface {
	SubscriptionStorage
	ChannelStorage
	NotificationStorage
	Ping(ctx context.Context) error
}
