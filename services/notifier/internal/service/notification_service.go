// Package service orchestrates the notifier: matching change events to
// subscriptions, creating notifications and driving their delivery with
// retries.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/match"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/metrics"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/store"
)

// retryDelays is the backoff schedule: the first attempt is immediate,
// later attempts wait progressively longer. One delay per attempt; after
// the last one the notification is failed for good.
var retryDelays = [...]time.Duration{
	0,
	time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

// maxAttempts is the total number of delivery attempts per notification.
const maxAttempts = len(retryDelays)

// Deliverer sends one notification over one channel.
type Deliverer interface {
	Send(ctx context.Context, n *model.Notification, sub model.Subscription, ch model.Channel) error
}

// Options tune the delivery worker pool.
type Options struct {
	// WorkerLimit caps concurrent deliveries.
	WorkerLimit int
	// Interval is how often the pending-notification sweep runs.
	Interval time.Duration
	// AbandonOnPause fails pending notifications of paused subscriptions
	// instead of delivering them.
	AbandonOnPause bool
}

// NotificationService consumes change events, fans them out to matching
// subscriptions and delivers the resulting notifications.
type NotificationService struct {
	storage    store.Storage
	dispatcher Deliverer
	logger     *slog.Logger
	clock      Clock
	opts       Options

	// inFlight guards against the sweep picking up a notification a
	// worker is already retrying.
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewNotificationService(storage store.Storage, dispatcher Deliverer, logger *slog.Logger, opts Options) *NotificationService {
	if opts.WorkerLimit <= 0 {
		opts.WorkerLimit = 10
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	return &NotificationService{
		storage:    storage,
		dispatcher: dispatcher,
		logger:     logger.With("component", "notificationService"),
		clock:      realClock{},
		opts:       opts,
		inFlight:   make(map[string]struct{}),
	}
}

// notificationNamespace seeds the deterministic notification IDs.
var notificationNamespace = uuid.MustParse("7a1d67cb-54f0-4cbc-a1f7-2fca2a5c9f03")

// notificationID derives a stable ID from the (change, subscription,
// channel) triple. A redelivered change event reproduces the same IDs, so
// creation stays idempotent and receivers can deduplicate on the payload ID.
func notificationID(changeID, subscriptionID, channelID string) string {
	return uuid.NewSHA1(notificationNamespace, []byte(changeID+"/"+subscriptionID+"/"+channelID)).String()
}

// OnChange fans a change event out to every matching active subscription,
// creating one pending notification per enabled channel. IDs are derived
// from the (change, subscription, channel) triple, so an event redelivered
// after a partial failure only fills in the rows that are still missing.
func (s *NotificationService) OnChange(ctx context.Context, ev model.ChangeEvent) error {
	metrics.EventsConsumed.WithLabelValues(ev.ChangeType).Inc()

	subs, err := s.storage.GetActiveSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}

	now := s.clock.Now()
	for _, sub := range subs {
		if !match.Matches(ev, sub) {
			continue
		}

		created := 0
		for _, ch := range sub.Channels {
			if !ch.Enabled {
				continue
			}
			n := &model.Notification{
				ID:             notificationID(ev.ChangeID, sub.ID, ch.ID),
				SubscriptionID: sub.ID,
				ChannelID:      ch.ID,
				ChangeID:       ev.ChangeID,
				Status:         model.NotificationPending,
				Event:          ev,
				NextAttemptAt:  now,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			inserted, err := s.storage.SaveNotification(ctx, n)
			if err != nil {
				return fmt.Errorf("failed to create notification for subscription %s: %w", sub.ID, err)
			}
			if !inserted {
				continue
			}
			metrics.NotificationsCreated.WithLabelValues(string(ch.Type)).Inc()
			created++
		}

		if created > 0 {
			if err := s.storage.IncrementNotificationCount(ctx, sub.ID); err != nil {
				s.logger.Error("Failed to bump subscription counter",
					slog.String("subscription_id", sub.ID),
					slog.Any("error", err))
			}
			s.logger.Info("Change matched subscription",
				slog.String("change_id", ev.ChangeID),
				slog.String("server", ev.ServerName),
				slog.String("subscription", sub.Name),
				slog.Int("notifications", created))
		}
	}
	return nil
}

// Run sweeps due pending notifications on a fixed interval until the
// context is cancelled. Each sweep makes one attempt per due notification;
// rows that fail come due again once their backoff elapses.
func (s *NotificationService) Run(ctx context.Context) error {
	s.logger.Info("Delivery worker started",
		slog.Duration("interval", s.opts.Interval),
		slog.Int("worker_limit", s.opts.WorkerLimit))

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if err := s.deliverDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Delivery sweep failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Delivery worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// deliverDue picks up pending notifications whose next attempt is due and
// delivers them with bounded concurrency. It blocks until the batch is
// drained so a slow batch never overlaps the next sweep.
func (s *NotificationService) deliverDue(ctx context.Context) error {
	due, err := s.storage.GetPendingNotifications(ctx, s.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to load due notifications: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.WorkerLimit)
	for i := range due {
		n := due[i]
		if !s.claim(n.ID) {
			continue
		}
		g.Go(func() error {
			defer s.release(n.ID)
			s.deliver(gctx, &n)
			return nil
		})
	}
	return g.Wait()
}

func (s *NotificationService) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.inFlight[id]; held {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *NotificationService) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// deliver makes exactly one attempt for a notification. On failure the
// next attempt time is persisted and the row is released; a later sweep
// re-claims it when due. Backoff is never slept inside a worker slot, so
// a failing endpoint cannot stall delivery of the rest of the batch.
func (s *NotificationService) deliver(ctx context.Context, n *model.Notification) {
	log := s.logger.With(
		slog.String("notification_id", n.ID),
		slog.String("change_id", n.ChangeID))

	sub, err := s.storage.GetSubscription(ctx, n.SubscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.finishFailed(ctx, n, "subscription no longer exists", log)
			return
		}
		log.Error("Failed to load subscription", slog.Any("error", err))
		return
	}

	if sub.Status == model.SubscriptionPaused && s.opts.AbandonOnPause {
		s.finishFailed(ctx, n, "subscription paused", log)
		return
	}

	var channel *model.Channel
	for i := range sub.Channels {
		if sub.Channels[i].ID == n.ChannelID {
			channel = &sub.Channels[i]
			break
		}
	}
	if channel == nil {
		s.finishFailed(ctx, n, "channel no longer exists", log)
		return
	}
	if !channel.Enabled {
		s.finishFailed(ctx, n, "channel disabled", log)
		return
	}

	start := s.clock.Now()
	err = s.dispatcher.Send(ctx, n, *sub, *channel)
	metrics.DeliveryDuration.WithLabelValues(string(channel.Type)).Observe(s.clock.Now().Sub(start).Seconds())
	n.Attempts++

	if err == nil {
		metrics.DeliveryAttempts.WithLabelValues(string(channel.Type), "success").Inc()
		s.finishSent(ctx, n, channel, log)
		return
	}

	if errors.Is(err, context.Canceled) {
		// shutdown, not a receiver failure; leave the row pending
		return
	}

	metrics.DeliveryAttempts.WithLabelValues(string(channel.Type), "failure").Inc()
	n.LastError = err.Error()
	log.Warn("Delivery attempt failed",
		slog.String("channel_type", string(channel.Type)),
		slog.Int("attempt", n.Attempts),
		slog.Any("error", err))

	if n.Attempts >= maxAttempts {
		if cErr := s.storage.IncrementChannelFailure(ctx, channel.ID, n.LastError); cErr != nil {
			log.Error("Failed to update channel counters", slog.Any("error", cErr))
		}
		s.finishFailed(ctx, n, n.LastError, log)
		return
	}

	if cErr := s.storage.SetChannelError(ctx, channel.ID, n.LastError); cErr != nil {
		log.Error("Failed to record channel error", slog.Any("error", cErr))
	}

	n.NextAttemptAt = s.clock.Now().Add(retryDelays[n.Attempts])
	if err := s.storage.UpdateNotification(ctx, n); err != nil {
		log.Error("Failed to persist retry state", slog.Any("error", err))
	}
}

func (s *NotificationService) finishSent(ctx context.Context, n *model.Notification, channel *model.Channel, log *slog.Logger) {
	now := s.clock.Now()
	n.Status = model.NotificationSent
	n.SentAt = &now
	n.LastError = ""
	if err := s.storage.UpdateNotification(ctx, n); err != nil {
		log.Error("Failed to mark notification sent", slog.Any("error", err))
		return
	}
	if err := s.storage.IncrementChannelSuccess(ctx, channel.ID, now); err != nil {
		log.Error("Failed to update channel counters", slog.Any("error", err))
	}
	metrics.NotificationsTerminal.WithLabelValues(string(model.NotificationSent)).Inc()
	log.Info("Notification delivered",
		slog.String("channel_type", string(channel.Type)),
		slog.Int("attempts", n.Attempts))
}

func (s *NotificationService) finishFailed(ctx context.Context, n *model.Notification, reason string, log *slog.Logger) {
	n.Status = model.NotificationFailed
	n.LastError = reason
	if err := s.storage.UpdateNotification(ctx, n); err != nil {
		log.Error("Failed to mark notification failed", slog.Any("error", err))
		return
	}
	metrics.NotificationsTerminal.WithLabelValues(string(model.NotificationFailed)).Inc()
	log.Warn("Notification abandoned",
		slog.Int("attempts", n.Attempts),
		slog.String("reason", reason))
}
