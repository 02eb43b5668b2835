package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type postgresStorage struct {
	db *sqlx.DB
}

func NewPostgresStorage(db *sqlx.DB) Storage {
	return &postgresStorage{db: db}
}

func (s *postgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// subscriptionRow maps the subscriptions table; filters are stored as JSONB.
type subscriptionRow struct {
	ID                string    `db:"id"`
	Name              string    `db:"name"`
	Status            string    `db:"status"`
	Filters           []byte    `db:"filters"`
	NotificationCount int       `db:"notification_count"`
	LastReset         time.Time `db:"last_reset"`
}

// channelRow maps the channels table; config is stored as JSONB.
type channelRow struct {
	ID             string         `db:"id"`
	SubscriptionID string         `db:"subscription_id"`
	Type           string         `db:"type"`
	Config         []byte         `db:"config"`
	Enabled        bool           `db:"enabled"`
	SuccessCount   int            `db:"success_count"`
	FailureCount   int            `db:"failure_count"`
	LastSuccess    sql.NullTime   `db:"last_success"`
	LastError      sql.NullString `db:"last_error"`
}

func (r subscriptionRow) toModel() (model.Subscription, error) {
	sub := model.Subscription{
		ID:                r.ID,
		Name:              r.Name,
		Status:            model.SubscriptionStatus(r.Status),
		NotificationCount: r.NotificationCount,
		LastReset:         r.LastReset,
	}
	if len(r.Filters) > 0 {
		if err := json.Unmarshal(r.Filters, &sub.Filters); err != nil {
			return sub, fmt.Errorf("failed to unmarshal filters for subscription %s: %w", r.ID, err)
		}
	}
	return sub, nil
}

func (r channelRow) toModel() (model.Channel, error) {
	ch := model.Channel{
		ID:             r.ID,
		SubscriptionID: r.SubscriptionID,
		Type:           model.ChannelType(r.Type),
		Enabled:        r.Enabled,
		SuccessCount:   r.SuccessCount,
		FailureCount:   r.FailureCount,
	}
	if r.LastSuccess.Valid {
		t := r.LastSuccess.Time
		ch.LastSuccess = &t
	}
	if r.LastError.Valid {
		ch.LastError = r.LastError.String
	}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &ch.Config); err != nil {
			return ch, fmt.Errorf("failed to unmarshal config for channel %s: %w", r.ID, err)
		}
	}
	return ch, nil
}

func (s *postgresStorage) GetActiveSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	var rows []subscriptionRow
	const query = `
		SELECT id, name, status, filters, notification_count, last_reset
		FROM subscriptions
		WHERE status = $1
		ORDER BY name
	`
	if err := s.db.SelectContext(ctx, &rows, query, string(model.SubscriptionActive)); err != nil {
		return nil, fmt.Errorf("failed to load active subscriptions: %w", err)
	}

	subs := make([]model.Subscription, 0, len(rows))
	for _, row := range rows {
		sub, err := row.toModel()
		if err != nil {
			return nil, err
		}
		channels, err := s.channelsFor(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		sub.Channels = channels
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *postgresStorage) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	var row subscriptionRow
	const query = `
		SELECT id, name, status, filters, notification_count, last_reset
		FROM subscriptions
		WHERE id = $1
	`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load subscription %s: %w", id, err)
	}

	sub, err := row.toModel()
	if err != nil {
		return nil, err
	}
	sub.Channels, err = s.channelsFor(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *postgresStorage) channelsFor(ctx context.Context, subscriptionID string) ([]model.Channel, error) {
	var rows []channelRow
	const query = `
		SELECT id, subscription_id, type, config, enabled, success_count, failure_count, last_success, last_error
		FROM channels
		WHERE subscription_id = $1
		ORDER BY id
	`
	if err := s.db.SelectContext(ctx, &rows, query, subscriptionID); err != nil {
		return nil, fmt.Errorf("failed to load channels for subscription %s: %w", subscriptionID, err)
	}

	channels := make([]model.Channel, 0, len(rows))
	for _, row := range rows {
		ch, err := row.toModel()
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// UpsertSubscription replaces the subscription row keyed by name and
// rewrites its channels. Counters on replaced channels reset; bootstrap
// entries are expected to change rarely.
func (s *postgresStorage) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	filtersJSON, err := json.Marshal(sub.Filters)
	if err != nil {
		return fmt.Errorf("failed to marshal filters: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const subQuery = `
		INSERT INTO subscriptions (id, name, status, filters, notification_count, last_reset)
		VALUES ($1, $2, $3, $4, 0, NOW())
		ON CONFLICT (name) DO UPDATE
		SET status = EXCLUDED.status, filters = EXCLUDED.filters
		RETURNING id
	`
	var id string
	if err := tx.QueryRowxContext(ctx, subQuery,
		sub.ID, sub.Name, string(sub.Status), filtersJSON,
	).Scan(&id); err != nil {
		return fmt.Errorf("failed to upsert subscription %q: %w", sub.Name, err)
	}
	sub.ID = id

	if _, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE subscription_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear channels for %q: %w", sub.Name, err)
	}

	const chQuery = `
		INSERT INTO channels (id, subscription_id, type, config, enabled, success_count, failure_count)
		VALUES ($1, $2, $3, $4, $5, 0, 0)
	`
	for i := range sub.Channels {
		ch := &sub.Channels[i]
		ch.SubscriptionID = id
		configJSON, err := json.Marshal(ch.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal channel config: %w", err)
		}
		if _, err := tx.ExecContext(ctx, chQuery,
			ch.ID, id, string(ch.Type), configJSON, ch.Enabled,
		); err != nil {
			return fmt.Errorf("failed to insert channel for %q: %w", sub.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subscription upsert: %w", err)
	}
	return nil
}

func (s *postgresStorage) IncrementNotificationCount(ctx context.Context, subscriptionID string) error {
	const query = `UPDATE subscriptions SET notification_count = notification_count + 1 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to bump notification count: %w", err)
	}
	return nil
}

func (s *postgresStorage) IncrementChannelSuccess(ctx context.Context, channelID string, at time.Time) error {
	const query = `
		UPDATE channels
		SET success_count = success_count + 1, last_success = $1
		WHERE id = $2
	`
	res, err := s.db.ExecContext(ctx, query, at, channelID)
	if err != nil {
		return fmt.Errorf("failed to record channel success: %w", err)
	}
	return requireRow(res, channelID)
}

func (s *postgresStorage) IncrementChannelFailure(ctx context.Context, channelID string, lastError string) error {
	const query = `
		UPDATE channels
		SET failure_count = failure_count + 1, last_error = $1
		WHERE id = $2
	`
	res, err := s.db.ExecContext(ctx, query, lastError, channelID)
	if err != nil {
		return fmt.Errorf("failed to record channel failure: %w", err)
	}
	return requireRow(res, channelID)
}

func (s *postgresStorage) SetChannelError(ctx context.Context, channelID string, lastError string) error {
	const query = `UPDATE channels SET last_error = $1 WHERE id = $2`
	res, err := s.db.ExecContext(ctx, query, lastError, channelID)
	if err != nil {
		return fmt.Errorf("failed to record channel error: %w", err)
	}
	return requireRow(res, channelID)
}

func requireRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no row found with id %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *postgresStorage) SaveNotification(ctx context.Context, n *model.Notification) (bool, error) {
	if n == nil {
		return false, fmt.Errorf("notification cannot be nil")
	}
	eventJSON, err := json.Marshal(n.Event)
	if err != nil {
		return false, fmt.Errorf("failed to marshal notification event: %w", err)
	}

	const query = `
		INSERT INTO notifications
			(id, subscription_id, channel_id, change_id, status, attempts, event, last_error, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		n.ID, n.SubscriptionID, n.ChannelID, n.ChangeID,
		string(n.Status), n.Attempts, eventJSON, n.LastError, n.NextAttemptAt, n.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *postgresStorage) GetPendingNotifications(ctx context.Context, now time.Time) ([]model.Notification, error) {
	const query = `
		SELECT id, subscription_id, channel_id, change_id, status, attempts, event, last_error, next_attempt_at, sent_at, created_at, updated_at
		FROM notifications
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at
	`
	rows, err := s.db.QueryxContext(ctx, query, string(model.NotificationPending), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending notifications: %w", err)
	}
	defer rows.Close()

	var notifs []model.Notification
	for rows.Next() {
		var n model.Notification
		var status string
		var eventJSON []byte
		var lastError sql.NullString
		var sentAt sql.NullTime
		if err := rows.Scan(
			&n.ID, &n.SubscriptionID, &n.ChannelID, &n.ChangeID, &status,
			&n.Attempts, &eventJSON, &lastError, &n.NextAttemptAt, &sentAt,
			&n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Status = model.NotificationStatus(status)
		if lastError.Valid {
			n.LastError = lastError.String
		}
		if sentAt.Valid {
			t := sentAt.Time
			n.SentAt = &t
		}
		if len(eventJSON) > 0 {
			if err := json.Unmarshal(eventJSON, &n.Event); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event for notification %s: %w", n.ID, err)
			}
		}
		notifs = append(notifs, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification row iteration failed: %w", err)
	}
	return notifs, nil
}

func (s *postgresStorage) UpdateNotification(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	const query = `
		UPDATE notifications
		SET status = $1, attempts = $2, last_error = $3, next_attempt_at = $4, sent_at = $5, updated_at = $6
		WHERE id = $7
	`
	res, err := s.db.ExecContext(ctx, query,
		string(n.Status), n.Attempts, n.LastError, n.NextAttemptAt, n.SentAt, time.Now(), n.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return requireRow(res, n.ID)
}
