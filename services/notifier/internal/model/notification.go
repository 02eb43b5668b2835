package model

import "time"

// FieldChange mirrors the watcher's field-level diff entry.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// ChangeEvent is the message consumed from the change topic.
// This shall match the event model published by the watcher service.
type ChangeEvent struct {
	ChangeID        string        `json:"change_id"`
	SnapshotID      string        `json:"snapshot_id"`
	ServerName      string        `json:"server_name"`
	Description     string        `json:"description,omitempty"`
	ChangeType      string        `json:"change_type"`
	PreviousVersion string        `json:"previous_version,omitempty"`
	NewVersion      string        `json:"new_version,omitempty"`
	Breaking        bool          `json:"breaking"`
	FieldChanges    []FieldChange `json:"field_changes,omitempty"`
	DetectedAt      time.Time     `json:"detected_at"`
}

// NotificationStatus is the delivery lifecycle state.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification links one change, subscription and channel, and tracks the
// delivery lifecycle. The event payload is stored alongside so pending
// notifications survive process restarts with their content. Its ID is the
// stable identifier receivers use to deduplicate redeliveries.
type Notification struct {
	ID             string             `json:"id" db:"id"`
	SubscriptionID string             `json:"subscription_id" db:"subscription_id"`
	ChannelID      string             `json:"channel_id" db:"channel_id"`
	ChangeID       string             `json:"change_id" db:"change_id"`
	Status         NotificationStatus `json:"status" db:"status"`
	Attempts       int                `json:"attempts" db:"attempts"`
	Event          ChangeEvent        `json:"event"`
	LastError      string             `json:"last_error,omitempty" db:"last_error"`
	NextAttemptAt  time.Time          `json:"next_attempt_at" db:"next_attempt_at"`
	SentAt         *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`
}
