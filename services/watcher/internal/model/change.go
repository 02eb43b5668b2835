package model

import "time"

// ChangeType classifies how a server differs between two snapshots.
type ChangeType string

const (
	ChangeTypeNew     ChangeType = "new"
	ChangeTypeUpdated ChangeType = "updated"
	ChangeTypeRemoved ChangeType = "removed"
)

// FieldChange records one changed top-level attribute of an updated server.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// Change is a detected difference between two snapshots, tied to one server
// name. Created only by the diff engine and immutable afterwards.
type Change struct {
	ID              string        `json:"id"`
	SnapshotID      string        `json:"snapshot_id"`
	ServerName      string        `json:"server_name"`
	Type            ChangeType    `json:"change_type"`
	PreviousVersion string        `json:"previous_version,omitempty"`
	NewVersion      string        `json:"new_version,omitempty"`
	// Breaking is a heuristic (major version bump), not a guaranteed
	// classification.
	Breaking     bool          `json:"breaking"`
	FieldChanges []FieldChange `json:"field_changes,omitempty"`
	DetectedAt   time.Time     `json:"detected_at"`
}

// ChangeEvent is the message published to the change topic for the notifier.
// This shall match the event model consumed by the notifier service.
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
