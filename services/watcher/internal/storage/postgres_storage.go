package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcpwatch/mcpwatch/services/watcher/internal/model"
)

// ErrNoSnapshot is returned when no snapshot has been persisted yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

type PostgresStorage struct {
	db *pgxpool.Pool
}

func NewPostgresStorage(pool *pgxpool.Pool) SnapshotStorage {
	return &PostgresStorage{pool}
}

// NewPostgresPool connects a pgx pool using the given database URL.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.db.Ping(ctx)
}

func (ps *PostgresStorage) SaveSnapshot(ctx context.Context, snap *model.Snapshot, changes []model.Change) error {
	serversJSON, err := json.Marshal(snap.Servers)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot servers: %w", err)
	}

	tx, err := ps.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const snapshotQuery = `
		INSERT INTO snapshots (id, taken_at, observed_at, server_count, hash, servers)
		VALUES ($1, $2, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, snapshotQuery,
		snap.ID, snap.Timestamp, snap.ServerCount, snap.Hash, serversJSON,
	); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	const changeQuery = `
		INSERT INTO changes
			(id, snapshot_id, server_name, change_type, previous_version, new_version, breaking, field_changes, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, c := range changes {
		fieldsJSON, err := json.Marshal(c.FieldChanges)
		if err != nil {
			return fmt.Errorf("failed to marshal field changes for %s: %w", c.ServerName, err)
		}
		if _, err := tx.Exec(ctx, changeQuery,
			c.ID, c.SnapshotID, c.ServerName, string(c.Type),
			c.PreviousVersion, c.NewVersion, c.Breaking, fieldsJSON, c.DetectedAt,
		); err != nil {
			return fmt.Errorf("failed to insert change for %s: %w", c.ServerName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) GetLatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	const query = `
		SELECT id, taken_at, server_count, hash, servers
		FROM snapshots
		ORDER BY taken_at DESC
		LIMIT 1
	`

	var snap model.Snapshot
	var serversJSON []byte
	err := ps.db.QueryRow(ctx, query).Scan(
		&snap.ID, &snap.Timestamp, &snap.ServerCount, &snap.Hash, &serversJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}

	if err := json.Unmarshal(serversJSON, &snap.Servers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot servers: %w", err)
	}
	return &snap, nil
}

func (ps *PostgresStorage) MarkObserved(ctx context.Context, snapshotID string, observedAt time.Time) error {
	const query = `UPDATE snapshots SET observed_at = $1 WHERE id = $2`

	tag, err := ps.db.Exec(ctx, query, observedAt, snapshotID)
	if err != nil {
		return fmt.Errorf("failed to mark snapshot observed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no snapshot found with id %s", snapshotID)
	}
	return nil
}

func (ps *PostgresStorage) GetChangesSince(ctx context.Context, since time.Time) ([]model.Change, error) {
	const query = `
		SELECT id, snapshot_id, server_name, change_type, previous_version, new_version, breaking, field_changes, detected_at
		FROM changes
		WHERE detected_at >= $1
		ORDER BY detected_at DESC, server_name
	`

	rows, err := ps.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var changes []model.Change
	for rows.Next() {
		var c model.Change
		var changeType string
		var fieldsJSON []byte
		if err := rows.Scan(
			&c.ID, &c.SnapshotID, &c.ServerName, &changeType,
			&c.PreviousVersion, &c.NewVersion, &c.Breaking, &fieldsJSON, &c.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.Type = model.ChangeType(changeType)
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &c.FieldChanges); err != nil {
				return nil, fmt.Errorf("failed to unmarshal field changes: %w", err)
			}
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("change row iteration failed: %w", err)
	}
	return changes, nil
}
