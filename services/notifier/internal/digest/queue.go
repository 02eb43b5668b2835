// Package digest buffers email notifications in Redis until a channel's
// digest window elapses, then sends them as one message.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

const (
	// keyPrefixPending holds the buffered items for a channel.
	keyPrefixPending = "mcpwatch:digest:pending:"
	// keyPrefixFlushed records when a channel's digest last went out.
	keyPrefixFlushed = "mcpwatch:digest:flushed:"
)

func pendingKey(channelID string) string {
	return keyPrefixPending + channelID
}

func flushedKey(channelID string) string {
	return keyPrefixFlushed + channelID
}

// Item is one buffered digest entry.
type Item struct {
	ChannelID string                `json:"channel_id"`
	Address   string                `json:"address"`
	Frequency model.DigestFrequency `json:"frequency"`
	Message   string                `json:"message"`
	QueuedAt  time.Time             `json:"queued_at"`
}

// Queue is the Redis-backed digest buffer.
type Queue struct {
	rdb *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue appends a digest item to the channel's pending list.
func (q *Queue) Enqueue(ctx context.Context, ch model.Channel, message string) error {
	item := Item{
		ChannelID: ch.ID,
		Address:   ch.Config.Address,
		Frequency: ch.Config.Digest,
		Message:   message,
		QueuedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal digest item: %w", err)
	}
	if err := q.rdb.RPush(ctx, pendingKey(ch.ID), data).Err(); err != nil {
		return fmt.Errorf("failed to push digest item: %w", err)
	}
	return nil
}

// peek returns the oldest pending item without removing it, or nil when
// the list is empty.
func (q *Queue) peek(ctx context.Context, channelID string) (*Item, error) {
	val, err := q.rdb.LIndex(ctx, pendingKey(channelID), 0).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to peek digest list: %w", err)
	}
	var item Item
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return nil, fmt.Errorf("malformed digest item: %w", err)
	}
	return &item, nil
}

// drain atomically takes all pending items for a channel.
func (q *Queue) drain(ctx context.Context, channelID string) ([]Item, error) {
	pipe := q.rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, pendingKey(channelID), 0, -1)
	pipe.Del(ctx, pendingKey(channelID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to drain digest list: %w", err)
	}

	raw := rangeCmd.Val()
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		var item Item
		if err := json.Unmarshal([]byte(r), &item); err != nil {
			// skip malformed entries rather than wedging the digest
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// lastFlushed returns when the channel's digest last went out; the zero
// time when it never has.
func (q *Queue) lastFlushed(ctx context.Context, channelID string) (time.Time, error) {
	val, err := q.rdb.Get(ctx, flushedKey(channelID)).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad flushed timestamp for %s: %w", channelID, err)
	}
	return t, nil
}

func (q *Queue) markFlushed(ctx context.Context, channelID string, at time.Time) error {
	return q.rdb.Set(ctx, flushedKey(channelID), at.UTC().Format(time.RFC3339), 0).Err()
}

// pendingChannels scans for channels with buffered items.
func (q *Queue) pendingChannels(ctx context.Context) ([]string, error) {
	var channelIDs []string
	iter := q.rdb.Scan(ctx, 0, keyPrefixPending+"*", 100).Iterator()
	for iter.Next(ctx) {
		channelIDs = append(channelIDs, iter.Val()[len(keyPrefixPending):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan digest keys: %w", err)
	}
	return channelIDs, nil
}
