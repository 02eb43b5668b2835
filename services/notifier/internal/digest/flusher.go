package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

// Mailer matches the dispatch package's mailer seam.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// buffer is the queue surface the flusher needs; implemented by Queue and
// faked in tests.
type buffer interface {
	Enqueue(ctx context.Context, ch model.Channel, message string) error
	peek(ctx context.Context, channelID string) (*Item, error)
	drain(ctx context.Context, channelID string) ([]Item, error)
	lastFlushed(ctx context.Context, channelID string) (time.Time, error)
	markFlushed(ctx context.Context, channelID string, at time.Time) error
	pendingChannels(ctx context.Context) ([]string, error)
}

// windows maps a digest frequency to its flush interval.
var windows = map[model.DigestFrequency]time.Duration{
	model.DigestHourly: time.Hour,
	model.DigestDaily:  24 * time.Hour,
	model.DigestWeekly: 7 * 24 * time.Hour,
}

// Flusher periodically checks buffered digests and sends those whose
// window has elapsed.
type Flusher struct {
	queue    buffer
	mailer   Mailer
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewFlusher(queue *Queue, mailer Mailer, interval time.Duration, logger *slog.Logger) *Flusher {
	return &Flusher{
		queue:    queue,
		mailer:   mailer,
		interval: interval,
		logger:   logger.With("component", "digestFlusher"),
		now:      time.Now,
	}
}

// Run loops until the context is cancelled.
func (f *Flusher) Run(ctx context.Context) error {
	f.logger.Info("Digest flusher started", slog.Duration("interval", f.interval))

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Digest flusher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := f.flushDue(ctx); err != nil {
				f.logger.Error("Digest flush failed", slog.Any("error", err))
			}
		}
	}
}

func (f *Flusher) flushDue(ctx context.Context) error {
	channelIDs, err := f.queue.pendingChannels(ctx)
	if err != nil {
		return err
	}

	for _, channelID := range channelIDs {
		if err := f.flushChannel(ctx, channelID); err != nil {
			f.logger.Error("Failed to flush digest",
				slog.String("channel_id", channelID),
				slog.Any("error", err))
		}
	}
	return nil
}

func (f *Flusher) flushChannel(ctx context.Context, channelID string) error {
	head, err := f.queue.peek(ctx, channelID)
	if err != nil {
		return err
	}
	if head == nil {
		return nil
	}

	window, ok := windows[head.Frequency]
	if !ok {
		// unknown frequency: fall back to hourly rather than dropping mail
		window = time.Hour
	}

	now := f.now()
	last, err := f.queue.lastFlushed(ctx, channelID)
	if err != nil {
		return err
	}
	if last.IsZero() {
		// first digest for this channel: start the window now so the
		// buffered items wait a full period instead of going out on the
		// next tick
		return f.queue.markFlushed(ctx, channelID, now)
	}
	if now.Sub(last) < window {
		return nil
	}

	items, err := f.queue.drain(ctx, channelID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[mcpwatch] %s digest: %d registry change(s)", items[0].Frequency, len(items))
	var body strings.Builder
	for i, item := range items {
		if i > 0 {
			body.WriteString("\n\n---\n\n")
		}
		body.WriteString(item.Message)
	}

	if err := f.mailer.SendMail(ctx, items[0].Address, subject, body.String()); err != nil {
		// send failed: requeue so the next flush retries
		for _, item := range items {
			ch := model.Channel{
				ID: item.ChannelID,
				Config: model.ChannelConfig{
					Address: item.Address,
					Digest:  item.Frequency,
				},
			}
			if qErr := f.queue.Enqueue(ctx, ch, item.Message); qErr != nil {
				f.logger.Error("Failed to requeue digest item after send failure",
					slog.String("channel_id", item.ChannelID),
					slog.Any("error", qErr))
			}
		}
		return fmt.Errorf("failed to send digest mail: %w", err)
	}

	if err := f.queue.markFlushed(ctx, channelID, now); err != nil {
		return err
	}
	f.logger.Info("Digest sent",
		slog.String("channel_id", channelID),
		slog.Int("items", len(items)))
	return nil
}
