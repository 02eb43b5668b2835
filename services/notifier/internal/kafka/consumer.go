// Package kafka consumes change events from the watcher's topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mcpwatch/mcpwatch/pkg/tracing"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

// ChangeHandler receives each decoded change event. The consumer commits
// the offset only after the handler returns nil.
type ChangeHandler interface {
	OnChange(ctx context.Context, ev model.ChangeEvent) error
}

// Consumer reads change events from the change topic using a consumer
// group and hands them to the notification service.
type Consumer struct {
	topic         string
	handler       ChangeHandler
	consumerGroup sarama.ConsumerGroup
	log           *slog.Logger
	tracer        *tracing.Tracer
}

func NewConsumer(topic string, consumerGroup sarama.ConsumerGroup, handler ChangeHandler, log *slog.Logger, tracer *tracing.Tracer) *Consumer {
	return &Consumer{
		topic:         topic,
		handler:       handler,
		consumerGroup: consumerGroup,
		log:           log.With("component", "kafkaConsumer"),
		tracer:        tracer,
	}
}

// Start runs the consume loop until the context is cancelled or the
// consumer group is closed.
func (c *Consumer) Start(ctx context.Context) error {
	defer func() {
		if err := c.consumerGroup.Close(); err != nil {
			c.log.Warn("Failed to close consumer group", slog.Any("error", err))
		}
	}()

	c.log.Info("Kafka consumer started", slog.String("topic", c.topic))

	backoff := time.Second
	for {
		// Consume blocks until an error occurs or context is cancelled.
		err := c.consumerGroup.Consume(ctx, []string{c.topic}, c)
		if err != nil {
			c.log.Error("Error consuming messages", slog.Any("error", err))

			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return err
			}

			// Back off on transient errors
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		if ctx.Err() != nil {
			c.log.Info("Context cancelled, stopping consumer")
			return ctx.Err()
		}
		backoff = time.Second
	}
}

// Setup is called once when a new consumer session starts.
func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	for topic, partitions := range session.Claims() {
		c.log.Info("Partition assignment",
			slog.String("topic", topic),
			slog.Any("partitions", partitions),
		)
	}
	return nil
}

// Cleanup is called once when the consumer session ends.
func (c *Consumer) Cleanup(_ sarama.ConsumerGroupSession) error {
	c.log.Info("Kafka session cleanup complete")
	return nil
}

// ConsumeClaim processes messages from one assigned partition.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		c.log.Debug("Message received",
			slog.String("topic", message.Topic),
			slog.Int("partition", int(message.Partition)),
			slog.Int64("offset", message.Offset),
		)

		var ev model.ChangeEvent
		if err := json.Unmarshal(message.Value, &ev); err != nil {
			c.log.Error("Failed to decode change event", slog.Any("error", err))
			// skip poison messages instead of wedging the partition
			session.MarkMessage(message, "")
			continue
		}

		ctx := tracing.ExtractTraceContext(session.Context(), message.Headers)
		ctx, span := c.tracer.StartConsumerSpan(ctx, "HandleChangeEvent")
		c.tracer.AddKafkaAttributes(span, message.Topic, "process", message.Partition, message.Offset)

		if err := c.handler.OnChange(ctx, ev); err != nil {
			// leave the offset uncommitted so the event is redelivered
			c.tracer.RecordError(span, err)
			span.End()
			c.log.Error("Change handling failed",
				slog.String("change_id", ev.ChangeID),
				slog.Any("error", err))
			continue
		}
		span.End()

		session.MarkMessage(message, "")
	}
	return nil
}
