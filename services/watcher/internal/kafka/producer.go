package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mcpwatch/mcpwatch/pkg/tracing"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/model"
)

// ChangeProducer publishes change events for the notifier to consume.
type ChangeProducer interface {
	Start(ctx context.Context)
	Publish(ctx context.Context, ev model.ChangeEvent) error
	Close(ctx context.Context)
}

type producer struct {
	asyncProducer sarama.AsyncProducer
	topic         string
	log           *slog.Logger
	wg            *sync.WaitGroup
	closeOnce     sync.Once
	tracer        *tracing.Tracer
}

// NewProducer uses DI to inject the AsyncProducer, topic, logger, WaitGroup
// and tracer.
func NewProducer(asyncProducer sarama.AsyncProducer, topic string, log *slog.Logger, wg *sync.WaitGroup, tracer *tracing.Tracer) ChangeProducer {
	if asyncProducer == nil || log == nil || wg == nil || tracer == nil {
		panic("NewProducer: nil dependencies provided")
	}
	if topic == "" {
		panic("NewProducer: topic must not be empty")
	}
	return &producer{
		asyncProducer: asyncProducer,
		topic:         topic,
		log:           log.With("component", "changeProducer"),
		wg:            wg,
		tracer:        tracer,
	}
}

// Start launches background handlers for success and error channels.
func (p *producer) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.handleSuccess(ctx)
	go p.handleErrors(ctx)
}

func (p *producer) handleSuccess(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case msg, ok := <-p.asyncProducer.Successes():
			if !ok {
				p.log.Info("Kafka successes channel closed")
				return
			}
			key, _ := msg.Key.Encode()
			p.log.Debug("Change event delivered",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.String("key", string(key)))
		case <-ctx.Done():
			p.log.Info("Kafka success handler stopped by context")
			return
		}
	}
}

func (p *producer) handleErrors(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case err, ok := <-p.asyncProducer.Errors():
			if !ok {
				p.log.Info("Kafka errors channel closed")
				return
			}
			p.log.Error("Change event delivery failed",
				slog.String("topic", err.Msg.Topic),
				slog.Any("error", err.Err))
		case <-ctx.Done():
			p.log.Info("Kafka error handler stopped by context")
			return
		}
	}
}

// Publish sends a change event to the change topic, keyed by server name so
// events for one server stay ordered within a partition. Trace context is
// injected into the message headers.
func (p *producer) Publish(ctx context.Context, ev model.ChangeEvent) error {
	ctx, span := p.tracer.StartClientSpan(ctx, "PublishChangeEvent")
	defer span.End()

	data, err := json.Marshal(ev)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	headers := tracing.InjectTraceContext(ctx, nil)

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(ev.ServerName),
		Value:     sarama.ByteEncoder(data),
		Timestamp: time.Now(),
		Headers:   headers,
	}

	select {
	case p.asyncProducer.Input() <- msg:
		p.log.Info("Change event queued",
			slog.String("topic", p.topic),
			slog.String("server", ev.ServerName),
			slog.String("change_type", ev.ChangeType))
		span.SetAttributes(
			attribute.String("kafka.topic", p.topic),
			attribute.String("kafka.key", ev.ServerName),
			attribute.String("change.type", ev.ChangeType),
		)
		return nil
	case <-ctx.Done():
		p.log.Warn("Publish cancelled by context", slog.String("server", ev.ServerName))
		return ctx.Err()
	}
}

// Close shuts down the producer and waits for the handler goroutines.
func (p *producer) Close(_ context.Context) {
	p.closeOnce.Do(func() {
		p.log.Info("Closing Kafka producer")
		p.asyncProducer.AsyncClose()
		p.wg.Wait()
		p.log.Info("Kafka producer closed")
	})
}
