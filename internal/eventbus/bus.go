package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/eventbus/domain"
	"github.com/allisson/relay/internal/metrics"
)

// Config holds event bus configuration.
type Config struct {
	// Exchange is the direct exchange all events flow through.
	Exchange string
	// QueueName is this process's durable queue.
	QueueName string
	// ServiceName identifies this process as the source of published events.
	ServiceName string
	// PublishRetryCount is the number of publish attempts before failing loudly.
	PublishRetryCount int
	// PublishBackoff is the base delay between publish attempts (doubled each retry).
	PublishBackoff time.Duration
}

// Bus is a typed publish/subscribe layer over the broker connection. Publishes
// retry with exponential backoff; consumption is a single manual-ack loop, so
// a slow handler delays the next delivery, which is intentional backpressure.
type Bus struct {
	conn     *Connection
	registry *Registry
	config   Config
	logger   *slog.Logger
	metrics  metrics.BusinessMetrics

	mu        sync.Mutex
	consumeCh *amqp.Channel
	consuming bool
}

// NewBus creates an event bus over the given connection and registry.
func NewBus(
	conn *Connection,
	registry *Registry,
	config Config,
	logger *slog.Logger,
	businessMetrics metrics.BusinessMetrics,
) *Bus {
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	return &Bus{
		conn:     conn,
		registry: registry,
		config:   config,
		logger:   logger,
		metrics:  businessMetrics,
	}
}

// Registry returns the handler registry used by the consume loop.
func (b *Bus) Registry() *Registry { return b.registry }

// Publish serializes the event to its JSON envelope and publishes it with the
// event name as routing key.
func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize event %s", event.EventName())
	}
	return b.PublishRaw(ctx, event.EventName(), body)
}

// PublishRaw publishes a pre-serialized payload under the given event type.
// The outbox dispatcher uses this path, since outbox rows already carry the
// serialized envelope.
func (b *Bus) PublishRaw(ctx context.Context, eventType string, body []byte) error {
	return b.publishWithRetry(ctx, eventType, func() error {
		return b.publishOnce(ctx, eventType, body)
	})
}

// PublishDelayed publishes the event so it is delivered after the given delay.
// It relies on a per-event-type scheduler queue whose dead-letter target is the
// main exchange: the message sits in the scheduler queue until its TTL expires,
// then the broker routes it back with the original routing key. No process
// thread is suspended, and the schedule survives restarts. Delayed publishes
// go through the same retry policy as immediate ones.
func (b *Bus) PublishDelayed(ctx context.Context, event domain.Event, delay time.Duration) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize event %s", event.EventName())
	}

	return b.publishWithRetry(ctx, event.EventName(), func() error {
		return b.publishDelayedOnce(ctx, event.EventName(), body, delay)
	})
}

// publishWithRetry runs one publish attempt with exponential backoff between
// retries. The attempt count comes from the bus config, with a floor of one.
func (b *Bus) publishWithRetry(ctx context.Context, eventType string, publish func() error) error {
	var lastErr error

	attempts := b.config.PublishRetryCount
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := b.config.PublishBackoff * (1 << (attempt - 1))
			b.logger.Warn("retrying event publish",
				slog.String("event_type", eventType),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.Any("error", lastErr),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if lastErr = publish(); lastErr == nil {
			b.metrics.RecordOperation(ctx, "eventbus", "publish", "success")
			return nil
		}
	}

	b.metrics.RecordOperation(ctx, "eventbus", "publish", "error")
	return errors.Wrapf(lastErr, "failed to publish event %s after %d attempts", eventType, attempts)
}

// publishDelayedOnce performs a single delayed publish attempt over a fresh
// channel, declaring the scheduler queue on the way.
func (b *Bus) publishDelayedOnce(ctx context.Context, eventName string, body []byte, delay time.Duration) error {
	channel, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close() //nolint:errcheck

	schedulerQueue := fmt.Sprintf("%s.scheduler.%s", b.config.Exchange, eventName)
	if _, err := channel.QueueDeclare(schedulerQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    b.config.Exchange,
		"x-dead-letter-routing-key": eventName,
	}); err != nil {
		return errors.Wrap(err, "failed to declare scheduler queue")
	}

	return channel.PublishWithContext(ctx, "", schedulerQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Body:         body,
	})
}

// publishOnce performs a single publish attempt over a fresh channel.
func (b *Bus) publishOnce(ctx context.Context, eventType string, body []byte) error {
	channel, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close() //nolint:errcheck

	if err := channel.ExchangeDeclare(b.config.Exchange, "direct", true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "failed to declare exchange")
	}

	return channel.PublishWithContext(ctx, b.config.Exchange, eventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Subscribe registers a handler for an event type. The first subscription for
// a type binds the routing key to this process's durable queue. Binding errors
// surface here so missing topology is a startup failure, not a silent gap.
func (b *Bus) Subscribe(eventType string, decode DecodeFunc, handler Handler) error {
	first := b.registry.Subscribe(eventType, decode, handler)

	b.logger.Info("subscribed to event",
		slog.String("event_type", eventType),
		slog.String("handler", handler.Name()),
	)

	if !first {
		return nil
	}
	return b.bindQueue(eventType)
}

// Unsubscribe removes a handler. The queue binding stays in place to avoid
// message loss while a subscription is being replaced.
func (b *Bus) Unsubscribe(eventType, handlerName string) {
	b.registry.Unsubscribe(eventType, handlerName)
	b.logger.Info("unsubscribed from event",
		slog.String("event_type", eventType),
		slog.String("handler", handlerName),
	)
}

// bindQueue declares the topology and binds the routing key to our queue.
func (b *Bus) bindQueue(eventType string) error {
	channel, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close() //nolint:errcheck

	if err := b.declareTopology(channel); err != nil {
		return err
	}
	if err := channel.QueueBind(b.config.QueueName, eventType, b.config.Exchange, false, nil); err != nil {
		return errors.Wrapf(err, "failed to bind %s to %s", eventType, b.config.QueueName)
	}
	return nil
}

// declareTopology declares the exchange, the service queue, and its
// dead-letter queue. All declarations are idempotent.
func (b *Bus) declareTopology(channel *amqp.Channel) error {
	if err := channel.ExchangeDeclare(b.config.Exchange, "direct", true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "failed to declare exchange")
	}
	if _, err := channel.QueueDeclare(b.config.QueueName, true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "failed to declare queue")
	}
	if _, err := channel.QueueDeclare(b.deadLetterQueue(), true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "failed to declare dead-letter queue")
	}
	return nil
}

func (b *Bus) deadLetterQueue() string {
	return b.config.QueueName + ".dlq"
}

// StartConsuming starts the asynchronous consume loop on this process's queue.
// Deliveries are dispatched inline and acknowledged only after processing.
// When the channel drops, the loop re-establishes it until ctx is cancelled.
func (b *Bus) StartConsuming(ctx context.Context) error {
	if err := b.registry.Validate(); err != nil {
		return errors.Wrap(err, "invalid handler registry")
	}

	b.mu.Lock()
	if b.consuming {
		b.mu.Unlock()
		return nil
	}
	b.consuming = true
	b.mu.Unlock()

	go b.consumeLoop(ctx)
	return nil
}

// StopConsuming stops the consume loop by closing the consumer channel.
func (b *Bus) StopConsuming() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consuming = false
	if b.consumeCh != nil {
		_ = b.consumeCh.Close()
		b.consumeCh = nil
	}
}

// consumeLoop opens a consumer channel and processes deliveries until the
// context is done. A dropped channel is re-opened after a short pause.
func (b *Bus) consumeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || !b.isConsuming() {
			return
		}

		deliveries, err := b.openConsumer()
		if err != nil {
			b.logger.Error("failed to open consumer, retrying", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		b.logger.Info("consuming messages", slog.String("queue", b.config.QueueName))

		for delivery := range deliveries {
			b.handleDelivery(ctx, delivery)
		}

		// Channel closed under us. Loop back and re-open unless stopping.
		b.logger.Warn("consumer channel closed")
	}
}

func (b *Bus) isConsuming() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consuming
}

// openConsumer opens a prefetch-1, manual-ack consumer on the service queue.
func (b *Bus) openConsumer() (<-chan amqp.Delivery, error) {
	channel, err := b.conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := b.declareTopology(channel); err != nil {
		_ = channel.Close()
		return nil, err
	}

	// One in-flight message per process: ack-after-process backpressure.
	if err := channel.Qos(1, 0, false); err != nil {
		_ = channel.Close()
		return nil, errors.Wrap(err, "failed to set channel qos")
	}

	deliveries, err := channel.Consume(b.config.QueueName, b.config.ServiceName, false, false, false, false, nil)
	if err != nil {
		_ = channel.Close()
		return nil, errors.Wrap(err, "failed to start consuming")
	}

	b.mu.Lock()
	b.consumeCh = channel
	b.mu.Unlock()

	return deliveries, nil
}

// handleDelivery dispatches one delivery and always acknowledges it. Poison
// messages (undecodable payloads) are parked on the dead-letter queue instead
// of being silently dropped.
func (b *Bus) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	if err := b.dispatch(ctx, delivery.RoutingKey, delivery.Body); err != nil {
		b.logger.Error("dead-lettering message",
			slog.String("event_type", delivery.RoutingKey),
			slog.Any("error", err),
		)
		b.deadLetter(ctx, delivery)
	}

	if err := delivery.Ack(false); err != nil {
		b.logger.Error("failed to ack delivery",
			slog.String("event_type", delivery.RoutingKey),
			slog.Any("error", err),
		)
	}
}

// dispatch decodes the payload once and runs every registered handler.
// Handler failures are contained and logged per handler; only an undecodable
// payload is reported back for dead-lettering.
func (b *Bus) dispatch(ctx context.Context, eventType string, body []byte) error {
	decode, handlers, ok := b.registry.Lookup(eventType)
	if !ok {
		b.logger.Warn("no subscription for event", slog.String("event_type", eventType))
		return nil
	}

	event, err := decode(body)
	if err != nil {
		b.metrics.RecordOperation(ctx, "eventbus", "consume", "decode_error")
		return errors.Wrapf(err, "failed to decode event %s", eventType)
	}

	for _, handler := range handlers {
		start := time.Now()
		err := b.invokeHandler(ctx, handler, event)
		status := "success"
		if err != nil {
			status = "error"
			b.logger.Error("event handler failed",
				slog.String("event_type", eventType),
				slog.String("handler", handler.Name()),
				slog.Any("error", err),
			)
		} else {
			b.logger.Debug("event handled",
				slog.String("event_type", eventType),
				slog.String("handler", handler.Name()),
			)
		}
		b.metrics.RecordOperation(ctx, "eventbus", "consume", status)
		b.metrics.RecordDuration(ctx, "eventbus", "consume", time.Since(start), status)
	}

	return nil
}

// invokeHandler runs one handler, converting panics into errors so one
// misbehaving handler cannot take down the consume loop.
func (b *Bus) invokeHandler(ctx context.Context, handler Handler, event any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, event)
}

// deadLetter parks the raw message on the dead-letter queue for inspection.
func (b *Bus) deadLetter(ctx context.Context, delivery amqp.Delivery) {
	channel, err := b.conn.Channel()
	if err != nil {
		b.logger.Error("failed to open channel for dead-letter", slog.Any("error", err))
		return
	}
	defer channel.Close() //nolint:errcheck

	err = channel.PublishWithContext(ctx, "", b.deadLetterQueue(), false, false, amqp.Publishing{
		ContentType:  delivery.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         delivery.Body,
		Headers: amqp.Table{
			"x-original-routing-key": delivery.RoutingKey,
		},
	})
	if err != nil {
		b.logger.Error("failed to dead-letter message",
			slog.String("event_type", delivery.RoutingKey),
			slog.Any("error", err),
		)
	}
}
