// Package usecase implements the transactional outbox: enqueueing events
// inside business transactions and dispatching them to the broker afterwards.
package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/allisson/relay/internal/database"
	apperrors "github.com/allisson/relay/internal/errors"
	eventdomain "github.com/allisson/relay/internal/eventbus/domain"
	"github.com/allisson/relay/internal/metrics"
	"github.com/allisson/relay/internal/outbox/domain"
)

// Config holds outbox dispatcher configuration
type Config struct {
	// Interval between dispatch polls.
	Interval time.Duration
	// BatchSize caps the rows claimed per poll.
	BatchSize int
	// MaxRetryCount bounds publish attempts per event.
	MaxRetryCount int
	// RetryBackoff is the base delay before re-attempting a failed event;
	// doubled on each subsequent failure.
	RetryBackoff time.Duration
}

// OutboxEventRepository defines outbox event repository operations
type OutboxEventRepository interface {
	Create(ctx context.Context, event *domain.OutboxEvent) error
	GetPendingEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	GetDeadEvents(ctx context.Context, offset, limit int) ([]*domain.OutboxEvent, error)
	Update(ctx context.Context, event *domain.OutboxEvent) error
}

// Publisher sends a serialized event to the broker. The event bus satisfies it.
type Publisher interface {
	PublishRaw(ctx context.Context, eventType string, body []byte) error
}

// UseCase defines the interface for outbox operations
type UseCase interface {
	Enqueue(ctx context.Context, event eventdomain.Event, aggregateID string) error
	Start(ctx context.Context) error
	ProcessEvents(ctx context.Context) error
	ListDeadEvents(ctx context.Context, offset, limit int) ([]*domain.OutboxEvent, error)
}

// OutboxUseCase implements the outbox enqueue path and the dispatch loop
type OutboxUseCase struct {
	config     Config
	txManager  database.TxManager
	outboxRepo OutboxEventRepository
	publisher  Publisher
	logger     *slog.Logger
	metrics    metrics.BusinessMetrics
}

// NewOutboxUseCase creates a new OutboxUseCase
func NewOutboxUseCase(
	config Config,
	txManager database.TxManager,
	outboxRepo OutboxEventRepository,
	publisher Publisher,
	logger *slog.Logger,
	businessMetrics metrics.BusinessMetrics,
) *OutboxUseCase {
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	return &OutboxUseCase{
		config:     config,
		txManager:  txManager,
		outboxRepo: outboxRepo,
		publisher:  publisher,
		logger:     logger,
		metrics:    businessMetrics,
	}
}

// Enqueue serializes the event and stores it as an outbox row. It must be
// called inside the same transaction as the state change it announces; the
// row and the change then commit or roll back together.
func (uc *OutboxUseCase) Enqueue(ctx context.Context, event eventdomain.Event, aggregateID string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrapf(err, "failed to serialize event %s", event.EventName())
	}

	outboxEvent := domain.NewOutboxEvent(event.EventName(), aggregateID, string(payload))
	if uc.config.MaxRetryCount > 0 {
		outboxEvent.MaxRetryCount = uc.config.MaxRetryCount
	}

	if err := uc.outboxRepo.Create(ctx, outboxEvent); err != nil {
		return apperrors.Wrap(err, "failed to enqueue outbox event")
	}

	uc.logger.Debug("outbox event enqueued",
		slog.String("event_id", outboxEvent.ID.String()),
		slog.String("event_type", outboxEvent.EventType),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}

// Start runs the dispatch loop until the context is cancelled.
func (uc *OutboxUseCase) Start(ctx context.Context) error {
	uc.logger.Info("starting outbox dispatcher",
		slog.Duration("interval", uc.config.Interval),
		slog.Int("batch_size", uc.config.BatchSize),
	)

	ticker := time.NewTicker(uc.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("stopping outbox dispatcher")
			return ctx.Err()
		case <-ticker.C:
			if err := uc.ProcessEvents(ctx); err != nil {
				uc.logger.Error("failed to process outbox events", slog.Any("error", err))
			}
		}
	}
}

// ProcessEvents claims one batch of due events and publishes them. The claim
// and the bookkeeping updates share a transaction, so a crash mid-batch
// releases the row locks and the next poll retries the batch. A publish that
// succeeded before such a crash is delivered again; consumers tolerate
// duplicates.
func (uc *OutboxUseCase) ProcessEvents(ctx context.Context) error {
	return uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		events, err := uc.outboxRepo.GetPendingEvents(ctx, uc.config.BatchSize)
		if err != nil {
			return err
		}

		if len(events) == 0 {
			return nil
		}

		uc.logger.Info("dispatching outbox events", slog.Int("count", len(events)))

		for _, event := range events {
			if err := uc.dispatchEvent(ctx, event); err != nil {
				return err
			}
		}

		return nil
	})
}

// ListDeadEvents returns events that exhausted their retries, for inspection.
func (uc *OutboxUseCase) ListDeadEvents(ctx context.Context, offset, limit int) ([]*domain.OutboxEvent, error) {
	return uc.outboxRepo.GetDeadEvents(ctx, offset, limit)
}

// dispatchEvent publishes one event and records the outcome. Publish failures
// are absorbed into the row's retry state; only bookkeeping failures abort the
// batch.
func (uc *OutboxUseCase) dispatchEvent(ctx context.Context, event *domain.OutboxEvent) error {
	now := time.Now().UTC()

	if err := uc.publisher.PublishRaw(ctx, event.EventType, []byte(event.Payload)); err != nil {
		uc.logger.Error("failed to publish outbox event",
			slog.String("event_id", event.ID.String()),
			slog.String("event_type", event.EventType),
			slog.Int("retry_count", event.RetryCount),
			slog.Any("error", err),
		)

		event.MarkFailed(now, uc.config.RetryBackoff, err)
		if event.IsExhausted() {
			uc.logger.Error("outbox event exhausted retries",
				slog.String("event_id", event.ID.String()),
				slog.String("event_type", event.EventType),
			)
			uc.metrics.RecordOperation(ctx, "outbox", "dispatch", "exhausted")
		} else {
			uc.metrics.RecordOperation(ctx, "outbox", "dispatch", "error")
		}

		return uc.outboxRepo.Update(ctx, event)
	}

	event.MarkProcessed(now)
	uc.metrics.RecordOperation(ctx, "outbox", "dispatch", "success")

	uc.logger.Debug("outbox event published",
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", event.EventType),
	)

	return uc.outboxRepo.Update(ctx, event)
}
