// Package usecase implements the registration saga orchestrator: it consumes
// workflow events, drives the state machine inside a transaction, and routes
// follow-up commands through the transactional outbox.
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/relay/internal/database"
	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/eventbus"
	eventdomain "github.com/allisson/relay/internal/eventbus/domain"
	"github.com/allisson/relay/internal/metrics"
	"github.com/allisson/relay/internal/saga/domain"
)

// Config holds saga orchestrator configuration
type Config struct {
	// Timeout is the overall deadline for a registration workflow. The
	// timeout message is scheduled on the broker, so it survives restarts.
	Timeout time.Duration
}

// SagaRepository defines registration saga persistence operations
type SagaRepository interface {
	Create(ctx context.Context, state *domain.RegistrationState) error
	GetByCorrelationID(ctx context.Context, correlationID uuid.UUID, forUpdate bool) (*domain.RegistrationState, error)
	Update(ctx context.Context, state *domain.RegistrationState) error
}

// OutboxEnqueuer stores follow-up commands inside the current transaction.
type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, event eventdomain.Event, aggregateID string) error
}

// TimeoutScheduler schedules a broker-delayed message.
type TimeoutScheduler interface {
	PublishDelayed(ctx context.Context, event eventdomain.Event, delay time.Duration) error
}

// UseCase defines the interface for the registration orchestrator
type UseCase interface {
	RegisterHandlers(bus *eventbus.Bus) error
	GetStatus(ctx context.Context, correlationID uuid.UUID) (*domain.RegistrationState, error)
}

// RegistrationOrchestrator owns the registration saga instances. Every event
// delivery loads the instance with a row lock, applies the pure transition
// function, and persists state plus outbox commands atomically. Concurrent
// deliveries for the same correlation id therefore serialize on the row lock.
type RegistrationOrchestrator struct {
	config    Config
	txManager database.TxManager
	sagaRepo  SagaRepository
	outbox    OutboxEnqueuer
	scheduler TimeoutScheduler
	logger    *slog.Logger
	metrics   metrics.BusinessMetrics
}

// NewRegistrationOrchestrator creates a new RegistrationOrchestrator
func NewRegistrationOrchestrator(
	config Config,
	txManager database.TxManager,
	sagaRepo SagaRepository,
	outbox OutboxEnqueuer,
	scheduler TimeoutScheduler,
	logger *slog.Logger,
	businessMetrics metrics.BusinessMetrics,
) *RegistrationOrchestrator {
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	return &RegistrationOrchestrator{
		config:    config,
		txManager: txManager,
		sagaRepo:  sagaRepo,
		outbox:    outbox,
		scheduler: scheduler,
		logger:    logger,
		metrics:   businessMetrics,
	}
}

// RegisterHandlers subscribes the orchestrator to every event that drives the
// registration workflow.
func (o *RegistrationOrchestrator) RegisterHandlers(bus *eventbus.Bus) error {
	subscriptions := []struct {
		eventType string
		decode    eventbus.DecodeFunc
		handle    func(ctx context.Context, event any) error
	}{
		{domain.EventRegistrationStarted, eventbus.DecodeJSON[domain.RegistrationStarted](), o.onRegistrationStarted},
		{domain.EventOtpSent, eventbus.DecodeJSON[domain.OtpSent](), o.onWorkflowEvent},
		{domain.EventOtpVerified, eventbus.DecodeJSON[domain.OtpVerified](), o.onWorkflowEvent},
		{domain.EventAuthUserCreated, eventbus.DecodeJSON[domain.AuthUserCreated](), o.onWorkflowEvent},
		{domain.EventUserProfileCreated, eventbus.DecodeJSON[domain.UserProfileCreated](), o.onWorkflowEvent},
		{domain.EventAuthUserDeleted, eventbus.DecodeJSON[domain.AuthUserDeleted](), o.onWorkflowEvent},
		{domain.EventRegistrationTimeout, eventbus.DecodeJSON[domain.RegistrationTimeout](), o.onWorkflowEvent},
	}

	for _, sub := range subscriptions {
		handler := eventbus.NewHandler("registration-orchestrator", sub.handle)
		if err := bus.Subscribe(sub.eventType, sub.decode, handler); err != nil {
			return apperrors.Wrapf(err, "failed to subscribe orchestrator to %s", sub.eventType)
		}
	}
	return nil
}

// GetStatus returns the persisted saga instance for a correlation id. The
// initiating service polls this to discover asynchronous outcomes.
func (o *RegistrationOrchestrator) GetStatus(
	ctx context.Context,
	correlationID uuid.UUID,
) (*domain.RegistrationState, error) {
	return o.sagaRepo.GetByCorrelationID(ctx, correlationID, false)
}

// onRegistrationStarted creates the saga instance. A start event for an
// existing correlation id is a duplicate and is logged, not an error.
func (o *RegistrationOrchestrator) onRegistrationStarted(ctx context.Context, event any) error {
	started, ok := event.(*domain.RegistrationStarted)
	if !ok {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "unexpected event payload type")
	}

	var outcome domain.Outcome
	var state *domain.RegistrationState

	err := o.txManager.WithTx(ctx, func(ctx context.Context) error {
		existing, err := o.sagaRepo.GetByCorrelationID(ctx, started.CorrelationID, true)
		if err == nil {
			o.logger.Warn("duplicate registration start ignored",
				slog.String("correlation_id", started.CorrelationID.String()),
				slog.String("email", started.Email),
			)
			// With at-least-once delivery, a replayed start event is the
			// retry path for a deadline that failed to schedule on the first
			// delivery. Re-arm it while the instance is still waiting; a
			// second timeout with the same token is a no-op.
			if existing.CurrentState == domain.StateStarted && existing.TimeoutTokenID != nil {
				state = existing
				outcome.ScheduleTimeout = true
			}
			return nil
		}
		if !errors.Is(err, domain.ErrInstanceNotFound) {
			return err
		}

		state, outcome = domain.StartRegistration(started, time.Now().UTC())
		if err := o.sagaRepo.Create(ctx, state); err != nil {
			return apperrors.Wrap(err, "failed to create saga instance")
		}
		if err := o.enqueueCommands(ctx, state, outcome); err != nil {
			return err
		}

		o.logger.Info("registration saga started",
			slog.String("correlation_id", state.CorrelationID.String()),
			slog.String("email", state.Email),
		)
		o.metrics.RecordOperation(ctx, "saga", "start", "success")
		return nil
	})
	if err != nil {
		o.metrics.RecordOperation(ctx, "saga", "start", "error")
		return err
	}

	if state != nil && outcome.ScheduleTimeout {
		return o.scheduleTimeout(ctx, state)
	}
	return nil
}

// onWorkflowEvent advances an existing saga instance. Events for unknown
// correlation ids are discarded: they are late arrivals for sagas that were
// never created here, and creating an instance from a mid-workflow event
// would be wrong.
func (o *RegistrationOrchestrator) onWorkflowEvent(ctx context.Context, event any) error {
	correlationID, ok := correlationIDOf(event)
	if !ok {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "unexpected event payload type")
	}

	return o.txManager.WithTx(ctx, func(ctx context.Context) error {
		state, err := o.sagaRepo.GetByCorrelationID(ctx, correlationID, true)
		if err != nil {
			if errors.Is(err, domain.ErrInstanceNotFound) {
				o.logger.Warn("event for unknown saga discarded",
					slog.String("correlation_id", correlationID.String()),
				)
				return nil
			}
			return err
		}

		previous := state.CurrentState
		outcome := domain.Apply(state, event, time.Now().UTC())
		if !outcome.Changed {
			o.logger.Debug("saga event ignored",
				slog.String("correlation_id", correlationID.String()),
				slog.String("current_state", string(state.CurrentState)),
			)
			return nil
		}

		if err := o.sagaRepo.Update(ctx, state); err != nil {
			return apperrors.Wrap(err, "failed to persist saga transition")
		}
		if err := o.enqueueCommands(ctx, state, outcome); err != nil {
			return err
		}

		o.logger.Info("saga transitioned",
			slog.String("correlation_id", correlationID.String()),
			slog.String("from", string(previous)),
			slog.String("to", string(state.CurrentState)),
		)
		o.metrics.RecordOperation(ctx, "saga", "transition", string(state.CurrentState))
		return nil
	})
}

func (o *RegistrationOrchestrator) enqueueCommands(
	ctx context.Context,
	state *domain.RegistrationState,
	outcome domain.Outcome,
) error {
	for _, command := range outcome.Commands {
		if err := o.outbox.Enqueue(ctx, command, state.CorrelationID.String()); err != nil {
			return apperrors.Wrapf(err, "failed to enqueue %s", command.EventName())
		}
	}
	return nil
}

// scheduleTimeout schedules the broker-delayed timeout after the creating
// transaction committed. The publish retries inside the scheduler; if it
// still fails, the error is reported so the failure is visible and a
// redelivered start event can re-arm the deadline.
func (o *RegistrationOrchestrator) scheduleTimeout(ctx context.Context, state *domain.RegistrationState) error {
	if state.TimeoutTokenID == nil {
		return nil
	}

	timeout := domain.RegistrationTimeout{
		IntegrationEvent: eventdomain.NewIntegrationEvent(domain.EventRegistrationTimeout, domain.SourceService),
		CorrelationID:    state.CorrelationID,
		TimeoutTokenID:   *state.TimeoutTokenID,
	}

	if err := o.scheduler.PublishDelayed(ctx, timeout, o.config.Timeout); err != nil {
		o.logger.Error("failed to schedule saga timeout",
			slog.String("correlation_id", state.CorrelationID.String()),
			slog.Any("error", err),
		)
		return apperrors.Wrap(err, "failed to schedule saga timeout")
	}

	o.logger.Debug("saga timeout scheduled",
		slog.String("correlation_id", state.CorrelationID.String()),
		slog.Duration("delay", o.config.Timeout),
	)
	return nil
}

// correlationIDOf extracts the workflow id from any saga event.
func correlationIDOf(event any) (uuid.UUID, bool) {
	switch e := event.(type) {
	case *domain.OtpSent:
		return e.CorrelationID, true
	case *domain.OtpVerified:
		return e.CorrelationID, true
	case *domain.AuthUserCreated:
		return e.CorrelationID, true
	case *domain.UserProfileCreated:
		return e.CorrelationID, true
	case *domain.AuthUserDeleted:
		return e.CorrelationID, true
	case *domain.RegistrationTimeout:
		return e.CorrelationID, true
	}
	return uuid.Nil, false
}
