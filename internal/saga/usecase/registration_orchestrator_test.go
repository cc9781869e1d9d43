package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventdomain "github.com/allisson/relay/internal/eventbus/domain"
	"github.com/allisson/relay/internal/saga/domain"
)

// fakeTxManager runs the function directly; transaction semantics are covered
// by the database package tests.
type fakeTxManager struct{}

func (fakeTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memorySagaRepository is an in-memory SagaRepository keyed by correlation id.
type memorySagaRepository struct {
	mu        sync.Mutex
	instances map[uuid.UUID]*domain.RegistrationState
}

func newMemorySagaRepository() *memorySagaRepository {
	return &memorySagaRepository{instances: make(map[uuid.UUID]*domain.RegistrationState)}
}

func (r *memorySagaRepository) Create(ctx context.Context, state *domain.RegistrationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[state.CorrelationID]; ok {
		return errors.New("duplicate correlation id")
	}
	clone := *state
	r.instances[state.CorrelationID] = &clone
	return nil
}

func (r *memorySagaRepository) GetByCorrelationID(
	ctx context.Context,
	correlationID uuid.UUID,
	forUpdate bool,
) (*domain.RegistrationState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.instances[correlationID]
	if !ok {
		return nil, domain.ErrInstanceNotFound
	}
	clone := *state
	return &clone, nil
}

func (r *memorySagaRepository) Update(ctx context.Context, state *domain.RegistrationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[state.CorrelationID]; !ok {
		return errors.New("saga instance missing")
	}
	clone := *state
	r.instances[state.CorrelationID] = &clone
	return nil
}

// recordingOutbox captures enqueued commands instead of persisting them.
type recordingOutbox struct {
	mu     sync.Mutex
	events []eventdomain.Event
	err    error
}

func (o *recordingOutbox) Enqueue(ctx context.Context, event eventdomain.Event, aggregateID string) error {
	if o.err != nil {
		return o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	return nil
}

func (o *recordingOutbox) names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.events))
	for _, event := range o.events {
		names = append(names, event.EventName())
	}
	return names
}

// recordingScheduler captures delayed publishes.
type recordingScheduler struct {
	mu     sync.Mutex
	events []eventdomain.Event
	delays []time.Duration
	err    error
}

func (s *recordingScheduler) PublishDelayed(
	ctx context.Context,
	event eventdomain.Event,
	delay time.Duration,
) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.delays = append(s.delays, delay)
	return nil
}

type orchestratorFixture struct {
	orchestrator *RegistrationOrchestrator
	sagaRepo     *memorySagaRepository
	outbox       *recordingOutbox
	scheduler    *recordingScheduler
}

func newFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	sagaRepo := newMemorySagaRepository()
	outbox := &recordingOutbox{}
	scheduler := &recordingScheduler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orchestrator := NewRegistrationOrchestrator(
		Config{Timeout: 5 * time.Minute},
		fakeTxManager{},
		sagaRepo,
		outbox,
		scheduler,
		logger,
		nil,
	)
	return &orchestratorFixture{
		orchestrator: orchestrator,
		sagaRepo:     sagaRepo,
		outbox:       outbox,
		scheduler:    scheduler,
	}
}

func newStartEvent() *domain.RegistrationStarted {
	return &domain.RegistrationStarted{
		IntegrationEvent:  eventdomain.NewIntegrationEvent(domain.EventRegistrationStarted, "auth-service"),
		CorrelationID:     uuid.Must(uuid.NewV7()),
		Email:             "alice@example.com",
		EncryptedPassword: "encrypted",
		FullName:          "Alice Example",
		PhoneNumber:       "+5511999999999",
		OtpCode:           "123456",
		ExpiresInMinutes:  5,
	}
}

func (f *orchestratorFixture) state(t *testing.T, correlationID uuid.UUID) *domain.RegistrationState {
	t.Helper()
	state, err := f.sagaRepo.GetByCorrelationID(context.Background(), correlationID, false)
	require.NoError(t, err)
	return state
}

func TestRegistrationOrchestratorStart(t *testing.T) {
	t.Run("CreatesInstanceAndSchedulesTimeout", func(t *testing.T) {
		fixture := newFixture(t)
		start := newStartEvent()

		err := fixture.orchestrator.onRegistrationStarted(context.Background(), start)

		require.NoError(t, err)
		state := fixture.state(t, start.CorrelationID)
		assert.Equal(t, domain.StateStarted, state.CurrentState)
		assert.Equal(t, []string{domain.EventSendOtpNotification}, fixture.outbox.names())

		require.Len(t, fixture.scheduler.events, 1)
		timeout, ok := fixture.scheduler.events[0].(domain.RegistrationTimeout)
		require.True(t, ok)
		assert.Equal(t, start.CorrelationID, timeout.CorrelationID)
		require.NotNil(t, state.TimeoutTokenID)
		assert.Equal(t, *state.TimeoutTokenID, timeout.TimeoutTokenID)
		assert.Equal(t, 5*time.Minute, fixture.scheduler.delays[0])
	})

	t.Run("DuplicateStartIsIgnored", func(t *testing.T) {
		fixture := newFixture(t)
		start := newStartEvent()
		require.NoError(t, fixture.orchestrator.onRegistrationStarted(context.Background(), start))

		err := fixture.orchestrator.onRegistrationStarted(context.Background(), start)

		require.NoError(t, err)
		// Still exactly one OTP command. The duplicate re-arms the deadline
		// while the saga is waiting, always with the same token.
		assert.Equal(t, []string{domain.EventSendOtpNotification}, fixture.outbox.names())
		state := fixture.state(t, start.CorrelationID)
		require.NotNil(t, state.TimeoutTokenID)
		require.NotEmpty(t, fixture.scheduler.events)
		for _, event := range fixture.scheduler.events {
			timeout, ok := event.(domain.RegistrationTimeout)
			require.True(t, ok)
			assert.Equal(t, *state.TimeoutTokenID, timeout.TimeoutTokenID)
		}
	})

	t.Run("SchedulerFailureIsReported", func(t *testing.T) {
		fixture := newFixture(t)
		fixture.scheduler.err = errors.New("broker unreachable")
		start := newStartEvent()

		err := fixture.orchestrator.onRegistrationStarted(context.Background(), start)

		require.Error(t, err)
		// The instance committed with its token; only the schedule is missing.
		state := fixture.state(t, start.CorrelationID)
		assert.Equal(t, domain.StateStarted, state.CurrentState)
		require.NotNil(t, state.TimeoutTokenID)
		assert.Empty(t, fixture.scheduler.events)
	})

	t.Run("RedeliveredStartReschedulesLostTimeout", func(t *testing.T) {
		fixture := newFixture(t)
		fixture.scheduler.err = errors.New("broker unreachable")
		start := newStartEvent()
		require.Error(t, fixture.orchestrator.onRegistrationStarted(context.Background(), start))
		require.Empty(t, fixture.scheduler.events)

		// Broker is back; the redelivered start event arms the deadline.
		fixture.scheduler.err = nil
		err := fixture.orchestrator.onRegistrationStarted(context.Background(), start)

		require.NoError(t, err)
		state := fixture.state(t, start.CorrelationID)
		require.NotNil(t, state.TimeoutTokenID)
		require.Len(t, fixture.scheduler.events, 1)
		timeout, ok := fixture.scheduler.events[0].(domain.RegistrationTimeout)
		require.True(t, ok)
		assert.Equal(t, *state.TimeoutTokenID, timeout.TimeoutTokenID)
		// No second OTP command for the replay.
		assert.Equal(t, []string{domain.EventSendOtpNotification}, fixture.outbox.names())
	})

	t.Run("OutboxFailureAbortsCreation", func(t *testing.T) {
		fixture := newFixture(t)
		fixture.outbox.err = errors.New("insert failed")
		start := newStartEvent()

		err := fixture.orchestrator.onRegistrationStarted(context.Background(), start)

		require.Error(t, err)
		// No timeout scheduled for a saga that never committed.
		assert.Empty(t, fixture.scheduler.events)
	})
}

func TestRegistrationOrchestratorWorkflow(t *testing.T) {
	deliver := func(t *testing.T, fixture *orchestratorFixture, event any) {
		t.Helper()
		require.NoError(t, fixture.orchestrator.onWorkflowEvent(context.Background(), event))
	}

	t.Run("CompletesEndToEnd", func(t *testing.T) {
		fixture := newFixture(t)
		start := newStartEvent()
		require.NoError(t, fixture.orchestrator.onRegistrationStarted(context.Background(), start))
		assert.Equal(t, domain.StateStarted, fixture.state(t, start.CorrelationID).CurrentState)

		deliver(t, fixture, &domain.OtpSent{CorrelationID: start.CorrelationID, Success: true})
		assert.Equal(t, domain.StateOtpSent, fixture.state(t, start.CorrelationID).CurrentState)

		deliver(t, fixture, &domain.OtpVerified{CorrelationID: start.CorrelationID})
		assert.Equal(t, domain.StateOtpVerified, fixture.state(t, start.CorrelationID).CurrentState)
		assert.Contains(t, fixture.outbox.names(), domain.EventCreateAuthUser)

		authUserID := uuid.Must(uuid.NewV7())
		deliver(t, fixture, &domain.AuthUserCreated{
			CorrelationID: start.CorrelationID, UserID: authUserID, Success: true,
		})
		assert.Equal(t, domain.StateAuthUserCreated, fixture.state(t, start.CorrelationID).CurrentState)
		assert.Contains(t, fixture.outbox.names(), domain.EventCreateUserProfile)

		deliver(t, fixture, &domain.UserProfileCreated{
			CorrelationID: start.CorrelationID, UserProfileID: uuid.Must(uuid.NewV7()),
			UserID: authUserID, Success: true,
		})

		state := fixture.state(t, start.CorrelationID)
		assert.Equal(t, domain.StateUserProfileCreated, state.CurrentState)
		assert.True(t, state.IsCompleted)
		require.NotNil(t, state.CompletedAt)
		assert.Contains(t, fixture.outbox.names(), domain.EventSendWelcomeNotification)
		assert.Contains(t, fixture.outbox.names(), domain.EventRegistrationCompleted)
	})

	t.Run("UnknownCorrelationIDIsDiscarded", func(t *testing.T) {
		fixture := newFixture(t)

		err := fixture.orchestrator.onWorkflowEvent(context.Background(), &domain.OtpSent{
			CorrelationID: uuid.Must(uuid.NewV7()), Success: true,
		})

		require.NoError(t, err)
		assert.Empty(t, fixture.outbox.names())
	})

	t.Run("DuplicateDeliveryIsIdempotent", func(t *testing.T) {
		fixture := newFixture(t)
		start := newStartEvent()
		require.NoError(t, fixture.orchestrator.onRegistrationStarted(context.Background(), start))
		deliver(t, fixture, &domain.OtpSent{CorrelationID: start.CorrelationID, Success: true})
		deliver(t, fixture, &domain.OtpVerified{CorrelationID: start.CorrelationID})

		commandsBefore := len(fixture.outbox.names())
		deliver(t, fixture, &domain.OtpVerified{CorrelationID: start.CorrelationID})

		// Exactly one transition, exactly one CreateAuthUser command.
		assert.Equal(t, domain.StateOtpVerified, fixture.state(t, start.CorrelationID).CurrentState)
		assert.Len(t, fixture.outbox.names(), commandsBefore)
	})

	t.Run("TimeoutFailsSagaExactlyOnce", func(t *testing.T) {
		fixture := newFixture(t)
		start := newStartEvent()
		require.NoError(t, fixture.orchestrator.onRegistrationStarted(context.Background(), start))

		timeout, ok := fixture.scheduler.events[0].(domain.RegistrationTimeout)
		require.True(t, ok)

		deliver(t, fixture, &timeout)
		state := fixture.state(t, start.CorrelationID)
		assert.Equal(t, domain.StateFailed, state.CurrentState)
		assert.True(t, state.IsFailed)

		// A late OTP confirmation does not resurrect the saga.
		deliver(t, fixture, &domain.OtpSent{CorrelationID: start.CorrelationID, Success: true})
		assert.Equal(t, domain.StateFailed, fixture.state(t, start.CorrelationID).CurrentState)

		// The duplicate timeout is also a no-op.
		deliver(t, fixture, &timeout)
		assert.Equal(t, domain.StateFailed, fixture.state(t, start.CorrelationID).CurrentState)
	})

	t.Run("CompensationFlow", func(t *testing.T) {
		fixture := newFixture(t)
		start := newStartEvent()
		require.NoError(t, fixture.orchestrator.onRegistrationStarted(context.Background(), start))
		deliver(t, fixture, &domain.OtpSent{CorrelationID: start.CorrelationID, Success: true})
		deliver(t, fixture, &domain.OtpVerified{CorrelationID: start.CorrelationID})
		authUserID := uuid.Must(uuid.NewV7())
		deliver(t, fixture, &domain.AuthUserCreated{
			CorrelationID: start.CorrelationID, UserID: authUserID, Success: true,
		})

		deliver(t, fixture, &domain.UserProfileCreated{CorrelationID: start.CorrelationID, Success: false})
		assert.Equal(t, domain.StateRollingBack, fixture.state(t, start.CorrelationID).CurrentState)
		assert.Contains(t, fixture.outbox.names(), domain.EventDeleteAuthUser)

		deliver(t, fixture, &domain.AuthUserDeleted{
			CorrelationID: start.CorrelationID, UserID: authUserID, Success: true,
		})
		state := fixture.state(t, start.CorrelationID)
		assert.Equal(t, domain.StateRolledBack, state.CurrentState)
		assert.True(t, state.IsFailed)
		assert.Contains(t, fixture.outbox.names(), domain.EventRegistrationFailed)
	})
}

func TestRegistrationOrchestratorGetStatus(t *testing.T) {
	fixture := newFixture(t)
	start := newStartEvent()
	require.NoError(t, fixture.orchestrator.onRegistrationStarted(context.Background(), start))

	state, err := fixture.orchestrator.GetStatus(context.Background(), start.CorrelationID)

	require.NoError(t, err)
	assert.Equal(t, start.CorrelationID, state.CorrelationID)

	_, err = fixture.orchestrator.GetStatus(context.Background(), uuid.Must(uuid.NewV7()))
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}
