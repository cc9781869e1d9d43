package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	eventdomain "github.com/allisson/relay/internal/eventbus/domain"
	outboxDomain "github.com/allisson/relay/internal/outbox/domain"
	"github.com/allisson/relay/internal/outbox/http/dto"
)

// MockOutboxUseCase is a mock implementation of usecase.UseCase
type MockOutboxUseCase struct {
	mock.Mock
}

func (m *MockOutboxUseCase) Enqueue(ctx context.Context, event eventdomain.Event, aggregateID string) error {
	args := m.Called(ctx, event, aggregateID)
	return args.Error(0)
}

func (m *MockOutboxUseCase) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockOutboxUseCase) ProcessEvents(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockOutboxUseCase) ListDeadEvents(ctx context.Context, offset, limit int) ([]*outboxDomain.OutboxEvent, error) {
	args := m.Called(ctx, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outboxDomain.OutboxEvent), args.Error(1)
}

func setupTestHandler(t *testing.T) (*OutboxHandler, *MockOutboxUseCase) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	mockUseCase := new(MockOutboxUseCase)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewOutboxHandler(mockUseCase, logger), mockUseCase
}

func createTestContext(path string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	return c, w
}

func TestOutboxHandler_ListDeadEventsHandler(t *testing.T) {
	t.Run("Success_DefaultLimit", func(t *testing.T) {
		handler, mockUseCase := setupTestHandler(t)

		errorMessage := "connection refused"
		dead := &outboxDomain.OutboxEvent{
			ID:            uuid.Must(uuid.NewV7()),
			EventType:     "RegistrationStarted",
			AggregateID:   uuid.Must(uuid.NewV7()).String(),
			Payload:       `{"email":"alice@example.com"}`,
			RetryCount:    3,
			MaxRetryCount: 3,
			ErrorMessage:  &errorMessage,
			CreatedAt:     time.Now().UTC(),
			UpdatedAt:     time.Now().UTC(),
		}
		mockUseCase.On("ListDeadEvents", mock.Anything, 0, 50).
			Return([]*outboxDomain.OutboxEvent{dead}, nil)

		c, w := createTestContext("/v1/outbox/dead")

		handler.ListDeadEventsHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)

		var response dto.ListDeadEventsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Len(t, response.Events, 1)
		assert.Equal(t, dead.ID.String(), response.Events[0].ID)
		assert.Equal(t, "RegistrationStarted", response.Events[0].EventType)
		assert.Equal(t, 3, response.Events[0].RetryCount)
		require.NotNil(t, response.Events[0].ErrorMessage)
		assert.Equal(t, "connection refused", *response.Events[0].ErrorMessage)
	})

	t.Run("Success_ExplicitPagination", func(t *testing.T) {
		handler, mockUseCase := setupTestHandler(t)

		mockUseCase.On("ListDeadEvents", mock.Anything, 20, 10).
			Return([]*outboxDomain.OutboxEvent{}, nil)

		c, w := createTestContext("/v1/outbox/dead?offset=20&limit=10")

		handler.ListDeadEventsHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("Error_InvalidLimit", func(t *testing.T) {
		handler, mockUseCase := setupTestHandler(t)

		c, w := createTestContext("/v1/outbox/dead?limit=0")

		handler.ListDeadEventsHandler(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockUseCase.AssertNotCalled(t, "ListDeadEvents", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Error_InvalidOffset", func(t *testing.T) {
		handler, mockUseCase := setupTestHandler(t)

		c, w := createTestContext("/v1/outbox/dead?offset=-1")

		handler.ListDeadEventsHandler(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockUseCase.AssertNotCalled(t, "ListDeadEvents", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Error_UseCaseFailure", func(t *testing.T) {
		handler, mockUseCase := setupTestHandler(t)

		mockUseCase.On("ListDeadEvents", mock.Anything, 0, 50).Return(nil, assert.AnError)

		c, w := createTestContext("/v1/outbox/dead")

		handler.ListDeadEventsHandler(c)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
