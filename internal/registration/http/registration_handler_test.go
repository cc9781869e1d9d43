package http

import (
	"bytes"
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

	"github.com/allisson/relay/internal/registration/http/dto"
	registrationUseCase "github.com/allisson/relay/internal/registration/usecase"
	sagaDomain "github.com/allisson/relay/internal/saga/domain"
)

// MockRegistrationUseCase is a mock implementation of usecase.UseCase
type MockRegistrationUseCase struct {
	mock.Mock
}

func (m *MockRegistrationUseCase) StartRegistration(
	ctx context.Context,
	input registrationUseCase.StartRegistrationInput,
) (*registrationUseCase.StartRegistrationOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registrationUseCase.StartRegistrationOutput), args.Error(1)
}

func (m *MockRegistrationUseCase) GetStatus(
	ctx context.Context,
	correlationID uuid.UUID,
) (*sagaDomain.RegistrationState, error) {
	args := m.Called(ctx, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sagaDomain.RegistrationState), args.Error(1)
}

// setupTestHandler creates a test handler with mocked dependencies.
func setupTestHandler(t *testing.T) (*RegistrationHandler, *MockRegistrationUseCase) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	mockUseCase := new(MockRegistrationUseCase)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewRegistrationHandler(mockUseCase, logger), mockUseCase
}

func createTestContext(method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	return c, w
}

func TestRegistrationHandler_StartHandler(t *testing.T) {
	validRequest := dto.StartRegistrationRequest{
		Email:       "alice@example.com",
		Password:    "Sup3r-Secret!",
		FullName:    "Alice Smith",
		PhoneNumber: "+15551234567",
	}

	t.Run("Success_ValidRequest", func(t *testing.T) {
		handler, mockUseCase := setupTestHandler(t)
		correlationID := uuid.Must(uuid.NewV7())

		mockUseCase.On("StartRegistration", mock.Anything, registrationUseCase.StartRegistrationInput{
			Email:       validRequest.Email,
			Password:    validRequest.Password,
			FullName:    validRequest.FullName,
			PhoneNumber: validRequest.PhoneNumber,
		}).Return(&registrationUseCase.StartRegistrationOutput{CorrelationID: correlationID}, nil)

		c, w := createTestContext(http.MethodPost, "/v1/registrations", validRequest)

		handler.StartHandler(c)

		assert.Equal(t, http.StatusAccepted, w.Code)

		var response dto.StartRegistrationResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, correlationID.String(), response.CorrelationID)
		assert.Equal(t, "accepted", response.Status)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("Error_InvalidJSON", func(t *testing.T) {
		handler, mockUseCase := setupTestHandler(t)

		c, w := createTestContext(http.MethodPost, "/v1/registrations", nil)
		c.Request.Body = io.NopCloser(bytes.NewReader([]byte("invalid json")))

		handler.StartHandler(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockUseCase.AssertNotCalled(t, "StartRegistration", mock.Anything, mock.Anything)
	})

	t.Run("Error_WeakPassword", func(t *testing.T) {
		handler, mockUseCase := setupTestHandler(t)

		request := validRequest
		request.Password = "alllowercase"
		c, w := createTestContext(http.MethodPost, "/v1/registrations", request)

		handler.StartHandler(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockUseCase.AssertNotCalled(t, "StartRegistration", mock.Anything, mock.Anything)
	})

	t.Run("Error_UseCaseFailure", func(t *testing.T) {
		handler, mockUseCase := setupTestHandler(t)

		mockUseCase.On("StartRegistration", mock.Anything, mock.Anything).
			Return(nil, assert.AnError)

		c, w := createTestContext(http.MethodPost, "/v1/registrations", validRequest)

		handler.StartHandler(c)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRegistrationHandler_GetStatusHandler(t *testing.T) {
	t.Run("Success_CompletedWorkflow", func(t *testing.T) {
		handler, mockUseCase := setupTestHandler(t)
		correlationID := uuid.Must(uuid.NewV7())
		completedAt := time.Now().UTC()

		state := &sagaDomain.RegistrationState{
			CorrelationID: correlationID,
			CurrentState:  sagaDomain.StateUserProfileCreated,
			Email:         "alice@example.com",
			StartedAt:     completedAt.Add(-time.Minute),
			CompletedAt:   &completedAt,
			IsCompleted:   true,
		}
		mockUseCase.On("GetStatus", mock.Anything, correlationID).Return(state, nil)

		c, w := createTestContext(http.MethodGet, "/v1/registrations/"+correlationID.String(), nil)
		c.Params = gin.Params{{Key: "id", Value: correlationID.String()}}

		handler.GetStatusHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)

		var response dto.RegistrationStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, correlationID.String(), response.CorrelationID)
		assert.Equal(t, string(sagaDomain.StateUserProfileCreated), response.CurrentState)
		assert.True(t, response.IsCompleted)
		assert.NotNil(t, response.CompletedAt)
	})

	t.Run("Error_InvalidUUID", func(t *testing.T) {
		handler, mockUseCase := setupTestHandler(t)

		c, w := createTestContext(http.MethodGet, "/v1/registrations/not-a-uuid", nil)
		c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}

		handler.GetStatusHandler(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockUseCase.AssertNotCalled(t, "GetStatus", mock.Anything, mock.Anything)
	})

	t.Run("Error_UnknownCorrelationID", func(t *testing.T) {
		handler, mockUseCase := setupTestHandler(t)
		correlationID := uuid.Must(uuid.NewV7())

		mockUseCase.On("GetStatus", mock.Anything, correlationID).
			Return(nil, sagaDomain.ErrInstanceNotFound)

		c, w := createTestContext(http.MethodGet, "/v1/registrations/"+correlationID.String(), nil)
		c.Params = gin.Params{{Key: "id", Value: correlationID.String()}}

		handler.GetStatusHandler(c)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
