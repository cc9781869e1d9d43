// Package http provides HTTP handlers for the registration workflow.
package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/relay/internal/httputil"
	"github.com/allisson/relay/internal/registration/http/dto"
	registrationUseCase "github.com/allisson/relay/internal/registration/usecase"
)

// RegistrationHandler handles HTTP requests for the registration workflow.
type RegistrationHandler struct {
	registrationUseCase registrationUseCase.UseCase
	logger              *slog.Logger
}

// NewRegistrationHandler creates a new registration handler with required dependencies.
func NewRegistrationHandler(
	useCase registrationUseCase.UseCase,
	logger *slog.Logger,
) *RegistrationHandler {
	return &RegistrationHandler{
		registrationUseCase: useCase,
		logger:              logger,
	}
}

// StartHandler accepts a new registration request.
// POST /v1/registrations - Returns 202 Accepted with the correlation ID.
// The workflow completes asynchronously; clients poll the status endpoint.
func (h *RegistrationHandler) StartHandler(c *gin.Context) {
	var req dto.StartRegistrationRequest

	// Parse and bind JSON
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	// Validate request
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	input := registrationUseCase.StartRegistrationInput{
		Email:       req.Email,
		Password:    req.Password,
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
	}

	output, err := h.registrationUseCase.StartRegistration(c.Request.Context(), input)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	response := dto.StartRegistrationResponse{
		CorrelationID: output.CorrelationID.String(),
		Status:        "accepted",
	}

	c.JSON(http.StatusAccepted, response)
}

// GetStatusHandler retrieves the current state of a registration workflow.
// GET /v1/registrations/:id - Returns 200 OK with the workflow state.
func (h *RegistrationHandler) GetStatusHandler(c *gin.Context) {
	correlationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.HandleValidationErrorGin(c,
			fmt.Errorf("invalid correlation ID format: must be a valid UUID"),
			h.logger)
		return
	}

	state, err := h.registrationUseCase.GetStatus(c.Request.Context(), correlationID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapStateToResponse(state))
}
