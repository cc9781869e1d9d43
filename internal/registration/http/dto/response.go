package dto

import (
	"time"

	sagaDomain "github.com/allisson/relay/internal/saga/domain"
)

// StartRegistrationResponse is returned when a registration is accepted. The
// workflow continues asynchronously; poll the status endpoint with the
// correlation id.
type StartRegistrationResponse struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

// RegistrationStatusResponse represents the current state of a registration workflow
type RegistrationStatusResponse struct {
	CorrelationID string     `json:"correlation_id"`
	CurrentState  string     `json:"current_state"`
	Email         string     `json:"email"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	IsCompleted   bool       `json:"is_completed"`
	IsFailed      bool       `json:"is_failed"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}

// MapStateToResponse converts a workflow state to its API representation.
// Credentials and the OTP never leave the service.
func MapStateToResponse(state *sagaDomain.RegistrationState) RegistrationStatusResponse {
	return RegistrationStatusResponse{
		CorrelationID: state.CorrelationID.String(),
		CurrentState:  string(state.CurrentState),
		Email:         state.Email,
		StartedAt:     state.StartedAt,
		CompletedAt:   state.CompletedAt,
		IsCompleted:   state.IsCompleted,
		IsFailed:      state.IsFailed,
		ErrorMessage:  state.ErrorMessage,
	}
}
