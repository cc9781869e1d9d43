// Package domain defines the registration saga: its persisted state, the
// events that drive it, and the pure transition machine.
package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/allisson/relay/internal/errors"
)

// ErrInstanceNotFound is returned when no saga instance exists for a
// correlation id.
var ErrInstanceNotFound = apperrors.Wrap(apperrors.ErrNotFound, "saga instance not found")

// State is the saga's current position in the registration workflow.
type State string

const (
	StateStarted            State = "Started"
	StateOtpSent            State = "OtpSent"
	StateOtpVerified        State = "OtpVerified"
	StateAuthUserCreated    State = "AuthUserCreated"
	StateUserProfileCreated State = "UserProfileCreated"
	StateRollingBack        State = "RollingBack"
	StateRolledBack         State = "RolledBack"
	StateFailed             State = "Failed"
)

// IsTerminal reports whether the state accepts no further events. A terminal
// saga ignores everything, which is what makes duplicate and late deliveries
// safe.
func (s State) IsTerminal() bool {
	switch s {
	case StateUserProfileCreated, StateRolledBack, StateFailed:
		return true
	}
	return false
}

// RegistrationState is one saga instance, persisted per correlation id. The
// correlation id is the business workflow id: every event for this
// registration carries it, and there is exactly one row per id.
type RegistrationState struct {
	CorrelationID uuid.UUID
	CurrentState  State

	Email             string
	EncryptedPassword string
	FullName          string
	PhoneNumber       string
	OtpCode           string

	// Milestone timestamps, set as each step completes.
	StartedAt            time.Time
	OtpSentAt            *time.Time
	OtpVerifiedAt        *time.Time
	AuthUserCreatedAt    *time.Time
	UserProfileCreatedAt *time.Time
	CompletedAt          *time.Time

	ErrorMessage *string
	IsCompleted  bool
	IsFailed     bool

	// TimeoutTokenID correlates the scheduled timeout message with this
	// instance. A timeout carrying a different token is stale and ignored.
	TimeoutTokenID *uuid.UUID

	// Foreign ids produced by downstream services.
	AuthUserID    *uuid.UUID
	UserProfileID *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal reports whether this instance accepts further events.
func (s *RegistrationState) IsTerminal() bool {
	return s.CurrentState.IsTerminal()
}

func (s *RegistrationState) setError(message string) {
	s.ErrorMessage = &message
}

func (s *RegistrationState) appendError(message string) {
	if s.ErrorMessage == nil {
		s.setError(message)
		return
	}
	combined := *s.ErrorMessage + " | " + message
	s.ErrorMessage = &combined
}

func (s *RegistrationState) fail(now time.Time, message string) {
	s.CurrentState = StateFailed
	s.IsFailed = true
	s.CompletedAt = &now
	s.setError(message)
}
