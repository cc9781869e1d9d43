package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	eventdomain "github.com/allisson/relay/internal/eventbus/domain"
)

// Outcome is the result of feeding one event to a saga instance. Changed
// signals that the instance mutated and must be persisted; Commands are the
// follow-up messages to enqueue in the same transaction; ScheduleTimeout asks
// the caller to schedule a RegistrationTimeout for the instance's token after
// the transaction commits.
type Outcome struct {
	Changed         bool
	Commands        []eventdomain.Event
	ScheduleTimeout bool
}

func ignored() Outcome { return Outcome{} }

// StartRegistration creates a new saga instance from its start event and
// returns the commands that accompany it: the OTP notification plus a
// scheduled timeout covering the whole workflow.
func StartRegistration(event *RegistrationStarted, now time.Time) (*RegistrationState, Outcome) {
	token := uuid.Must(uuid.NewV7())

	state := &RegistrationState{
		CorrelationID:     event.CorrelationID,
		CurrentState:      StateStarted,
		Email:             event.Email,
		EncryptedPassword: event.EncryptedPassword,
		FullName:          event.FullName,
		PhoneNumber:       event.PhoneNumber,
		OtpCode:           event.OtpCode,
		StartedAt:         now,
		TimeoutTokenID:    &token,
	}

	outcome := Outcome{
		Changed:         true,
		ScheduleTimeout: true,
		Commands: []eventdomain.Event{
			SendOtpNotification{
				IntegrationEvent: eventdomain.NewIntegrationEvent(EventSendOtpNotification, SourceService),
				CorrelationID:    event.CorrelationID,
				Contact:          event.Email,
				OtpCode:          event.OtpCode,
				FullName:         event.FullName,
				ExpiresInMinutes: event.ExpiresInMinutes,
			},
		},
	}
	return state, outcome
}

// Apply feeds one event into an existing saga instance and returns what to do
// about it. It is a pure transition function: current state and event type
// select the transition, anything else is an explicit no-op. Terminal
// instances ignore every event, which makes duplicate, late, and out-of-order
// deliveries safe without message-level deduplication.
func Apply(state *RegistrationState, event any, now time.Time) Outcome {
	if state.IsTerminal() {
		return ignored()
	}

	switch e := event.(type) {
	case *RegistrationStarted:
		// Duplicate start for an existing instance.
		return ignored()
	case *OtpSent:
		return state.applyOtpSent(e, now)
	case *OtpVerified:
		return state.applyOtpVerified(now)
	case *AuthUserCreated:
		return state.applyAuthUserCreated(e, now)
	case *UserProfileCreated:
		return state.applyUserProfileCreated(e, now)
	case *AuthUserDeleted:
		return state.applyAuthUserDeleted(e, now)
	case *RegistrationTimeout:
		return state.applyTimeout(e, now)
	}
	return ignored()
}

func (s *RegistrationState) applyOtpSent(event *OtpSent, now time.Time) Outcome {
	if s.CurrentState != StateStarted {
		return ignored()
	}

	if !event.Success {
		reason := "otp delivery failed"
		if event.ErrorMessage != nil {
			reason = fmt.Sprintf("otp delivery failed: %s", *event.ErrorMessage)
		}
		return s.failWith(now, reason)
	}

	s.CurrentState = StateOtpSent
	s.OtpSentAt = &now
	return Outcome{Changed: true}
}

func (s *RegistrationState) applyOtpVerified(now time.Time) Outcome {
	if s.CurrentState != StateOtpSent {
		return ignored()
	}

	s.CurrentState = StateOtpVerified
	s.OtpVerifiedAt = &now

	return Outcome{
		Changed: true,
		Commands: []eventdomain.Event{
			CreateAuthUser{
				IntegrationEvent:  eventdomain.NewIntegrationEvent(EventCreateAuthUser, SourceService),
				CorrelationID:     s.CorrelationID,
				Email:             s.Email,
				EncryptedPassword: s.EncryptedPassword,
				FullName:          s.FullName,
				PhoneNumber:       s.PhoneNumber,
			},
		},
	}
}

func (s *RegistrationState) applyAuthUserCreated(event *AuthUserCreated, now time.Time) Outcome {
	if s.CurrentState != StateOtpVerified {
		return ignored()
	}

	if !event.Success {
		reason := "auth user creation failed"
		if event.ErrorMessage != nil {
			reason = fmt.Sprintf("auth user creation failed: %s", *event.ErrorMessage)
		}
		return s.failWith(now, reason)
	}

	userID := event.UserID
	s.CurrentState = StateAuthUserCreated
	s.AuthUserID = &userID
	s.AuthUserCreatedAt = &now

	return Outcome{
		Changed: true,
		Commands: []eventdomain.Event{
			CreateUserProfile{
				IntegrationEvent: eventdomain.NewIntegrationEvent(EventCreateUserProfile, SourceService),
				CorrelationID:    s.CorrelationID,
				UserID:           userID,
				Email:            s.Email,
				FullName:         s.FullName,
				PhoneNumber:      s.PhoneNumber,
			},
		},
	}
}

func (s *RegistrationState) applyUserProfileCreated(event *UserProfileCreated, now time.Time) Outcome {
	if s.CurrentState != StateAuthUserCreated {
		return ignored()
	}

	if !event.Success {
		reason := "user profile creation failed"
		if event.ErrorMessage != nil {
			reason = fmt.Sprintf("user profile creation failed: %s", *event.ErrorMessage)
		}
		s.setError(reason)
		return s.rollBack("user profile creation failed")
	}

	profileID := event.UserProfileID
	s.CurrentState = StateUserProfileCreated
	s.UserProfileID = &profileID
	s.UserProfileCreatedAt = &now
	s.CompletedAt = &now
	s.IsCompleted = true
	s.TimeoutTokenID = nil

	var userID uuid.UUID
	if s.AuthUserID != nil {
		userID = *s.AuthUserID
	}

	return Outcome{
		Changed: true,
		Commands: []eventdomain.Event{
			SendWelcomeNotification{
				IntegrationEvent: eventdomain.NewIntegrationEvent(EventSendWelcomeNotification, SourceService),
				CorrelationID:    s.CorrelationID,
				Email:            s.Email,
				FullName:         s.FullName,
			},
			RegistrationCompleted{
				IntegrationEvent: eventdomain.NewIntegrationEvent(EventRegistrationCompleted, SourceService),
				CorrelationID:    s.CorrelationID,
				UserID:           userID,
				Email:            s.Email,
				CompletedAt:      now,
			},
		},
	}
}

func (s *RegistrationState) applyAuthUserDeleted(event *AuthUserDeleted, now time.Time) Outcome {
	if s.CurrentState != StateRollingBack {
		return ignored()
	}

	if !event.Success {
		reason := "auth user deletion failed"
		if event.ErrorMessage != nil {
			reason = fmt.Sprintf("auth user deletion failed: %s", *event.ErrorMessage)
		}
		s.appendError(reason)
		s.CurrentState = StateFailed
		s.IsFailed = true
		s.CompletedAt = &now
		return Outcome{Changed: true, Commands: s.failureAnnouncement(now, reason)}
	}

	s.CurrentState = StateRolledBack
	s.IsFailed = true
	s.CompletedAt = &now
	return Outcome{Changed: true, Commands: s.failureAnnouncement(now, "rolled back")}
}

// applyTimeout fails the saga if the scheduled timeout is still relevant. A
// token mismatch means the message belongs to an older scheduling and is
// ignored. A timeout after the auth user exists triggers compensation first.
func (s *RegistrationState) applyTimeout(event *RegistrationTimeout, now time.Time) Outcome {
	if s.TimeoutTokenID == nil || *s.TimeoutTokenID != event.TimeoutTokenID {
		return ignored()
	}

	reason := fmt.Sprintf("registration timed out in state %s", s.CurrentState)

	if s.CurrentState == StateAuthUserCreated || s.CurrentState == StateRollingBack {
		s.setError(reason)
		return s.rollBack(reason)
	}
	return s.failWith(now, reason)
}

func (s *RegistrationState) failWith(now time.Time, reason string) Outcome {
	s.fail(now, reason)
	return Outcome{Changed: true, Commands: s.failureAnnouncement(now, reason)}
}

// rollBack moves the saga into compensation: the auth user created earlier
// must be deleted before the instance can settle in RolledBack.
func (s *RegistrationState) rollBack(reason string) Outcome {
	if s.CurrentState == StateRollingBack {
		return Outcome{Changed: true}
	}
	s.CurrentState = StateRollingBack

	var userID uuid.UUID
	if s.AuthUserID != nil {
		userID = *s.AuthUserID
	}

	return Outcome{
		Changed: true,
		Commands: []eventdomain.Event{
			DeleteAuthUser{
				IntegrationEvent: eventdomain.NewIntegrationEvent(EventDeleteAuthUser, SourceService),
				CorrelationID:    s.CorrelationID,
				UserID:           userID,
				Reason:           reason,
			},
		},
	}
}

func (s *RegistrationState) failureAnnouncement(now time.Time, reason string) []eventdomain.Event {
	message := reason
	if s.ErrorMessage != nil {
		message = *s.ErrorMessage
	}
	return []eventdomain.Event{
		RegistrationFailed{
			IntegrationEvent: eventdomain.NewIntegrationEvent(EventRegistrationFailed, SourceService),
			CorrelationID:    s.CorrelationID,
			Email:            s.Email,
			ErrorMessage:     message,
			FailureReason:    reason,
			FailedAt:         now,
		},
	}
}
