package domain

import (
	"time"

	"github.com/google/uuid"

	eventdomain "github.com/allisson/relay/internal/eventbus/domain"
)

// SourceService is the envelope source for events the saga itself publishes.
const SourceService = "registration-saga"

// Event type names. These are wire-level routing keys shared with the other
// services; renaming one is a breaking protocol change.
const (
	EventRegistrationStarted     = "RegistrationStarted"
	EventOtpSent                 = "OtpSent"
	EventOtpVerified             = "OtpVerified"
	EventAuthUserCreated         = "AuthUserCreated"
	EventUserProfileCreated      = "UserProfileCreated"
	EventAuthUserDeleted         = "AuthUserDeleted"
	EventRegistrationTimeout     = "RegistrationTimeout"
	EventSendOtpNotification     = "SendOtpNotification"
	EventCreateAuthUser          = "CreateAuthUser"
	EventCreateUserProfile       = "CreateUserProfile"
	EventDeleteAuthUser          = "DeleteAuthUser"
	EventSendWelcomeNotification = "SendWelcomeNotification"
	EventRegistrationCompleted   = "RegistrationCompleted"
	EventRegistrationFailed      = "RegistrationFailed"
)

// RegistrationStarted kicks off a saga instance. Published by the auth
// service after it has validated the request and cached the OTP.
type RegistrationStarted struct {
	eventdomain.IntegrationEvent
	CorrelationID     uuid.UUID `json:"correlation_id"`
	Email             string    `json:"email"`
	EncryptedPassword string    `json:"encrypted_password"`
	FullName          string    `json:"full_name"`
	PhoneNumber       string    `json:"phone_number"`
	OtpCode           string    `json:"otp_code"`
	ExpiresInMinutes  int       `json:"expires_in_minutes"`
}

func (RegistrationStarted) EventName() string { return EventRegistrationStarted }

// OtpSent is the notification service's confirmation that the OTP went out.
type OtpSent struct {
	eventdomain.IntegrationEvent
	CorrelationID uuid.UUID `json:"correlation_id"`
	Success       bool      `json:"success"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	SentAt        time.Time `json:"sent_at"`
}

func (OtpSent) EventName() string { return EventOtpSent }

// OtpVerified is published by the auth service when the user submits the
// correct OTP.
type OtpVerified struct {
	eventdomain.IntegrationEvent
	CorrelationID uuid.UUID `json:"correlation_id"`
	Contact       string    `json:"contact"`
	VerifiedAt    time.Time `json:"verified_at"`
}

func (OtpVerified) EventName() string { return EventOtpVerified }

// AuthUserCreated is the auth service's response to CreateAuthUser.
type AuthUserCreated struct {
	eventdomain.IntegrationEvent
	CorrelationID uuid.UUID `json:"correlation_id"`
	UserID        uuid.UUID `json:"user_id"`
	Success       bool      `json:"success"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (AuthUserCreated) EventName() string { return EventAuthUserCreated }

// UserProfileCreated is the profile service's response to CreateUserProfile.
type UserProfileCreated struct {
	eventdomain.IntegrationEvent
	CorrelationID uuid.UUID `json:"correlation_id"`
	UserProfileID uuid.UUID `json:"user_profile_id"`
	UserID        uuid.UUID `json:"user_id"`
	Success       bool      `json:"success"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (UserProfileCreated) EventName() string { return EventUserProfileCreated }

// AuthUserDeleted is the auth service's response to the compensating
// DeleteAuthUser command. Deleting an already-deleted user reports Success.
type AuthUserDeleted struct {
	eventdomain.IntegrationEvent
	CorrelationID uuid.UUID `json:"correlation_id"`
	UserID        uuid.UUID `json:"user_id"`
	Success       bool      `json:"success"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	DeletedAt     time.Time `json:"deleted_at"`
}

func (AuthUserDeleted) EventName() string { return EventAuthUserDeleted }

// RegistrationTimeout is the broker-scheduled timeout message. The token ties
// it to one scheduling: a saga that advanced past the wait ignores a stale
// token instead of failing.
type RegistrationTimeout struct {
	eventdomain.IntegrationEvent
	CorrelationID  uuid.UUID `json:"correlation_id"`
	TimeoutTokenID uuid.UUID `json:"timeout_token_id"`
}

func (RegistrationTimeout) EventName() string { return EventRegistrationTimeout }

// SendOtpNotification commands the notification service to deliver the OTP.
type SendOtpNotification struct {
	eventdomain.IntegrationEvent
	CorrelationID    uuid.UUID `json:"correlation_id"`
	Contact          string    `json:"contact"`
	OtpCode          string    `json:"otp_code"`
	FullName         string    `json:"full_name"`
	ExpiresInMinutes int       `json:"expires_in_minutes"`
}

func (SendOtpNotification) EventName() string { return EventSendOtpNotification }

// CreateAuthUser commands the auth service to create the credential record.
type CreateAuthUser struct {
	eventdomain.IntegrationEvent
	CorrelationID     uuid.UUID `json:"correlation_id"`
	Email             string    `json:"email"`
	EncryptedPassword string    `json:"encrypted_password"`
	FullName          string    `json:"full_name"`
	PhoneNumber       string    `json:"phone_number"`
}

func (CreateAuthUser) EventName() string { return EventCreateAuthUser }

// CreateUserProfile commands the profile service to create the user profile.
type CreateUserProfile struct {
	eventdomain.IntegrationEvent
	CorrelationID uuid.UUID `json:"correlation_id"`
	UserID        uuid.UUID `json:"user_id"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	PhoneNumber   string    `json:"phone_number"`
}

func (CreateUserProfile) EventName() string { return EventCreateUserProfile }

// DeleteAuthUser is the compensating command issued when a later step fails
// after the auth user was created. It must be idempotent on the receiving side.
type DeleteAuthUser struct {
	eventdomain.IntegrationEvent
	CorrelationID uuid.UUID `json:"correlation_id"`
	UserID        uuid.UUID `json:"user_id"`
	Reason        string    `json:"reason"`
}

func (DeleteAuthUser) EventName() string { return EventDeleteAuthUser }

// SendWelcomeNotification commands the notification service after a
// successful registration.
type SendWelcomeNotification struct {
	eventdomain.IntegrationEvent
	CorrelationID uuid.UUID `json:"correlation_id"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
}

func (SendWelcomeNotification) EventName() string { return EventSendWelcomeNotification }

// RegistrationCompleted announces terminal success to interested services.
type RegistrationCompleted struct {
	eventdomain.IntegrationEvent
	CorrelationID uuid.UUID `json:"correlation_id"`
	UserID        uuid.UUID `json:"user_id"`
	Email         string    `json:"email"`
	CompletedAt   time.Time `json:"completed_at"`
}

func (RegistrationCompleted) EventName() string { return EventRegistrationCompleted }

// RegistrationFailed announces terminal failure, including compensated ones.
type RegistrationFailed struct {
	eventdomain.IntegrationEvent
	CorrelationID uuid.UUID `json:"correlation_id"`
	Email         string    `json:"email"`
	ErrorMessage  string    `json:"error_message"`
	FailureReason string    `json:"failure_reason"`
	FailedAt      time.Time `json:"failed_at"`
}

func (RegistrationFailed) EventName() string { return EventRegistrationFailed }
