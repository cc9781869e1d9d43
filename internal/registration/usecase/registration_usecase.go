// Package usecase implements the entrypoint for the asynchronous registration
// workflow: it validates and accepts a request, then hands it to the saga via
// the outbox.
package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	pwdhash "github.com/allisson/go-pwdhash"
	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	"github.com/allisson/relay/internal/database"
	apperrors "github.com/allisson/relay/internal/errors"
	eventdomain "github.com/allisson/relay/internal/eventbus/domain"
	"github.com/allisson/relay/internal/metrics"
	sagaDomain "github.com/allisson/relay/internal/saga/domain"
	appValidation "github.com/allisson/relay/internal/validation"
)

// SourceService identifies this service on published events.
const SourceService = "registration-api"

// Config contains registration settings.
type Config struct {
	// OtpExpiry is how long the one-time passcode stays valid.
	OtpExpiry time.Duration
}

// StartRegistrationInput contains the input data for starting a registration
type StartRegistrationInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
}

// StartRegistrationOutput contains the result of accepting a registration.
// The workflow itself completes asynchronously; callers poll GetStatus.
type StartRegistrationOutput struct {
	CorrelationID uuid.UUID
}

// OutboxEnqueuer records an event for transactional publication.
type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, event eventdomain.Event, aggregateID string) error
}

// StatusReader exposes the persisted workflow state for a correlation id.
type StatusReader interface {
	GetStatus(ctx context.Context, correlationID uuid.UUID) (*sagaDomain.RegistrationState, error)
}

// UseCase defines the interface for registration operations
type UseCase interface {
	StartRegistration(ctx context.Context, input StartRegistrationInput) (*StartRegistrationOutput, error)
	GetStatus(ctx context.Context, correlationID uuid.UUID) (*sagaDomain.RegistrationState, error)
}

// RegistrationUseCase accepts registration requests and publishes the start
// event through the outbox, so acceptance and publication commit atomically.
type RegistrationUseCase struct {
	config         Config
	txManager      database.TxManager
	outbox         OutboxEnqueuer
	status         StatusReader
	passwordHasher *pwdhash.PasswordHasher
	logger         *slog.Logger
	metrics        metrics.BusinessMetrics
}

// NewRegistrationUseCase creates a new RegistrationUseCase
func NewRegistrationUseCase(
	config Config,
	txManager database.TxManager,
	outbox OutboxEnqueuer,
	status StatusReader,
	logger *slog.Logger,
	businessMetrics metrics.BusinessMetrics,
) (*RegistrationUseCase, error) {
	hasher, err := pwdhash.New(pwdhash.WithPolicy(pwdhash.PolicyInteractive))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to create password hasher")
	}
	if config.OtpExpiry <= 0 {
		config.OtpExpiry = 5 * time.Minute
	}
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}

	return &RegistrationUseCase{
		config:         config,
		txManager:      txManager,
		outbox:         outbox,
		status:         status,
		passwordHasher: hasher,
		logger:         logger,
		metrics:        businessMetrics,
	}, nil
}

// validateStartRegistrationInput validates the registration input using jellydator/validation
func (uc *RegistrationUseCase) validateStartRegistrationInput(input StartRegistrationInput) error {
	err := validation.ValidateStruct(&input,
		validation.Field(&input.Email,
			validation.Required.Error("email is required"),
			appValidation.NotBlank,
			appValidation.Email,
			validation.Length(5, 255).Error("email must be between 5 and 255 characters"),
		),
		validation.Field(&input.Password,
			validation.Required.Error("password is required"),
			validation.Length(8, 128).Error("password must be between 8 and 128 characters"),
			appValidation.PasswordStrength{
				MinLength:      8,
				RequireUpper:   true,
				RequireLower:   true,
				RequireNumber:  true,
				RequireSpecial: true,
			},
		),
		validation.Field(&input.FullName,
			validation.Required.Error("full name is required"),
			appValidation.NotBlank,
			validation.Length(1, 255).Error("full name must be between 1 and 255 characters"),
		),
		validation.Field(&input.PhoneNumber,
			validation.Required.Error("phone number is required"),
			appValidation.PhoneNumber,
		),
	)
	return appValidation.WrapValidationError(err)
}

// StartRegistration accepts a registration request. The password is hashed
// before anything leaves this process, then the start event is enqueued on the
// outbox so the saga receives it exactly when the acceptance commits.
func (uc *RegistrationUseCase) StartRegistration(
	ctx context.Context,
	input StartRegistrationInput,
) (*StartRegistrationOutput, error) {
	if err := uc.validateStartRegistrationInput(input); err != nil {
		return nil, err
	}

	hashedPassword, err := uc.passwordHasher.Hash([]byte(input.Password))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to hash password")
	}

	otpCode, err := generateOtpCode()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to generate otp code")
	}

	correlationID := uuid.Must(uuid.NewV7())
	event := &sagaDomain.RegistrationStarted{
		IntegrationEvent:  eventdomain.NewIntegrationEvent(sagaDomain.EventRegistrationStarted, SourceService),
		CorrelationID:     correlationID,
		Email:             strings.TrimSpace(strings.ToLower(input.Email)),
		EncryptedPassword: hashedPassword,
		FullName:          strings.TrimSpace(input.FullName),
		PhoneNumber:       strings.TrimSpace(input.PhoneNumber),
		OtpCode:           otpCode,
		ExpiresInMinutes:  int(uc.config.OtpExpiry.Minutes()),
	}

	err = uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		return uc.outbox.Enqueue(ctx, event, correlationID.String())
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("registration accepted",
		slog.String("correlation_id", correlationID.String()),
	)
	uc.metrics.RecordOperation(ctx, "registration", "start", "success")

	return &StartRegistrationOutput{CorrelationID: correlationID}, nil
}

// GetStatus returns the current workflow state for a correlation id.
func (uc *RegistrationUseCase) GetStatus(
	ctx context.Context,
	correlationID uuid.UUID,
) (*sagaDomain.RegistrationState, error) {
	return uc.status.GetStatus(ctx, correlationID)
}

// generateOtpCode returns a random six digit passcode.
func generateOtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
