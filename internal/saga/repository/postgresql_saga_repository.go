// Package repository provides data persistence implementations for saga state.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/allisson/relay/internal/database"
	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/saga/domain"
)

const sagaColumns = `correlation_id, current_state, email, encrypted_password, full_name, phone_number,
	otp_code, started_at, otp_sent_at, otp_verified_at, auth_user_created_at, user_profile_created_at,
	completed_at, error_message, is_completed, is_failed, timeout_token_id, auth_user_id,
	user_profile_id, created_at, updated_at`

// PostgreSQLSagaRepository handles registration saga persistence for PostgreSQL
type PostgreSQLSagaRepository struct {
	db *sql.DB
}

// NewPostgreSQLSagaRepository creates a new PostgreSQLSagaRepository
func NewPostgreSQLSagaRepository(db *sql.DB) *PostgreSQLSagaRepository {
	return &PostgreSQLSagaRepository{
		db: db,
	}
}

// Create inserts a new saga instance
func (r *PostgreSQLSagaRepository) Create(ctx context.Context, state *domain.RegistrationState) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO registration_saga_states (` + sagaColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
				  NOW(), NOW())`

	_, err := querier.ExecContext(ctx, query,
		state.CorrelationID, state.CurrentState, state.Email, state.EncryptedPassword, state.FullName,
		state.PhoneNumber, state.OtpCode, state.StartedAt, state.OtpSentAt, state.OtpVerifiedAt,
		state.AuthUserCreatedAt, state.UserProfileCreatedAt, state.CompletedAt, state.ErrorMessage,
		state.IsCompleted, state.IsFailed, state.TimeoutTokenID, state.AuthUserID, state.UserProfileID)

	return err
}

// GetByCorrelationID retrieves a saga instance. With forUpdate set, the row is
// locked for the duration of the surrounding transaction so concurrent event
// deliveries for the same saga serialize instead of racing.
func (r *PostgreSQLSagaRepository) GetByCorrelationID(
	ctx context.Context,
	correlationID uuid.UUID,
	forUpdate bool,
) (*domain.RegistrationState, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + sagaColumns + ` FROM registration_saga_states WHERE correlation_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var state domain.RegistrationState
	err := querier.QueryRowContext(ctx, query, correlationID).Scan(
		&state.CorrelationID, &state.CurrentState, &state.Email, &state.EncryptedPassword, &state.FullName,
		&state.PhoneNumber, &state.OtpCode, &state.StartedAt, &state.OtpSentAt, &state.OtpVerifiedAt,
		&state.AuthUserCreatedAt, &state.UserProfileCreatedAt, &state.CompletedAt, &state.ErrorMessage,
		&state.IsCompleted, &state.IsFailed, &state.TimeoutTokenID, &state.AuthUserID, &state.UserProfileID,
		&state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInstanceNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get saga instance")
	}

	return &state, nil
}

// Update persists a saga instance after a transition
func (r *PostgreSQLSagaRepository) Update(ctx context.Context, state *domain.RegistrationState) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE registration_saga_states
			  SET current_state = $1, otp_sent_at = $2, otp_verified_at = $3, auth_user_created_at = $4,
				  user_profile_created_at = $5, completed_at = $6, error_message = $7, is_completed = $8,
				  is_failed = $9, timeout_token_id = $10, auth_user_id = $11, user_profile_id = $12,
				  updated_at = NOW()
			  WHERE correlation_id = $13`

	_, err := querier.ExecContext(ctx, query,
		state.CurrentState, state.OtpSentAt, state.OtpVerifiedAt, state.AuthUserCreatedAt,
		state.UserProfileCreatedAt, state.CompletedAt, state.ErrorMessage, state.IsCompleted,
		state.IsFailed, state.TimeoutTokenID, state.AuthUserID, state.UserProfileID, state.CorrelationID)

	return err
}
