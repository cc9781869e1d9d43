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

// MySQLSagaRepository handles registration saga persistence for MySQL
type MySQLSagaRepository struct {
	db *sql.DB
}

// NewMySQLSagaRepository creates a new MySQLSagaRepository
func NewMySQLSagaRepository(db *sql.DB) *MySQLSagaRepository {
	return &MySQLSagaRepository{
		db: db,
	}
}

// Create inserts a new saga instance
func (r *MySQLSagaRepository) Create(ctx context.Context, state *domain.RegistrationState) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO registration_saga_states (` + sagaColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`

	correlationID, err := state.CorrelationID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal UUID")
	}

	_, err = querier.ExecContext(ctx, query,
		correlationID, state.CurrentState, state.Email, state.EncryptedPassword, state.FullName,
		state.PhoneNumber, state.OtpCode, state.StartedAt, state.OtpSentAt, state.OtpVerifiedAt,
		state.AuthUserCreatedAt, state.UserProfileCreatedAt, state.CompletedAt, state.ErrorMessage,
		state.IsCompleted, state.IsFailed, uuidBytesOrNil(state.TimeoutTokenID),
		uuidBytesOrNil(state.AuthUserID), uuidBytesOrNil(state.UserProfileID))

	return err
}

// GetByCorrelationID retrieves a saga instance, optionally locking the row.
func (r *MySQLSagaRepository) GetByCorrelationID(
	ctx context.Context,
	correlationID uuid.UUID,
	forUpdate bool,
) (*domain.RegistrationState, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + sagaColumns + ` FROM registration_saga_states WHERE correlation_id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	idBytes, err := correlationID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal UUID")
	}

	var (
		state             domain.RegistrationState
		correlationBytes  []byte
		timeoutTokenBytes []byte
		authUserBytes     []byte
		userProfileBytes  []byte
	)
	err = querier.QueryRowContext(ctx, query, idBytes).Scan(
		&correlationBytes, &state.CurrentState, &state.Email, &state.EncryptedPassword, &state.FullName,
		&state.PhoneNumber, &state.OtpCode, &state.StartedAt, &state.OtpSentAt, &state.OtpVerifiedAt,
		&state.AuthUserCreatedAt, &state.UserProfileCreatedAt, &state.CompletedAt, &state.ErrorMessage,
		&state.IsCompleted, &state.IsFailed, &timeoutTokenBytes, &authUserBytes, &userProfileBytes,
		&state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInstanceNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get saga instance")
	}

	if err := state.CorrelationID.UnmarshalBinary(correlationBytes); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal UUID")
	}
	if state.TimeoutTokenID, err = uuidFromBytes(timeoutTokenBytes); err != nil {
		return nil, err
	}
	if state.AuthUserID, err = uuidFromBytes(authUserBytes); err != nil {
		return nil, err
	}
	if state.UserProfileID, err = uuidFromBytes(userProfileBytes); err != nil {
		return nil, err
	}

	return &state, nil
}

// Update persists a saga instance after a transition
func (r *MySQLSagaRepository) Update(ctx context.Context, state *domain.RegistrationState) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE registration_saga_states
			  SET current_state = ?, otp_sent_at = ?, otp_verified_at = ?, auth_user_created_at = ?,
				  user_profile_created_at = ?, completed_at = ?, error_message = ?, is_completed = ?,
				  is_failed = ?, timeout_token_id = ?, auth_user_id = ?, user_profile_id = ?,
				  updated_at = NOW()
			  WHERE correlation_id = ?`

	correlationID, err := state.CorrelationID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal UUID")
	}

	_, err = querier.ExecContext(ctx, query,
		state.CurrentState, state.OtpSentAt, state.OtpVerifiedAt, state.AuthUserCreatedAt,
		state.UserProfileCreatedAt, state.CompletedAt, state.ErrorMessage, state.IsCompleted,
		state.IsFailed, uuidBytesOrNil(state.TimeoutTokenID), uuidBytesOrNil(state.AuthUserID),
		uuidBytesOrNil(state.UserProfileID), correlationID)

	return err
}

// uuidBytesOrNil converts an optional UUID to BINARY(16) bytes, keeping NULLs.
func uuidBytesOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	bytes, err := id.MarshalBinary()
	if err != nil {
		return nil
	}
	return bytes
}

func uuidFromBytes(data []byte) (*uuid.UUID, error) {
	if data == nil {
		return nil, nil
	}
	var id uuid.UUID
	if err := id.UnmarshalBinary(data); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal UUID")
	}
	return &id, nil
}
