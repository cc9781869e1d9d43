package repository

import (
	"context"
	"database/sql"

	"github.com/allisson/relay/internal/database"
	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/outbox/domain"
)

// MySQLOutboxEventRepository handles outbox event persistence for MySQL
type MySQLOutboxEventRepository struct {
	db *sql.DB
}

// NewMySQLOutboxEventRepository creates a new MySQLOutboxEventRepository
func NewMySQLOutboxEventRepository(db *sql.DB) *MySQLOutboxEventRepository {
	return &MySQLOutboxEventRepository{
		db: db,
	}
}

// Create inserts a new outbox event
func (r *MySQLOutboxEventRepository) Create(ctx context.Context, event *domain.OutboxEvent) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO outbox_events (id, event_type, aggregate_id, payload, retry_count, max_retry_count,
				  next_retry_at, error_message, processed_at, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`

	// Convert UUID to bytes for MySQL BINARY(16)
	uuidBytes, err := event.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal UUID")
	}

	_, err = querier.ExecContext(ctx, query, uuidBytes, event.EventType, event.AggregateID, event.Payload,
		event.RetryCount, event.MaxRetryCount, event.NextRetryAt, event.ErrorMessage, event.ProcessedAt)

	return err
}

// GetPendingEvents claims up to limit unpublished events that are due for an
// attempt, using FOR UPDATE SKIP LOCKED (MySQL 8+).
func (r *MySQLOutboxEventRepository) GetPendingEvents(
	ctx context.Context,
	limit int,
) ([]*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, event_type, aggregate_id, payload, retry_count, max_retry_count,
				  next_retry_at, error_message, processed_at, created_at, updated_at
			  FROM outbox_events
			  WHERE processed_at IS NULL
				AND retry_count < max_retry_count
				AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			  ORDER BY created_at ASC
			  LIMIT ?
			  FOR UPDATE SKIP LOCKED`

	rows, err := querier.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	return scanMySQLEvents(rows)
}

// GetDeadEvents returns events that exhausted their retries without being
// published, newest first.
func (r *MySQLOutboxEventRepository) GetDeadEvents(
	ctx context.Context,
	offset, limit int,
) ([]*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, event_type, aggregate_id, payload, retry_count, max_retry_count,
				  next_retry_at, error_message, processed_at, created_at, updated_at
			  FROM outbox_events
			  WHERE processed_at IS NULL
				AND retry_count >= max_retry_count
			  ORDER BY created_at DESC
			  LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	return scanMySQLEvents(rows)
}

// Update updates an outbox event
func (r *MySQLOutboxEventRepository) Update(ctx context.Context, event *domain.OutboxEvent) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET retry_count = ?, next_retry_at = ?, error_message = ?, processed_at = ?, updated_at = NOW()
			  WHERE id = ?`

	uuidBytes, err := event.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal UUID")
	}

	_, err = querier.ExecContext(ctx, query, event.RetryCount, event.NextRetryAt,
		event.ErrorMessage, event.ProcessedAt, uuidBytes)

	return err
}

func scanMySQLEvents(rows *sql.Rows) ([]*domain.OutboxEvent, error) {
	var events []*domain.OutboxEvent
	for rows.Next() {
		var (
			event   domain.OutboxEvent
			idBytes []byte
		)

		err := rows.Scan(&idBytes, &event.EventType, &event.AggregateID, &event.Payload,
			&event.RetryCount, &event.MaxRetryCount, &event.NextRetryAt, &event.ErrorMessage,
			&event.ProcessedAt, &event.CreatedAt, &event.UpdatedAt)
		if err != nil {
			return nil, err
		}

		// Convert bytes back to UUID
		if err := event.ID.UnmarshalBinary(idBytes); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal UUID")
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
