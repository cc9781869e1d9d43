// Package repository provides data persistence implementations for outbox events.
package repository

import (
	"context"
	"database/sql"

	"github.com/allisson/relay/internal/database"
	"github.com/allisson/relay/internal/outbox/domain"
)

// PostgreSQLOutboxEventRepository handles outbox event persistence for PostgreSQL
type PostgreSQLOutboxEventRepository struct {
	db *sql.DB
}

// NewPostgreSQLOutboxEventRepository creates a new PostgreSQLOutboxEventRepository
func NewPostgreSQLOutboxEventRepository(db *sql.DB) *PostgreSQLOutboxEventRepository {
	return &PostgreSQLOutboxEventRepository{
		db: db,
	}
}

// Create inserts a new outbox event
func (r *PostgreSQLOutboxEventRepository) Create(ctx context.Context, event *domain.OutboxEvent) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO outbox_events (id, event_type, aggregate_id, payload, retry_count, max_retry_count,
				  next_retry_at, error_message, processed_at, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`

	_, err := querier.ExecContext(ctx, query, event.ID, event.EventType, event.AggregateID, event.Payload,
		event.RetryCount, event.MaxRetryCount, event.NextRetryAt, event.ErrorMessage, event.ProcessedAt)

	return err
}

// GetPendingEvents claims up to limit unpublished events that are due for an
// attempt. Rows are locked with FOR UPDATE SKIP LOCKED so concurrent
// dispatchers never pick the same batch.
func (r *PostgreSQLOutboxEventRepository) GetPendingEvents(
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
			  LIMIT $1
			  FOR UPDATE SKIP LOCKED`

	rows, err := querier.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	return scanEvents(rows)
}

// GetDeadEvents returns events that exhausted their retries without being
// published, newest first. They are kept for operator inspection.
func (r *PostgreSQLOutboxEventRepository) GetDeadEvents(
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
			  LIMIT $1 OFFSET $2`

	rows, err := querier.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	return scanEvents(rows)
}

// Update updates an outbox event
func (r *PostgreSQLOutboxEventRepository) Update(ctx context.Context, event *domain.OutboxEvent) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET retry_count = $1, next_retry_at = $2, error_message = $3, processed_at = $4, updated_at = NOW()
			  WHERE id = $5`

	_, err := querier.ExecContext(ctx, query, event.RetryCount, event.NextRetryAt,
		event.ErrorMessage, event.ProcessedAt, event.ID)

	return err
}

func scanEvents(rows *sql.Rows) ([]*domain.OutboxEvent, error) {
	var events []*domain.OutboxEvent
	for rows.Next() {
		var event domain.OutboxEvent

		err := rows.Scan(&event.ID, &event.EventType, &event.AggregateID, &event.Payload,
			&event.RetryCount, &event.MaxRetryCount, &event.NextRetryAt, &event.ErrorMessage,
			&event.ProcessedAt, &event.CreatedAt, &event.UpdatedAt)
		if err != nil {
			return nil, err
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
