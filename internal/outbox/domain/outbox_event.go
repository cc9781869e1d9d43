// Package domain defines the transactional outbox entities.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is one event awaiting publication. It is written in the same
// database transaction as the state change it announces, so the event exists
// if and only if the change committed. A background dispatcher publishes it
// to the broker afterwards.
//
// Rows that exhaust their retries are never deleted: they stay unprocessed
// with their last error message so an operator can inspect and requeue them.
type OutboxEvent struct {
	ID            uuid.UUID
	EventType     string
	AggregateID   string
	Payload       string
	RetryCount    int
	MaxRetryCount int
	NextRetryAt   *time.Time
	ErrorMessage  *string
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DefaultMaxRetryCount bounds publish attempts before a row is parked for
// manual inspection.
const DefaultMaxRetryCount = 3

// NewOutboxEvent creates a pending outbox event for the given aggregate.
func NewOutboxEvent(eventType, aggregateID, payload string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.Must(uuid.NewV7()),
		EventType:     eventType,
		AggregateID:   aggregateID,
		Payload:       payload,
		MaxRetryCount: DefaultMaxRetryCount,
	}
}

// IsProcessed reports whether the event was successfully published.
func (e *OutboxEvent) IsProcessed() bool {
	return e.ProcessedAt != nil
}

// IsExhausted reports whether the event has used up all publish attempts.
func (e *OutboxEvent) IsExhausted() bool {
	return e.RetryCount >= e.MaxRetryCount
}

// MarkProcessed stamps the event as published.
func (e *OutboxEvent) MarkProcessed(now time.Time) {
	e.ProcessedAt = &now
	e.NextRetryAt = nil
	e.ErrorMessage = nil
}

// MarkFailed records a publish failure and schedules the next attempt with
// exponential backoff (base, 2*base, 4*base, ...). Exhausted events keep the
// error message and drop out of the pending query via IsExhausted.
func (e *OutboxEvent) MarkFailed(now time.Time, base time.Duration, publishErr error) {
	backoff := base * (1 << e.RetryCount)
	e.RetryCount++

	message := publishErr.Error()
	e.ErrorMessage = &message

	if e.IsExhausted() {
		e.NextRetryAt = nil
		return
	}
	next := now.Add(backoff)
	e.NextRetryAt = &next
}
