// Package dto provides data transfer objects for the outbox HTTP layer.
package dto

import (
	"encoding/json"
	"time"

	outboxDomain "github.com/allisson/relay/internal/outbox/domain"
)

// DeadEventResponse represents an outbox event that exhausted its retries
type DeadEventResponse struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	AggregateID  string          `json:"aggregate_id"`
	Payload      json.RawMessage `json:"payload"`
	RetryCount   int             `json:"retry_count"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ListDeadEventsResponse wraps the dead event list
type ListDeadEventsResponse struct {
	Events []DeadEventResponse `json:"events"`
}

// MapDeadEventsToResponse converts dead outbox events to their API representation.
func MapDeadEventsToResponse(events []*outboxDomain.OutboxEvent) ListDeadEventsResponse {
	response := ListDeadEventsResponse{
		Events: make([]DeadEventResponse, 0, len(events)),
	}
	for _, event := range events {
		response.Events = append(response.Events, DeadEventResponse{
			ID:           event.ID.String(),
			EventType:    event.EventType,
			AggregateID:  event.AggregateID,
			Payload:      json.RawMessage(event.Payload),
			RetryCount:   event.RetryCount,
			ErrorMessage: event.ErrorMessage,
			CreatedAt:    event.CreatedAt,
			UpdatedAt:    event.UpdatedAt,
		})
	}
	return response
}
