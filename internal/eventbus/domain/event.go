// Package domain defines the integration event envelope shared by every
// message that crosses a service boundary.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every message published on the bus. EventName is
// the wire-level event type and doubles as the AMQP routing key, so it is
// part of the cross-service naming contract.
type Event interface {
	EventName() string
}

// IntegrationEvent is the canonical envelope embedded by all concrete events.
// The id is globally unique and used as the idempotency key downstream.
type IntegrationEvent struct {
	ID            uuid.UUID `json:"id"`
	CreationDate  time.Time `json:"creation_date"`
	EventType     string    `json:"event_type"`
	SourceService string    `json:"source_service"`
}

// NewIntegrationEvent creates an envelope with a fresh id and timestamp.
func NewIntegrationEvent(eventType, sourceService string) IntegrationEvent {
	return IntegrationEvent{
		ID:            uuid.Must(uuid.NewV7()),
		CreationDate:  time.Now().UTC(),
		EventType:     eventType,
		SourceService: sourceService,
	}
}
