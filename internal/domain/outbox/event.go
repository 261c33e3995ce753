package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tradewind-settlement/internal/domain/shared"
)

// Status tracks an event through publication. The change-relay drains rows
// still PENDING and flips them to PROCESSED once the broker confirmed the
// publish; a crash between publish and flip leaves the row PENDING, so it is
// republished and deduplicated downstream by event id.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessed Status = "PROCESSED"
	StatusFailed    Status = "FAILED"
)

// Event is an immutable event record appended in the same local transaction
// as the domain mutation it describes. ID is assigned by the store at insert
// time and only approximates commit order; EventID is the stable identity
// consumers deduplicate on.
type Event struct {
	ID            int64                `json:"id"`
	EventID       uuid.UUID            `json:"event_id"`
	AggregateID   uuid.UUID            `json:"aggregate_id"`
	AggregateType shared.AggregateType `json:"aggregate_type"`
	EventType     shared.EventType     `json:"event_type"`
	Payload       json.RawMessage      `json:"payload"`
	Status        Status               `json:"status"`
	CreatedAt     time.Time            `json:"created_at"`
}

// NewEvent serializes a domain event into an outbox record ready to be
// persisted alongside its business mutation. Event ids are UUIDv7 so they
// sort by creation time in consumer-side dedup stores.
func NewEvent(aggregateID uuid.UUID, aggregateType shared.AggregateType, eventType shared.EventType, payload interface{}) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	eventID, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:       eventID,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       raw,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}, nil
}

// Envelope converts the event to the broker wire format
func (e *Event) Envelope() shared.EventEnvelope {
	return shared.EventEnvelope{
		EventID:       e.EventID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     e.EventType,
		Payload:       e.Payload,
		CreatedAt:     e.CreatedAt,
	}
}
