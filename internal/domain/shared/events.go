package shared

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AggregateType identifies the aggregate an event belongs to
type AggregateType string

const (
	AggregateTypeAccount AggregateType = "ACCOUNT"
	AggregateTypeSaga    AggregateType = "SAGA"
	AggregateTypeTrade   AggregateType = "TRADE"
)

// EventType identifies the kind of domain event carried in an envelope
type EventType string

const (
	EventTypeCashReserved         EventType = "CASH_RESERVED"
	EventTypeSharesReserved       EventType = "SHARES_RESERVED"
	EventTypeReservationConfirmed EventType = "RESERVATION_CONFIRMED"
	EventTypeReservationReleased  EventType = "RESERVATION_RELEASED"
	EventTypeReservationExpired   EventType = "RESERVATION_EXPIRED"
	EventTypeDepositMade          EventType = "DEPOSIT_MADE"
	EventTypeTradeSettled         EventType = "TRADE_SETTLED"
	EventTypeSagaTimedOut         EventType = "SAGA_TIMED_OUT"
	EventTypeSagaFailed           EventType = "SAGA_FAILED"
	EventTypeCompensationTrigger  EventType = "COMPENSATION_TRIGGERED"
)

// EventEnvelope is the JSON message published to the broker for every relayed
// event. Payload is itself a JSON-serialized domain event specific to EventType.
// The broker partition key is AggregateID, so all events for one aggregate land
// in the same partition and keep their commit order.
type EventEnvelope struct {
	EventID       uuid.UUID       `json:"eventId"`
	AggregateID   uuid.UUID       `json:"aggregateId"`
	AggregateType AggregateType   `json:"aggregateType"`
	EventType     EventType       `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// CompensationTrigger instructs the compensation orchestrator to reverse a
// reservation. RetryHint tells the consumer whether the underlying cause is
// transient.
type CompensationTrigger struct {
	SagaID        uuid.UUID `json:"saga_id"`
	TradeID       uuid.UUID `json:"trade_id"`
	OrderID       uuid.UUID `json:"order_id"`
	UserID        uuid.UUID `json:"user_id"`
	ReservationID uuid.UUID `json:"reservation_id"`
	Reason        string    `json:"reason"`
	RetryHint     bool      `json:"retry_hint"`
	TraceID       string    `json:"trace_id,omitempty"`
}

// SagaTimeoutNotice is the generic observability event emitted alongside a
// compensation trigger so cross-service monitoring can alert on stalled sagas.
type SagaTimeoutNotice struct {
	SagaID    uuid.UUID `json:"saga_id"`
	TradeID   uuid.UUID `json:"trade_id"`
	OrderID   uuid.UUID `json:"order_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	TimeoutAt time.Time `json:"timeout_at"`
}

// OrderCreated is the payload emitted by the order layer when a new order
// enters the system; carried here for cross-service correlation.
type OrderCreated struct {
	OrderID  uuid.UUID `json:"order_id"`
	UserID   uuid.UUID `json:"user_id"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Quantity string    `json:"quantity"`
	Price    string    `json:"price,omitempty"`
	TraceID  string    `json:"trace_id"`
}

// ReservationEvent is the payload for reservation lifecycle events.
// Amounts travel as strings to avoid binary floating point on the wire.
type ReservationEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	SagaID        uuid.UUID `json:"saga_id,omitempty"`
	UserID        uuid.UUID `json:"user_id"`
	OrderID       uuid.UUID `json:"order_id"`
	TradeID       uuid.UUID `json:"trade_id,omitempty"`
	Symbol        string    `json:"symbol,omitempty"`
	Amount        string    `json:"amount"`
	Reason        string    `json:"reason,omitempty"`
	TraceID       string    `json:"trace_id,omitempty"`
}

// TradeSettled is the payload emitted after both legs of a trade clear.
type TradeSettled struct {
	TradeID     uuid.UUID `json:"trade_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	Symbol      string    `json:"symbol"`
	GrossAmount string    `json:"gross_amount"`
	TraceID     string    `json:"trace_id,omitempty"`
}
