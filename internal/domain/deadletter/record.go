package deadletter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is a compensation case that exhausted its retries. Dead letters are
// the durability backstop for the in-memory attempt map: nothing is lost to a
// process restart, and cases can be reprocessed manually or by a later sweep.
type Record struct {
	EventID        uuid.UUID       `json:"event_id" bson:"event_id"`
	SagaID         uuid.UUID       `json:"saga_id" bson:"saga_id"`
	TradeID        uuid.UUID       `json:"trade_id" bson:"trade_id"`
	OrderID        uuid.UUID       `json:"order_id" bson:"order_id"`
	UserID         uuid.UUID       `json:"user_id" bson:"user_id"`
	ReservationID  uuid.UUID       `json:"reservation_id" bson:"reservation_id"`
	Reason         string          `json:"reason" bson:"reason"`
	Attempts       int             `json:"attempts" bson:"attempts"`
	Payload        json.RawMessage `json:"payload" bson:"payload"`
	DeadLetteredAt time.Time       `json:"dead_lettered_at" bson:"dead_lettered_at"`
}

// Store persists dead-lettered compensation cases and the per-saga attempt
// counters that decide when a case is exhausted. Counters live here rather
// than in process memory so a restart cannot reset a failing case back to
// attempt one.
type Store interface {
	Save(ctx context.Context, record *Record) error
	GetByTradeID(ctx context.Context, tradeID uuid.UUID) ([]*Record, error)
	Count(ctx context.Context) (int64, error)

	// IncrementAttempts durably bumps the attempt counter for a saga and
	// returns the new count.
	IncrementAttempts(ctx context.Context, sagaID uuid.UUID) (int, error)

	// ClearAttempts discards the counter once the case is resolved or filed.
	ClearAttempts(ctx context.Context, sagaID uuid.UUID) error
}
