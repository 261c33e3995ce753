package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages saga state persistence
type Repository interface {
	Create(ctx context.Context, instance *Instance) error
	GetBySagaID(ctx context.Context, sagaID uuid.UUID) (*Instance, error)
	GetByTradeID(ctx context.Context, tradeID uuid.UUID) ([]*Instance, error)

	// Update persists a transition guarded by the optimistic version;
	// returns ErrVersionConflict when the row moved underneath the caller.
	Update(ctx context.Context, instance *Instance) error

	// FindExpired returns non-terminal sagas whose deadline passed before now.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*Instance, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrSagaNotFound indicates missing saga instance
type ErrSagaNotFound struct {
	SagaID uuid.UUID
}

func (e ErrSagaNotFound) Error() string {
	return "saga not found: " + e.SagaID.String()
}

// ErrVersionConflict indicates a transition lost the optimistic version race;
// the caller re-reads and retries rather than dropping the transition.
type ErrVersionConflict struct {
	SagaID uuid.UUID
}

func (e ErrVersionConflict) Error() string {
	return "saga version conflict: " + e.SagaID.String()
}
