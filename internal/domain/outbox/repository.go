package outbox

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages outbox event persistence. Create is the outbox writer's
// whole contract: it runs inside the caller's transaction and never touches
// the network.
type Repository interface {
	Create(ctx context.Context, event *Event) error

	// GetPending returns committed events still awaiting publication, oldest
	// id first. Selection is by status rather than by an id cursor: bigserial
	// ids are assigned at insert time, not commit time, so an id fence would
	// permanently skip a row that committed after a higher id became visible.
	GetPending(ctx context.Context, limit int) ([]*Event, error)

	// UpdateStatus marks an event's publishing state. Marking PROCESSED is
	// the relay's claim: it removes the row from the pending set.
	UpdateStatus(ctx context.Context, id int64, status Status) error

	GetByEventID(ctx context.Context, eventID uuid.UUID) (*Event, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrEventNotFound indicates missing outbox event
type ErrEventNotFound struct {
	ID int64
}

func (e ErrEventNotFound) Error() string {
	return "outbox event not found: " + strconv.FormatInt(e.ID, 10)
}
