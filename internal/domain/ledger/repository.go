package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages transaction-log persistence. The log is append-only:
// there is deliberately no update or delete operation.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error

	// GetByUserID returns the user's full history in insertion order,
	// as the reconciliation auditor replays it.
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Entry, error)

	// GetRecentByUserID returns the newest entries first; used to attach
	// context to divergence alerts.
	GetRecentByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*Entry, error)

	WithTx(tx pgx.Tx) Repository
}
