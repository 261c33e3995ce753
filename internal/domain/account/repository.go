package account

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines account persistence operations
type Repository interface {
	Create(ctx context.Context, account *Account) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Account, error)
	Update(ctx context.Context, account *Account) error

	// LockForUpdate acquires a pessimistic, time-bounded row lock for
	// settlement processing. Must be called inside a transaction.
	LockForUpdate(ctx context.Context, userID uuid.UUID) (*Account, error)

	// ListUserIDs returns every account's user id; used by reconciliation.
	ListUserIDs(ctx context.Context) ([]uuid.UUID, error)

	WithTx(tx pgx.Tx) Repository
}

// ReservationRepository defines reservation persistence operations
type ReservationRepository interface {
	Create(ctx context.Context, reservation *Reservation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	GetActiveByOrderID(ctx context.Context, userID, orderID uuid.UUID) (*Reservation, error)
	Update(ctx context.Context, reservation *Reservation) error

	// FindExpiredActive returns ACTIVE reservations created before the cutoff,
	// eligible for forced expiry.
	FindExpiredActive(ctx context.Context, cutoff time.Time, limit int) ([]*Reservation, error)

	WithTx(tx pgx.Tx) ReservationRepository
}

// PositionRepository defines share-position persistence operations
type PositionRepository interface {
	Create(ctx context.Context, position *Position) error
	GetForUpdate(ctx context.Context, userID uuid.UUID, symbol string) (*Position, error)
	Update(ctx context.Context, position *Position) error
	WithTx(tx pgx.Tx) PositionRepository
}

// ErrAccountNotFound indicates missing account
type ErrAccountNotFound struct {
	UserID uuid.UUID
}

func (e ErrAccountNotFound) Error() string {
	return "account not found: " + e.UserID.String()
}

// ErrConcurrentModification indicates optimistic lock failure
type ErrConcurrentModification struct {
	UserID uuid.UUID
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification detected for account: " + e.UserID.String()
}

// ErrReservationNotFound indicates missing reservation
type ErrReservationNotFound struct {
	ID uuid.UUID
}

func (e ErrReservationNotFound) Error() string {
	return "reservation not found: " + e.ID.String()
}

// ErrPositionNotFound indicates missing position
type ErrPositionNotFound struct {
	UserID uuid.UUID
	Symbol string
}

func (e ErrPositionNotFound) Error() string {
	return "position not found: " + e.UserID.String() + "/" + e.Symbol
}

// ErrLockTimeout indicates the pessimistic row lock could not be acquired
// within the configured bound. Treated as a transient business failure: the
// current attempt fails and becomes eligible for the saga's retry logic.
type ErrLockTimeout struct {
	UserID uuid.UUID
}

func (e ErrLockTimeout) Error() string {
	return "lock acquisition timed out for account: " + e.UserID.String()
}
