package account

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrReservationResolved indicates a reservation was already confirmed,
// released or expired; a reservation is resolved exactly once.
var ErrReservationResolved = errors.New("reservation already resolved")

// ReservationStatus defines reservation lifecycle states
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// Reservation is a provisional hold correlated to the order and trade that
// caused it. An empty Symbol means Amount holds cash; a non-empty Symbol means
// Amount holds a share quantity in that symbol.
type Reservation struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"user_id"`
	OrderID   uuid.UUID         `json:"order_id"`
	TradeID   uuid.UUID         `json:"trade_id,omitempty"`
	Symbol    string            `json:"symbol,omitempty"`
	Amount    decimal.Decimal   `json:"amount"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewReservation creates an ACTIVE cash hold
func NewReservation(id, userID, orderID uuid.UUID, amount decimal.Decimal) *Reservation {
	now := time.Now()
	return &Reservation{
		ID:        id,
		UserID:    userID,
		OrderID:   orderID,
		Amount:    amount,
		Status:    ReservationStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewShareReservation creates an ACTIVE hold on a share quantity
func NewShareReservation(id, userID, orderID uuid.UUID, symbol string, quantity decimal.Decimal) *Reservation {
	res := NewReservation(id, userID, orderID, quantity)
	res.Symbol = symbol
	return res
}

// IsShareHold reports whether the reservation holds shares rather than cash
func (r *Reservation) IsShareHold() bool {
	return r.Symbol != ""
}

// Confirm resolves the reservation as settled
func (r *Reservation) Confirm() error {
	return r.resolve(ReservationStatusConfirmed)
}

// Release resolves the reservation as undone, returning the hold
func (r *Reservation) Release() error {
	return r.resolve(ReservationStatusReleased)
}

// Expire resolves a stale reservation during forced cleanup
func (r *Reservation) Expire() error {
	return r.resolve(ReservationStatusExpired)
}

// IsActive reports whether the reservation still holds funds
func (r *Reservation) IsActive() bool {
	return r.Status == ReservationStatusActive
}

func (r *Reservation) resolve(status ReservationStatus) error {
	if r.Status != ReservationStatusActive {
		return ErrReservationResolved
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	return nil
}
