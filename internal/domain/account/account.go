package account

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradewind-settlement/internal/domain/shared"
)

// Common errors. These signal programming errors or invariant violations,
// never expected business outcomes: an insufficient balance is reported
// through ReserveResult, not through an error.
var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvariantViolation = errors.New("account invariant violated: 0 <= available_cash <= cash_balance")
)

// Account is the money bookkeeping entity for one user. CashBalance is the
// total owned; AvailableCash is owned minus reserved. The class invariant
// 0 <= AvailableCash <= CashBalance holds at every observable point.
type Account struct {
	UserID        uuid.UUID       `json:"user_id"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	AvailableCash decimal.Decimal `json:"available_cash"`
	Version       int             `json:"version"` // For optimistic locking
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewAccount creates an account seeded with an initial balance
func NewAccount(userID uuid.UUID, initialBalance decimal.Decimal) (*Account, error) {
	if initialBalance.IsNegative() {
		return nil, ErrInvalidAmount
	}
	initialBalance = shared.NormalizeAmount(initialBalance)

	return &Account{
		UserID:        userID,
		CashBalance:   initialBalance,
		AvailableCash: initialBalance,
		Version:       1,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}, nil
}

// ReserveOutcome tags the result of a reservation attempt
type ReserveOutcome string

const (
	ReserveOutcomeSuccess           ReserveOutcome = "SUCCESS"
	ReserveOutcomeInsufficientFunds ReserveOutcome = "INSUFFICIENT_FUNDS"
)

// ReserveResult is the tagged outcome of ReserveCash. Insufficient funds is an
// expected business case and carries the required/available amounts for the
// caller's response; it is not an error.
type ReserveResult struct {
	Outcome       ReserveOutcome
	ReservationID uuid.UUID
	Required      decimal.Decimal
	Available     decimal.Decimal
}

// Succeeded reports whether the reservation was placed
func (r ReserveResult) Succeeded() bool {
	return r.Outcome == ReserveOutcomeSuccess
}

// ReserveCash places a provisional hold on the account. On success
// AvailableCash is decremented and a fresh reservation id is returned;
// CashBalance is untouched until the reservation is confirmed.
func (a *Account) ReserveCash(amount decimal.Decimal) (ReserveResult, error) {
	if !amount.IsPositive() {
		return ReserveResult{}, ErrInvalidAmount
	}
	amount = shared.NormalizeAmount(amount)

	if a.AvailableCash.LessThan(amount) {
		return ReserveResult{
			Outcome:   ReserveOutcomeInsufficientFunds,
			Required:  amount,
			Available: a.AvailableCash,
		}, nil
	}

	a.AvailableCash = a.AvailableCash.Sub(amount)
	a.touch()

	return ReserveResult{
		Outcome:       ReserveOutcomeSuccess,
		ReservationID: uuid.New(),
		Required:      amount,
		Available:     a.AvailableCash,
	}, nil
}

// ConfirmReservation makes a prior hold permanent: the funds leave
// CashBalance. Calling this without a matching active reservation is a
// programming error and fails fast with ErrInvariantViolation.
func (a *Account) ConfirmReservation(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	amount = shared.NormalizeAmount(amount)

	newBalance := a.CashBalance.Sub(amount)
	if newBalance.IsNegative() || newBalance.LessThan(a.AvailableCash) {
		return ErrInvariantViolation
	}

	a.CashBalance = newBalance
	a.touch()
	return nil
}

// ReleaseReservation returns held funds to AvailableCash without touching
// CashBalance; used on compensation. Releasing more than is actually held
// would break the invariant and fails fast.
func (a *Account) ReleaseReservation(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	amount = shared.NormalizeAmount(amount)

	newAvailable := a.AvailableCash.Add(amount)
	if newAvailable.GreaterThan(a.CashBalance) {
		return ErrInvariantViolation
	}

	a.AvailableCash = newAvailable
	a.touch()
	return nil
}

// Deposit adds funds to both balances; used for seeding and top-ups
func (a *Account) Deposit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	amount = shared.NormalizeAmount(amount)

	a.CashBalance = a.CashBalance.Add(amount)
	a.AvailableCash = a.AvailableCash.Add(amount)
	a.touch()
	return nil
}

// IsConsistent re-checks the class invariant; used defensively by health
// checks and reconciliation
func (a *Account) IsConsistent() bool {
	return !a.AvailableCash.IsNegative() && a.AvailableCash.LessThanOrEqual(a.CashBalance)
}

func (a *Account) touch() {
	a.UpdatedAt = time.Now()
	a.Version++
}
