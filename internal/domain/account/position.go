package account

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Position tracks a user's holdings in one symbol, mirroring the cash side:
// Quantity is owned, AvailableQuantity is owned minus reserved.
type Position struct {
	UserID            uuid.UUID       `json:"user_id"`
	Symbol            string          `json:"symbol"`
	Quantity          decimal.Decimal `json:"quantity"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	Version           int             `json:"version"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ShareReserveOutcome tags the result of a share reservation attempt
type ShareReserveOutcome string

const (
	ShareReserveOutcomeSuccess            ShareReserveOutcome = "SUCCESS"
	ShareReserveOutcomeInsufficientShares ShareReserveOutcome = "INSUFFICIENT_SHARES"
)

// ShareReserveResult is the tagged outcome of ReserveShares
type ShareReserveResult struct {
	Outcome       ShareReserveOutcome
	ReservationID uuid.UUID
	Required      decimal.Decimal
	Available     decimal.Decimal
}

// Succeeded reports whether the share reservation was placed
func (r ShareReserveResult) Succeeded() bool {
	return r.Outcome == ShareReserveOutcomeSuccess
}

// ReserveShares places a provisional hold on the position
func (p *Position) ReserveShares(quantity decimal.Decimal) (ShareReserveResult, error) {
	if !quantity.IsPositive() {
		return ShareReserveResult{}, ErrInvalidAmount
	}

	if p.AvailableQuantity.LessThan(quantity) {
		return ShareReserveResult{
			Outcome:   ShareReserveOutcomeInsufficientShares,
			Required:  quantity,
			Available: p.AvailableQuantity,
		}, nil
	}

	p.AvailableQuantity = p.AvailableQuantity.Sub(quantity)
	p.Version++
	p.UpdatedAt = time.Now()

	return ShareReserveResult{
		Outcome:       ShareReserveOutcomeSuccess,
		ReservationID: uuid.New(),
		Required:      quantity,
		Available:     p.AvailableQuantity,
	}, nil
}

// ConfirmShares makes a prior hold permanent: the shares leave Quantity.
// Calling this without a matching active hold fails fast.
func (p *Position) ConfirmShares(quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return ErrInvalidAmount
	}

	newQuantity := p.Quantity.Sub(quantity)
	if newQuantity.IsNegative() || newQuantity.LessThan(p.AvailableQuantity) {
		return ErrInvariantViolation
	}

	p.Quantity = newQuantity
	p.Version++
	p.UpdatedAt = time.Now()
	return nil
}

// CreditShares adds settled shares to both quantities
func (p *Position) CreditShares(quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return ErrInvalidAmount
	}

	p.Quantity = p.Quantity.Add(quantity)
	p.AvailableQuantity = p.AvailableQuantity.Add(quantity)
	p.Version++
	p.UpdatedAt = time.Now()
	return nil
}

// ReleaseShares returns held shares to AvailableQuantity on compensation
func (p *Position) ReleaseShares(quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return ErrInvalidAmount
	}

	newAvailable := p.AvailableQuantity.Add(quantity)
	if newAvailable.GreaterThan(p.Quantity) {
		return ErrInvariantViolation
	}

	p.AvailableQuantity = newAvailable
	p.Version++
	p.UpdatedAt = time.Now()
	return nil
}
