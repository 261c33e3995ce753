package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewind-settlement/internal/domain/account"
	"github.com/tradewind-settlement/internal/settlement"
)

// Monetary amounts travel as strings on the API surface; binary floating
// point never touches money.

// CreateAccountRequest provisions a settlement account
type CreateAccountRequest struct {
	UserID         string `json:"user_id" binding:"required,uuid"`
	InitialBalance string `json:"initial_balance" binding:"required"`
}

// DepositRequest adds funds to an account
type DepositRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// ReserveCashRequest places a hold on available cash
type ReserveCashRequest struct {
	UserID  string `json:"user_id" binding:"required,uuid"`
	OrderID string `json:"order_id" binding:"required,uuid"`
	TradeID string `json:"trade_id" binding:"omitempty,uuid"`
	Amount  string `json:"amount" binding:"required"`
}

// ReserveStocksRequest places a hold on a share position
type ReserveStocksRequest struct {
	UserID   string `json:"user_id" binding:"required,uuid"`
	OrderID  string `json:"order_id" binding:"required,uuid"`
	TradeID  string `json:"trade_id" binding:"omitempty,uuid"`
	Symbol   string `json:"symbol" binding:"required"`
	Quantity string `json:"quantity" binding:"required"`
}

// ConfirmReservationRequest makes a hold permanent
type ConfirmReservationRequest struct {
	ReservationID string `json:"reservation_id" binding:"required,uuid"`
	SagaID        string `json:"saga_id" binding:"omitempty,uuid"`
	TradeID       string `json:"trade_id" binding:"omitempty,uuid"`
}

// ReleaseReservationRequest returns the hold behind an order
type ReleaseReservationRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
	SagaID string `json:"saga_id" binding:"omitempty,uuid"`
	Reason string `json:"reason" binding:"omitempty"`
}

// SettleTradeRequest clears both legs of a matched trade
type SettleTradeRequest struct {
	TradeID             string `json:"trade_id" binding:"required,uuid"`
	BuyerID             string `json:"buyer_id" binding:"required,uuid"`
	SellerID            string `json:"seller_id" binding:"required,uuid"`
	BuyerReservationID  string `json:"buyer_reservation_id" binding:"required,uuid"`
	SellerReservationID string `json:"seller_reservation_id" binding:"required,uuid"`
	Symbol              string `json:"symbol" binding:"required"`
	Quantity            string `json:"quantity" binding:"required"`
	GrossAmount         string `json:"gross_amount" binding:"required"`
}

// AccountResponse is the API view of an account
type AccountResponse struct {
	UserID        string `json:"user_id"`
	CashBalance   string `json:"cash_balance"`
	AvailableCash string `json:"available_cash"`
	Version       int    `json:"version"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// ReservationDecisionResponse reports the outcome of a reservation attempt
type ReservationDecisionResponse struct {
	Outcome       string `json:"outcome"`
	ReservationID string `json:"reservation_id,omitempty"`
	SagaID        string `json:"saga_id,omitempty"`
	Required      string `json:"required"`
	Available     string `json:"available"`
}

// ReleaseResponse reports whether a release actually moved funds back
type ReleaseResponse struct {
	Released bool `json:"released"`
}

func mapAccountToResponse(acct *account.Account) AccountResponse {
	return AccountResponse{
		UserID:        acct.UserID.String(),
		CashBalance:   acct.CashBalance.String(),
		AvailableCash: acct.AvailableCash.String(),
		Version:       acct.Version,
		CreatedAt:     acct.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     acct.UpdatedAt.Format(time.RFC3339),
	}
}

func mapDecisionToResponse(decision *settlement.ReservationDecision) ReservationDecisionResponse {
	resp := ReservationDecisionResponse{
		Outcome:   decision.Outcome,
		Required:  decision.Required.String(),
		Available: decision.Available.String(),
	}
	if decision.Accepted() {
		resp.ReservationID = decision.ReservationID.String()
		resp.SagaID = decision.SagaID.String()
	}
	return resp
}

// parseAmount validates a positive decimal string
func parseAmount(raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return decimal.Decimal{}, false
	}
	return amount, true
}
