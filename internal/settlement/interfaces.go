package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tradewind-settlement/internal/domain/account"
)

// TxExecutor runs functions inside database transactions. Satisfied by
// persistence.PostgresDB; abstracted for testing.
type TxExecutor interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	ExecuteLockedTx(ctx context.Context, lockTimeout string, fn func(tx pgx.Tx) error) error
}

// ReserveCashRequest asks for a provisional hold on a user's available cash.
// TradeID may be zero when the trade is not yet known at reservation time.
type ReserveCashRequest struct {
	UserID  uuid.UUID
	OrderID uuid.UUID
	TradeID uuid.UUID
	Amount  decimal.Decimal
	TraceID string
}

// ReserveStocksRequest asks for a provisional hold on a user's shares
type ReserveStocksRequest struct {
	UserID   uuid.UUID
	OrderID  uuid.UUID
	TradeID  uuid.UUID
	Symbol   string
	Quantity decimal.Decimal
	TraceID  string
}

// ReservationDecision is the tagged outcome of a reservation attempt.
// Insufficient balance is an expected business case reported here, never an
// error: Outcome is SUCCESS, INSUFFICIENT_FUNDS or INSUFFICIENT_SHARES.
type ReservationDecision struct {
	Outcome       string          `json:"outcome"`
	ReservationID uuid.UUID       `json:"reservation_id,omitempty"`
	SagaID        uuid.UUID       `json:"saga_id,omitempty"`
	Required      decimal.Decimal `json:"required"`
	Available     decimal.Decimal `json:"available"`
}

// Accepted reports whether the hold was placed
func (d *ReservationDecision) Accepted() bool {
	return d.Outcome == string(account.ReserveOutcomeSuccess)
}

// ConfirmReservationRequest makes a prior hold permanent
type ConfirmReservationRequest struct {
	ReservationID uuid.UUID
	SagaID        uuid.UUID
	TradeID       uuid.UUID
	TraceID       string
}

// SettleTradeRequest clears both legs of a matched trade atomically
type SettleTradeRequest struct {
	TradeID             uuid.UUID
	BuyerID             uuid.UUID
	SellerID            uuid.UUID
	BuyerReservationID  uuid.UUID
	SellerReservationID uuid.UUID
	Symbol              string
	Quantity            decimal.Decimal
	GrossAmount         decimal.Decimal
	TraceID             string
}

// Service is the settlement core: every mutation commits atomically with its
// transaction-log entry and outbox event in one local database transaction.
type Service interface {
	CreateAccount(ctx context.Context, userID uuid.UUID, initialBalance decimal.Decimal) (*account.Account, error)
	GetAccount(ctx context.Context, userID uuid.UUID) (*account.Account, error)
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, traceID string) (*account.Account, error)

	ReserveCash(ctx context.Context, req *ReserveCashRequest) (*ReservationDecision, error)
	ReserveStocks(ctx context.Context, req *ReserveStocksRequest) (*ReservationDecision, error)
	ConfirmReservation(ctx context.Context, req *ConfirmReservationRequest) error

	// ReleaseReservation returns the hold backing an order, if one is still
	// active. Releasing when nothing is held is a no-op, not an error; the
	// boolean reports whether funds actually moved back.
	ReleaseReservation(ctx context.Context, userID, orderID uuid.UUID, reason, traceID string) (bool, error)

	SettleTrade(ctx context.Context, req *SettleTradeRequest) error

	// ExpireStaleReservations force-expires ACTIVE reservations created
	// before the cutoff, each in its own transaction; returns how many
	// were expired.
	ExpireStaleReservations(ctx context.Context, cutoff time.Time, limit int) (int, error)

	// AbortSaga walks a live saga to COMPENSATED after its effects were
	// reversed, retrying transitions that lose the optimistic version race.
	AbortSaga(ctx context.Context, sagaID uuid.UUID, reason string) error
}
