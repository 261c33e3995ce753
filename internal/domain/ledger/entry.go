package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType defines the balance-affecting operations recorded in the log
type EntryType string

const (
	EntryTypeBuy        EntryType = "BUY"
	EntryTypeSell       EntryType = "SELL"
	EntryTypeDeposit    EntryType = "DEPOSIT"
	EntryTypeWithdrawal EntryType = "WITHDRAWAL"
	EntryTypeRollback   EntryType = "ROLLBACK"
)

// Entry is an append-only, immutable record of a balance-affecting operation.
// It is the audit trail the reconciliation auditor replays and is never
// mutated or deleted.
type Entry struct {
	ID            int64           `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	TradeID       uuid.UUID       `json:"trade_id,omitempty"`
	Type          EntryType       `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	TraceID       string          `json:"trace_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
