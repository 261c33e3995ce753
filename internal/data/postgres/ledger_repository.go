package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/tradewind-settlement/internal/domain/ledger"
	"github.com/tradewind-settlement/internal/platform/persistence"
)

// LedgerRepository implements the ledger.Repository interface for PostgreSQL.
// The transaction log is append-only; the repository exposes no update or
// delete operation on purpose.
type LedgerRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewLedgerRepository creates a new PostgreSQL transaction-log repository
func NewLedgerRepository(logger *slog.Logger, db *persistence.PostgresDB) ledger.Repository {
	return &LedgerRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so log entries commit
// atomically with the balance mutation they describe
func (r *LedgerRepository) WithTx(tx pgx.Tx) ledger.Repository {
	return &LedgerRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create appends an immutable entry to the transaction log
func (r *LedgerRepository) Create(ctx context.Context, entry *ledger.Entry) error {
	query := `
		INSERT INTO transaction_log (user_id, trade_id, type, amount, balance_before, balance_after, trace_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.querier.QueryRow(ctx, query,
		entry.UserID,
		nilIfZero(entry.TradeID),
		entry.Type,
		entry.Amount.String(),
		entry.BalanceBefore.String(),
		entry.BalanceAfter.String(),
		entry.TraceID,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		r.logger.Error("Failed to create transaction log entry", "user_id", entry.UserID.String(), "error", err)
		return fmt.Errorf("failed to create transaction log entry: %w", err)
	}

	return nil
}

// GetByUserID returns the user's full history in insertion order
func (r *LedgerRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*ledger.Entry, error) {
	query := entrySelect + ` WHERE user_id = $1 ORDER BY id ASC`
	return r.queryEntries(ctx, query, userID)
}

// GetRecentByUserID returns the newest entries first for alert context
func (r *LedgerRepository) GetRecentByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*ledger.Entry, error) {
	query := entrySelect + ` WHERE user_id = $1 ORDER BY id DESC LIMIT $2`
	return r.queryEntries(ctx, query, userID, limit)
}

const entrySelect = `
	SELECT id, user_id, trade_id, type, amount::text, balance_before::text, balance_after::text, trace_id, created_at
	FROM transaction_log`

func (r *LedgerRepository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*ledger.Entry, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query transaction log", "error", err)
		return nil, fmt.Errorf("failed to query transaction log: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		var entry ledger.Entry
		var tradeID *uuid.UUID
		var amountStr, beforeStr, afterStr string
		var traceID *string

		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&tradeID,
			&entry.Type,
			&amountStr,
			&beforeStr,
			&afterStr,
			&traceID,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction log entry: %w", err)
		}

		if tradeID != nil {
			entry.TradeID = *tradeID
		}
		if traceID != nil {
			entry.TraceID = *traceID
		}
		if entry.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", amountStr, err)
		}
		if entry.BalanceBefore, err = decimal.NewFromString(beforeStr); err != nil {
			return nil, fmt.Errorf("invalid balance_before %q: %w", beforeStr, err)
		}
		if entry.BalanceAfter, err = decimal.NewFromString(afterStr); err != nil {
			return nil, fmt.Errorf("invalid balance_after %q: %w", afterStr, err)
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over transaction log: %w", err)
	}

	return entries, nil
}
