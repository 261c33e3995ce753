// Package postgres provides PostgreSQL implementations of the domain repositories.
// It handles all database operations while maintaining transaction safety and
// proper error handling for the settlement core. Monetary columns are NUMERIC
// and travel as strings to keep exact decimal precision.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/tradewind-settlement/internal/domain/account"
	"github.com/tradewind-settlement/internal/platform/persistence"
)

// lockNotAvailable is the SQLSTATE raised when lock_timeout expires while
// waiting on a row lock.
const lockNotAvailable = "55P03"

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewAccountRepository creates a new PostgreSQL account repository.
func NewAccountRepository(logger *slog.Logger, db *persistence.PostgresDB) account.Repository {
	return &AccountRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction, allowing for atomic operations
// across multiple repository calls.
func (r *AccountRepository) WithTx(tx pgx.Tx) account.Repository {
	return &AccountRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new account in the database
func (r *AccountRepository) Create(ctx context.Context, acc *account.Account) error {
	query := `
		INSERT INTO accounts (user_id, cash_balance, available_cash, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.querier.Exec(ctx, query,
		acc.UserID,
		acc.CashBalance.String(),
		acc.AvailableCash.String(),
		acc.Version,
		acc.CreatedAt,
		acc.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create account", "user_id", acc.UserID.String(), "error", err)
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetByUserID retrieves an account by its user id
func (r *AccountRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*account.Account, error) {
	query := `
		SELECT user_id, cash_balance::text, available_cash::text, version, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
	`

	acc, err := r.scanAccount(r.querier.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrAccountNotFound{UserID: userID}
		}
		r.logger.Error("Failed to get account", "user_id", userID.String(), "error", err)
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return acc, nil
}

// Update persists account changes guarded by the optimistic version.
// Returns ErrConcurrentModification if the row moved underneath the caller.
func (r *AccountRepository) Update(ctx context.Context, acc *account.Account) error {
	query := `
		UPDATE accounts
		SET cash_balance = $1, available_cash = $2, version = $3, updated_at = $4
		WHERE user_id = $5 AND version = $6
	`

	result, err := r.querier.Exec(ctx, query,
		acc.CashBalance.String(),
		acc.AvailableCash.String(),
		acc.Version,
		acc.UpdatedAt,
		acc.UserID,
		acc.Version-1, // Check previous version for optimistic locking
	)
	if err != nil {
		r.logger.Error("Failed to update account", "user_id", acc.UserID.String(), "error", err)
		return fmt.Errorf("failed to update account: %w", err)
	}

	if result.RowsAffected() == 0 {
		return account.ErrConcurrentModification{UserID: acc.UserID}
	}

	return nil
}

// LockForUpdate obtains a pessimistic lock on the account row and returns its
// current state. Must run inside a transaction that has set lock_timeout; an
// expired wait surfaces as ErrLockTimeout, a transient failure the caller
// treats as a retryable business outcome.
func (r *AccountRepository) LockForUpdate(ctx context.Context, userID uuid.UUID) (*account.Account, error) {
	query := `
		SELECT user_id, cash_balance::text, available_cash::text, version, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE
	`

	acc, err := r.scanAccount(r.querier.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrAccountNotFound{UserID: userID}
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
			r.logger.Warn("Lock acquisition timed out", "user_id", userID.String())
			return nil, account.ErrLockTimeout{UserID: userID}
		}
		r.logger.Error("Failed to lock account for update", "user_id", userID.String(), "error", err)
		return nil, fmt.Errorf("failed to lock account for update: %w", err)
	}

	return acc, nil
}

// ListUserIDs returns every account's user id in ascending order
func (r *AccountRepository) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	query := `SELECT user_id FROM accounts ORDER BY user_id ASC`

	rows, err := r.querier.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list account user ids", "error", err)
		return nil, fmt.Errorf("failed to list account user ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account user id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over account user ids: %w", err)
	}

	return ids, nil
}

func (r *AccountRepository) scanAccount(row pgx.Row) (*account.Account, error) {
	var acc account.Account
	var cashStr, availableStr string

	err := row.Scan(
		&acc.UserID,
		&cashStr,
		&availableStr,
		&acc.Version,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if acc.CashBalance, err = decimal.NewFromString(cashStr); err != nil {
		return nil, fmt.Errorf("invalid cash_balance %q: %w", cashStr, err)
	}
	if acc.AvailableCash, err = decimal.NewFromString(availableStr); err != nil {
		return nil, fmt.Errorf("invalid available_cash %q: %w", availableStr, err)
	}

	return &acc, nil
}
