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

// PositionRepository implements the account.PositionRepository interface for PostgreSQL
type PositionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewPositionRepository creates a new PostgreSQL position repository
func NewPositionRepository(logger *slog.Logger, db *persistence.PostgresDB) account.PositionRepository {
	return &PositionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction for atomic operations
func (r *PositionRepository) WithTx(tx pgx.Tx) account.PositionRepository {
	return &PositionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new position; used on first acquisition of a symbol
func (r *PositionRepository) Create(ctx context.Context, pos *account.Position) error {
	query := `
		INSERT INTO positions (user_id, symbol, quantity, available_quantity, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.querier.Exec(ctx, query,
		pos.UserID,
		pos.Symbol,
		pos.Quantity.String(),
		pos.AvailableQuantity.String(),
		pos.Version,
		pos.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create position", "user_id", pos.UserID.String(), "symbol", pos.Symbol, "error", err)
		return fmt.Errorf("failed to create position: %w", err)
	}

	return nil
}

// GetForUpdate obtains a pessimistic lock on the position row
func (r *PositionRepository) GetForUpdate(ctx context.Context, userID uuid.UUID, symbol string) (*account.Position, error) {
	query := `
		SELECT user_id, symbol, quantity::text, available_quantity::text, version, updated_at
		FROM positions
		WHERE user_id = $1 AND symbol = $2
		FOR UPDATE
	`

	var pos account.Position
	var quantityStr, availableStr string
	err := r.querier.QueryRow(ctx, query, userID, symbol).Scan(
		&pos.UserID,
		&pos.Symbol,
		&quantityStr,
		&availableStr,
		&pos.Version,
		&pos.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrPositionNotFound{UserID: userID, Symbol: symbol}
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
			return nil, account.ErrLockTimeout{UserID: userID}
		}
		r.logger.Error("Failed to lock position", "user_id", userID.String(), "symbol", symbol, "error", err)
		return nil, fmt.Errorf("failed to lock position: %w", err)
	}

	if pos.Quantity, err = decimal.NewFromString(quantityStr); err != nil {
		return nil, fmt.Errorf("invalid position quantity %q: %w", quantityStr, err)
	}
	if pos.AvailableQuantity, err = decimal.NewFromString(availableStr); err != nil {
		return nil, fmt.Errorf("invalid available quantity %q: %w", availableStr, err)
	}

	return &pos, nil
}

// Update persists position changes guarded by the optimistic version
func (r *PositionRepository) Update(ctx context.Context, pos *account.Position) error {
	query := `
		UPDATE positions
		SET quantity = $1, available_quantity = $2, version = $3, updated_at = $4
		WHERE user_id = $5 AND symbol = $6 AND version = $7
	`

	result, err := r.querier.Exec(ctx, query,
		pos.Quantity.String(),
		pos.AvailableQuantity.String(),
		pos.Version,
		pos.UpdatedAt,
		pos.UserID,
		pos.Symbol,
		pos.Version-1,
	)
	if err != nil {
		r.logger.Error("Failed to update position", "user_id", pos.UserID.String(), "symbol", pos.Symbol, "error", err)
		return fmt.Errorf("failed to update position: %w", err)
	}

	if result.RowsAffected() == 0 {
		return account.ErrConcurrentModification{UserID: pos.UserID}
	}

	return nil
}
