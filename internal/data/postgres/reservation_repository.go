package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/tradewind-settlement/internal/domain/account"
	"github.com/tradewind-settlement/internal/platform/persistence"
)

// ReservationRepository implements the account.ReservationRepository interface for PostgreSQL
type ReservationRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewReservationRepository creates a new PostgreSQL reservation repository
func NewReservationRepository(logger *slog.Logger, db *persistence.PostgresDB) account.ReservationRepository {
	return &ReservationRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction for atomic operations
func (r *ReservationRepository) WithTx(tx pgx.Tx) account.ReservationRepository {
	return &ReservationRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new reservation
func (r *ReservationRepository) Create(ctx context.Context, res *account.Reservation) error {
	query := `
		INSERT INTO reservations (id, user_id, order_id, trade_id, symbol, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.querier.Exec(ctx, query,
		res.ID,
		res.UserID,
		res.OrderID,
		nilIfZero(res.TradeID),
		nilIfEmpty(res.Symbol),
		res.Amount.String(),
		res.Status,
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create reservation", "reservation_id", res.ID.String(), "error", err)
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	return nil
}

// GetByID retrieves a reservation by its id
func (r *ReservationRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.Reservation, error) {
	query := reservationSelect + ` WHERE id = $1`

	res, err := r.scanReservation(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrReservationNotFound{ID: id}
		}
		r.logger.Error("Failed to get reservation", "reservation_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	return res, nil
}

// GetActiveByOrderID retrieves the ACTIVE reservation backing an order, if any.
// Returns nil, nil when nothing is held: release is a boolean operation for
// the caller, not an error.
func (r *ReservationRepository) GetActiveByOrderID(ctx context.Context, userID, orderID uuid.UUID) (*account.Reservation, error) {
	query := reservationSelect + ` WHERE user_id = $1 AND order_id = $2 AND status = $3`

	res, err := r.scanReservation(r.querier.QueryRow(ctx, query, userID, orderID, account.ReservationStatusActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get active reservation", "order_id", orderID.String(), "error", err)
		return nil, fmt.Errorf("failed to get active reservation: %w", err)
	}

	return res, nil
}

// Update persists a reservation resolution. The status predicate makes the
// resolution race-safe: only one of two concurrent resolvers flips the row.
func (r *ReservationRepository) Update(ctx context.Context, res *account.Reservation) error {
	query := `
		UPDATE reservations
		SET trade_id = $1, status = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`

	result, err := r.querier.Exec(ctx, query,
		nilIfZero(res.TradeID),
		res.Status,
		res.UpdatedAt,
		res.ID,
		account.ReservationStatusActive,
	)
	if err != nil {
		r.logger.Error("Failed to update reservation", "reservation_id", res.ID.String(), "error", err)
		return fmt.Errorf("failed to update reservation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return account.ErrReservationResolved
	}

	return nil
}

// FindExpiredActive returns ACTIVE reservations created before the cutoff
func (r *ReservationRepository) FindExpiredActive(ctx context.Context, cutoff time.Time, limit int) ([]*account.Reservation, error) {
	query := reservationSelect + `
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := r.querier.Query(ctx, query, account.ReservationStatusActive, cutoff, limit)
	if err != nil {
		r.logger.Error("Failed to find expired reservations", "error", err)
		return nil, fmt.Errorf("failed to find expired reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*account.Reservation
	for rows.Next() {
		res, err := r.scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over reservations: %w", err)
	}

	return reservations, nil
}

const reservationSelect = `
	SELECT id, user_id, order_id, trade_id, symbol, amount::text, status, created_at, updated_at
	FROM reservations`

func (r *ReservationRepository) scanReservation(row pgx.Row) (*account.Reservation, error) {
	var res account.Reservation
	var tradeID *uuid.UUID
	var symbol *string
	var amountStr string

	err := row.Scan(
		&res.ID,
		&res.UserID,
		&res.OrderID,
		&tradeID,
		&symbol,
		&amountStr,
		&res.Status,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tradeID != nil {
		res.TradeID = *tradeID
	}
	if symbol != nil {
		res.Symbol = *symbol
	}
	if res.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("invalid reservation amount %q: %w", amountStr, err)
	}

	return &res, nil
}

// nilIfZero maps the zero uuid to NULL for nullable columns
func nilIfZero(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// nilIfEmpty maps the empty string to NULL for nullable columns
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
