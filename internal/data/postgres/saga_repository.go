package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tradewind-settlement/internal/domain/saga"
	"github.com/tradewind-settlement/internal/platform/persistence"
)

// SagaRepository implements the saga.Repository interface for PostgreSQL
type SagaRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewSagaRepository creates a new PostgreSQL saga repository
func NewSagaRepository(logger *slog.Logger, db *persistence.PostgresDB) saga.Repository {
	return &SagaRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction for atomic operations
func (r *SagaRepository) WithTx(tx pgx.Tx) saga.Repository {
	return &SagaRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new saga instance
func (r *SagaRepository) Create(ctx context.Context, instance *saga.Instance) error {
	metadata, err := marshalMetadata(instance.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal saga metadata: %w", err)
	}

	query := `
		INSERT INTO saga_states (saga_id, trade_id, order_id, user_id, symbol, state, started_at, timeout_at, completed_at, metadata, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.querier.Exec(ctx, query,
		instance.SagaID,
		instance.TradeID,
		instance.OrderID,
		instance.UserID,
		instance.Symbol,
		instance.State,
		instance.StartedAt,
		instance.TimeoutAt,
		instance.CompletedAt,
		metadata,
		instance.Version,
	)
	if err != nil {
		r.logger.Error("Failed to create saga", "saga_id", instance.SagaID.String(), "error", err)
		return fmt.Errorf("failed to create saga: %w", err)
	}

	return nil
}

// GetBySagaID retrieves a saga by its id
func (r *SagaRepository) GetBySagaID(ctx context.Context, sagaID uuid.UUID) (*saga.Instance, error) {
	query := sagaSelect + ` WHERE saga_id = $1`

	instance, err := r.scanSaga(r.querier.QueryRow(ctx, query, sagaID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, saga.ErrSagaNotFound{SagaID: sagaID}
		}
		r.logger.Error("Failed to get saga", "saga_id", sagaID.String(), "error", err)
		return nil, fmt.Errorf("failed to get saga: %w", err)
	}

	return instance, nil
}

// GetByTradeID retrieves every saga attempt correlated to a trade
func (r *SagaRepository) GetByTradeID(ctx context.Context, tradeID uuid.UUID) ([]*saga.Instance, error) {
	query := sagaSelect + ` WHERE trade_id = $1 ORDER BY started_at ASC`

	rows, err := r.querier.Query(ctx, query, tradeID)
	if err != nil {
		r.logger.Error("Failed to get sagas by trade", "trade_id", tradeID.String(), "error", err)
		return nil, fmt.Errorf("failed to get sagas by trade: %w", err)
	}
	defer rows.Close()

	return r.collectSagas(rows)
}

// Update persists a transition guarded by the optimistic version.
// Returns ErrVersionConflict when the row moved underneath the caller; the
// caller re-reads the saga and retries the transition.
func (r *SagaRepository) Update(ctx context.Context, instance *saga.Instance) error {
	metadata, err := marshalMetadata(instance.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal saga metadata: %w", err)
	}

	query := `
		UPDATE saga_states
		SET state = $1, completed_at = $2, metadata = $3, version = $4
		WHERE saga_id = $5 AND version = $6
	`

	result, err := r.querier.Exec(ctx, query,
		instance.State,
		instance.CompletedAt,
		metadata,
		instance.Version,
		instance.SagaID,
		instance.Version-1,
	)
	if err != nil {
		r.logger.Error("Failed to update saga", "saga_id", instance.SagaID.String(), "error", err)
		return fmt.Errorf("failed to update saga: %w", err)
	}

	if result.RowsAffected() == 0 {
		return saga.ErrVersionConflict{SagaID: instance.SagaID}
	}

	return nil
}

// FindExpired returns non-terminal sagas whose deadline has passed.
// FAILED is excluded: it awaits an explicit compensation trigger, not a sweep.
func (r *SagaRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*saga.Instance, error) {
	query := sagaSelect + `
		WHERE state IN ($1, $2) AND timeout_at < $3
		ORDER BY timeout_at ASC
		LIMIT $4`

	rows, err := r.querier.Query(ctx, query, saga.StateStarted, saga.StateInProgress, now, limit)
	if err != nil {
		r.logger.Error("Failed to find expired sagas", "error", err)
		return nil, fmt.Errorf("failed to find expired sagas: %w", err)
	}
	defer rows.Close()

	return r.collectSagas(rows)
}

const sagaSelect = `
	SELECT saga_id, trade_id, order_id, user_id, symbol, state, started_at, timeout_at, completed_at, metadata, version
	FROM saga_states`

func (r *SagaRepository) scanSaga(row pgx.Row) (*saga.Instance, error) {
	var instance saga.Instance
	var metadata []byte

	err := row.Scan(
		&instance.SagaID,
		&instance.TradeID,
		&instance.OrderID,
		&instance.UserID,
		&instance.Symbol,
		&instance.State,
		&instance.StartedAt,
		&instance.TimeoutAt,
		&instance.CompletedAt,
		&metadata,
		&instance.Version,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &instance.Metadata); err != nil {
			return nil, fmt.Errorf("invalid saga metadata: %w", err)
		}
	}

	return &instance, nil
}

func (r *SagaRepository) collectSagas(rows pgx.Rows) ([]*saga.Instance, error) {
	var instances []*saga.Instance
	for rows.Next() {
		instance, err := r.scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan saga: %w", err)
		}
		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over sagas: %w", err)
	}

	return instances, nil
}

// marshalMetadata always yields a JSON object. A nil map must become {} and
// not a SQL NULL: the metadata column is NOT NULL, and its default does not
// apply to an explicitly bound NULL parameter.
func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}
