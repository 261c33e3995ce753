package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tradewind-settlement/internal/platform/persistence"
)

// ProcessedEventRepository gives consumers idempotency on event id. Delivery
// is at-least-once, so every consumer records the event ids it has applied
// and skips re-deliveries.
type ProcessedEventRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewProcessedEventRepository creates a new PostgreSQL processed-event repository
func NewProcessedEventRepository(logger *slog.Logger, db *persistence.PostgresDB) *ProcessedEventRepository {
	return &ProcessedEventRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so the dedup marker commits
// atomically with the effect it guards
func (r *ProcessedEventRepository) WithTx(tx pgx.Tx) *ProcessedEventRepository {
	return &ProcessedEventRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// MarkProcessed records an event id as applied. Returns false without error
// when the event was already recorded, letting the caller skip the effect.
func (r *ProcessedEventRepository) MarkProcessed(ctx context.Context, eventID uuid.UUID, consumer string) (bool, error) {
	query := `
		INSERT INTO processed_events (event_id, consumer, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, consumer) DO NOTHING
	`

	result, err := r.querier.Exec(ctx, query, eventID, consumer, time.Now())
	if err != nil {
		r.logger.Error("Failed to mark event processed", "event_id", eventID.String(), "consumer", consumer, "error", err)
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}

	return result.RowsAffected() == 1, nil
}
