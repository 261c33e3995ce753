package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tradewind-settlement/internal/domain/outbox"
	"github.com/tradewind-settlement/internal/platform/persistence"
)

// OutboxRepository implements the outbox.Repository interface for PostgreSQL
type OutboxRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewOutboxRepository creates a new PostgreSQL outbox repository
func NewOutboxRepository(logger *slog.Logger, db *persistence.PostgresDB) outbox.Repository {
	return &OutboxRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction. This is the essence of the
// outbox contract: event creation is atomic with the business mutation.
func (r *OutboxRepository) WithTx(tx pgx.Tx) outbox.Repository {
	return &OutboxRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create appends an event record; the bigserial id is assigned here, at
// insert time, so it must never be treated as commit order
func (r *OutboxRepository) Create(ctx context.Context, event *outbox.Event) error {
	query := `
		INSERT INTO outbox_events (event_id, aggregate_id, aggregate_type, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.querier.QueryRow(ctx, query,
		event.EventID,
		event.AggregateID,
		event.AggregateType,
		event.EventType,
		event.Payload,
		event.Status,
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		r.logger.Error("Failed to create outbox event",
			"event_id", event.EventID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	return nil
}

// GetPending returns committed events awaiting publication, oldest id first.
// The status predicate, not an id fence, defines the pending set: a row whose
// transaction committed late is still picked up on a later poll even though
// higher ids were already published.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Event, error) {
	query := `
		SELECT id, event_id, aggregate_id, aggregate_type, event_type, payload, status, created_at
		FROM outbox_events
		WHERE status = $1
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, outbox.StatusPending, limit)
	if err != nil {
		r.logger.Error("Failed to get pending outbox events", "error", err)
		return nil, fmt.Errorf("failed to get pending outbox events: %w", err)
	}
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		var event outbox.Event
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.AggregateID,
			&event.AggregateType,
			&event.EventType,
			&event.Payload,
			&event.Status,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over outbox events: %w", err)
	}

	return events, nil
}

// UpdateStatus marks an event's publishing state; PROCESSED removes the row
// from the pending set the relay drains
func (r *OutboxRepository) UpdateStatus(ctx context.Context, id int64, status outbox.Status) error {
	query := `
		UPDATE outbox_events
		SET status = $1
		WHERE id = $2
	`

	result, err := r.querier.Exec(ctx, query, status, id)
	if err != nil {
		r.logger.Error("Failed to update outbox event status", "id", id, "status", string(status), "error", err)
		return fmt.Errorf("failed to update outbox event status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return outbox.ErrEventNotFound{ID: id}
	}

	return nil
}

// GetByEventID retrieves an event by its stable identity
func (r *OutboxRepository) GetByEventID(ctx context.Context, eventID uuid.UUID) (*outbox.Event, error) {
	query := `
		SELECT id, event_id, aggregate_id, aggregate_type, event_type, payload, status, created_at
		FROM outbox_events
		WHERE event_id = $1
	`

	var event outbox.Event
	err := r.querier.QueryRow(ctx, query, eventID).Scan(
		&event.ID,
		&event.EventID,
		&event.AggregateID,
		&event.AggregateType,
		&event.EventType,
		&event.Payload,
		&event.Status,
		&event.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, outbox.ErrEventNotFound{ID: 0}
		}
		r.logger.Error("Failed to get outbox event by event id", "event_id", eventID.String(), "error", err)
		return nil, fmt.Errorf("failed to get outbox event by event id: %w", err)
	}

	return &event, nil
}
