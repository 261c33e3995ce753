package relay

import (
	"context"
	"log/slog"

	"github.com/tradewind-settlement/internal/domain/outbox"
)

// ChangeOp classifies a row-level change observed by the stream
type ChangeOp string

const (
	ChangeOpInsert ChangeOp = "INSERT"
	ChangeOpUpdate ChangeOp = "UPDATE"
	ChangeOpDelete ChangeOp = "DELETE"
)

// Change is one committed change to the event table. Only committed rows are
// ever surfaced, in commit order, with at-least-once delivery across restarts.
type Change struct {
	Op    ChangeOp
	Event *outbox.Event
}

// ChangeStream is the narrow capture interface the relay drains. The default
// implementation polls the outbox table for unpublished rows; a log-based
// capture engine can be substituted without touching the relay.
type ChangeStream interface {
	// Next returns committed changes not yet relayed, oldest first,
	// at most limit of them.
	Next(ctx context.Context, limit int) ([]Change, error)
}

// OutboxTail implements ChangeStream by reading outbox rows still PENDING.
// Membership in the pending set is decided by status, never by an id fence:
// ids are handed out at insert time, and a transaction that commits late
// would hide forever behind a fence that already moved past its id.
type OutboxTail struct {
	outboxRepo outbox.Repository
	logger     *slog.Logger
}

// NewOutboxTail creates the default outbox-backed change stream
func NewOutboxTail(outboxRepo outbox.Repository, logger *slog.Logger) *OutboxTail {
	return &OutboxTail{
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

// Next reads the next batch of unpublished outbox rows. Outbox rows are
// append-only, so every change is an insert.
func (t *OutboxTail) Next(ctx context.Context, limit int) ([]Change, error) {
	events, err := t.outboxRepo.GetPending(ctx, limit)
	if err != nil {
		return nil, err
	}

	changes := make([]Change, 0, len(events))
	for _, event := range events {
		changes = append(changes, Change{Op: ChangeOpInsert, Event: event})
	}
	return changes, nil
}
