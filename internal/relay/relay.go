package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradewind-settlement/internal/config"
	"github.com/tradewind-settlement/internal/domain/outbox"
	"github.com/tradewind-settlement/internal/domain/shared"
	"github.com/tradewind-settlement/internal/platform/messaging/producers"
)

// Relay drains the change stream and republishes committed domain events to
// the broker, keyed by aggregate id so per-aggregate commit order survives
// partitioning. Delivery is at-least-once: an event leaves the pending set
// only after the broker confirmed it, and a crash before the mark lands
// replays the event, relying on consumer-side deduplication by event id.
type Relay struct {
	stream           ChangeStream
	publisher        producers.MessagePublisher
	triggerPublisher producers.MessagePublisher // may be nil
	outboxRepo       outbox.Repository
	health           *HealthTracker
	metrics          *Metrics
	pollInterval     time.Duration
	batchSize        int
	logger           *slog.Logger
}

// NewRelay creates the change relay. triggerPublisher, when non-nil, receives
// a copy of every COMPENSATION_TRIGGERED event on the compensation topic so
// the orchestrator gets its triggers without a second source of truth.
func NewRelay(
	cfg *config.RelayConfig,
	stream ChangeStream,
	publisher producers.MessagePublisher,
	triggerPublisher producers.MessagePublisher,
	outboxRepo outbox.Repository,
	health *HealthTracker,
	metrics *Metrics,
	logger *slog.Logger,
) *Relay {
	return &Relay{
		stream:           stream,
		publisher:        publisher,
		triggerPublisher: triggerPublisher,
		outboxRepo:       outboxRepo,
		health:           health,
		metrics:          metrics,
		pollInterval:     cfg.PollInterval,
		batchSize:        cfg.BatchSize,
		logger:           logger,
	}
}

// Start drains the stream until the context is canceled
func (r *Relay) Start(ctx context.Context) {
	r.logger.Info("Starting change relay",
		"poll_interval", r.pollInterval.String(),
		"batch_size", r.batchSize,
	)
	r.health.MarkRunning()
	defer r.health.MarkStopped()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Change relay stopping due to context cancellation")
			return
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				r.logger.Error("Error draining change stream", "error", err)
			}
		}
	}
}

// drain publishes one batch of pending events. A publish failure stops the
// batch at the failed event so per-aggregate ordering is preserved; the event
// stays PENDING and the next tick retries it first.
func (r *Relay) drain(ctx context.Context) error {
	changes, err := r.stream.Next(ctx, r.batchSize)
	if err != nil {
		r.health.RecordFailure()
		return fmt.Errorf("failed to read change stream: %w", err)
	}

	if len(changes) == 0 {
		return nil
	}

	r.logger.Debug("Fetched changes from stream", "count", len(changes))

	for _, change := range changes {
		if change.Op == ChangeOpDelete {
			// Deletes never reach the broker; the event log is append-only
			// and a deletion downstream would rewrite history.
			continue
		}

		event := change.Event
		envelope := event.Envelope()

		if err := r.publisher.Publish(ctx, envelope.AggregateID.String(), envelope); err != nil {
			r.health.RecordFailure()
			r.metrics.PublishErrors.Inc()
			return fmt.Errorf("failed to publish event %s: %w", event.EventID.String(), err)
		}

		if r.triggerPublisher != nil && event.EventType == shared.EventTypeCompensationTrigger {
			if err := r.triggerPublisher.Publish(ctx, envelope.AggregateID.String(), envelope); err != nil {
				r.health.RecordFailure()
				r.metrics.PublishErrors.Inc()
				return fmt.Errorf("failed to publish compensation trigger %s: %w", event.EventID.String(), err)
			}
		}

		r.health.RecordSuccess()
		r.metrics.EventsPublished.WithLabelValues(string(event.EventType)).Inc()
		r.metrics.LastPublishedID.Set(float64(event.ID))

		// Losing the mark leaves the row PENDING while the event is already
		// on the broker: the next drain republishes it and consumers drop
		// the duplicate by event id.
		if err := r.outboxRepo.UpdateStatus(ctx, event.ID, outbox.StatusProcessed); err != nil {
			r.logger.Warn("Failed to mark outbox event processed", "id", event.ID, "error", err)
		}
	}

	return nil
}
