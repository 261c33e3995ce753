package sagas

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/tradewind-settlement/internal/config"
	"github.com/tradewind-settlement/internal/domain/deadletter"
	"github.com/tradewind-settlement/internal/domain/shared"
	"github.com/tradewind-settlement/internal/platform/messaging/consumers"
	"github.com/tradewind-settlement/internal/platform/messaging/producers"
	"github.com/tradewind-settlement/internal/settlement"
)

// ProcessedEventMarker records handled event ids for at-least-once consumers
type ProcessedEventMarker interface {
	MarkProcessed(ctx context.Context, eventID uuid.UUID, consumer string) (bool, error)
}

const compensatorConsumer = "compensator"

// Compensator is the compensation orchestrator. It consumes compensation
// triggers, releases the holds they point at and walks the saga to
// COMPENSATED. Failed attempts back off exponentially through redelivery;
// a case that exhausts its attempts is dead-lettered to the durable store
// and announced loudly on the DLQ topic.
type Compensator struct {
	settlementSvc settlement.Service
	processed     ProcessedEventMarker
	deadLetters   deadletter.Store
	dlq           producers.DeadLetterPublisher
	pool          *ants.Pool
	cfg           config.CompensationConfig

	// attempts is the in-memory fallback for when the durable counter in the
	// dead-letter store is unreachable; the store is authoritative.
	mu       sync.Mutex
	attempts map[uuid.UUID]int

	logger *slog.Logger
}

// NewCompensator creates the orchestrator with its own worker pool
func NewCompensator(
	cfg *config.CompensationConfig,
	poolSize int,
	settlementSvc settlement.Service,
	processed ProcessedEventMarker,
	deadLetters deadletter.Store,
	dlq producers.DeadLetterPublisher,
	logger *slog.Logger,
) (*Compensator, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	return &Compensator{
		settlementSvc: settlementSvc,
		processed:     processed,
		deadLetters:   deadLetters,
		dlq:           dlq,
		pool:          pool,
		cfg:           *cfg,
		attempts:      make(map[uuid.UUID]int),
		logger:        logger,
	}, nil
}

// Start subscribes the orchestrator to the compensation topic
func (c *Compensator) Start(ctx context.Context, consumer consumers.Consumer) error {
	return consumer.Subscribe(ctx, c.HandleMessage)
}

// Shutdown releases the worker pool
func (c *Compensator) Shutdown() {
	c.logger.Info("Shutting down compensator", "running_workers", c.pool.Running())
	c.pool.Release()
}

// HandleMessage submits a trigger to the worker pool and waits for the
// outcome, so the consumer's commit decision reflects actual processing
func (c *Compensator) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	resultChan := make(chan error, 1)

	err := c.pool.Submit(func() {
		resultChan <- c.process(ctx, value)
	})
	if err != nil {
		c.logger.Error("Failed to submit compensation trigger to worker pool", "key", string(key), "error", err)
		return err
	}

	return <-resultChan
}

// process handles one delivery of a compensation trigger. Returning an error
// leaves the offset uncommitted, so the broker redelivers and the next
// delivery becomes the next attempt.
func (c *Compensator) process(ctx context.Context, value []byte) error {
	var envelope shared.EventEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		c.logger.Error("Malformed compensation message, dead-lettering", "error", err)
		return c.dlq.PublishToDLQ(ctx, "", value, "malformed compensation message")
	}

	var trigger shared.CompensationTrigger
	if err := json.Unmarshal(envelope.Payload, &trigger); err != nil {
		c.logger.Error("Malformed compensation trigger payload, dead-lettering",
			"event_id", envelope.EventID.String(), "error", err)
		return c.dlq.PublishToDLQ(ctx, envelope.AggregateID.String(), value, "malformed compensation trigger")
	}

	logger := c.logger.With("saga_id", trigger.SagaID.String(), "event_id", envelope.EventID.String())

	attempt := c.nextAttempt(ctx, trigger.SagaID)
	if attempt > c.cfg.MaxAttempts {
		return c.deadLetter(ctx, &envelope, &trigger, value, logger)
	}

	// delay = base * 2^(attempt-1); the first attempt runs immediately,
	// retries wait out their doubled delay before touching the accounts again.
	if attempt > 1 {
		if err := c.wait(ctx, c.backoffDelay(attempt)); err != nil {
			return err
		}
		logger.Info("Retrying compensation", "attempt", attempt)
	}

	released, err := c.settlementSvc.ReleaseReservation(ctx, trigger.UserID, trigger.OrderID, trigger.Reason, trigger.TraceID)
	if err != nil {
		logger.Error("Failed to release reservation for compensation", "attempt", attempt, "error", err)
		return err
	}

	if err := c.settlementSvc.AbortSaga(ctx, trigger.SagaID, trigger.Reason); err != nil {
		logger.Error("Failed to abort saga for compensation", "attempt", attempt, "error", err)
		return err
	}

	c.clearAttempts(ctx, trigger.SagaID)

	// Every mutation above is idempotent, so the marker is a completion
	// record, not a gate: a redelivery that re-runs the work changes nothing.
	firstTime, err := c.processed.MarkProcessed(ctx, envelope.EventID, compensatorConsumer)
	if err != nil {
		logger.Warn("Failed to record processed compensation event", "error", err)
	} else if !firstTime {
		logger.Debug("Compensation event was a redelivery")
	}

	logger.Info("Compensation applied",
		"order_id", trigger.OrderID.String(),
		"released", released,
		"attempt", attempt,
	)
	return nil
}

// deadLetter files an exhausted case in the durable store and announces it on
// the DLQ topic, then acknowledges the message: retrying further is pointless.
func (c *Compensator) deadLetter(ctx context.Context, envelope *shared.EventEnvelope, trigger *shared.CompensationTrigger, value []byte, logger *slog.Logger) error {
	record := &deadletter.Record{
		EventID:        envelope.EventID,
		SagaID:         trigger.SagaID,
		TradeID:        trigger.TradeID,
		OrderID:        trigger.OrderID,
		UserID:         trigger.UserID,
		ReservationID:  trigger.ReservationID,
		Reason:         trigger.Reason,
		Attempts:       c.cfg.MaxAttempts,
		Payload:        envelope.Payload,
		DeadLetteredAt: time.Now(),
	}

	if err := c.deadLetters.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to dead-letter compensation case: %w", err)
	}

	reason := fmt.Sprintf("compensation exhausted %d attempts", c.cfg.MaxAttempts)
	if err := c.dlq.PublishToDLQ(ctx, trigger.SagaID.String(), value, reason); err != nil {
		return err
	}

	c.clearAttempts(ctx, trigger.SagaID)
	logger.Error("Compensation retries exhausted, case dead-lettered",
		"trade_id", trigger.TradeID.String(),
		"order_id", trigger.OrderID.String(),
		"max_attempts", c.cfg.MaxAttempts,
	)
	return nil
}

func (c *Compensator) backoffDelay(attempt int) time.Duration {
	return c.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
}

func (c *Compensator) wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nextAttempt bumps and returns the attempt counter for a saga. The counter
// is kept in the dead-letter store, so a process restart resumes the count
// instead of granting a failing case a fresh round of attempts. When the
// store is unreachable the in-memory map takes over until it recovers.
func (c *Compensator) nextAttempt(ctx context.Context, sagaID uuid.UUID) int {
	attempt, err := c.deadLetters.IncrementAttempts(ctx, sagaID)
	if err == nil {
		c.mu.Lock()
		c.attempts[sagaID] = attempt
		c.mu.Unlock()
		return attempt
	}
	c.logger.Warn("Attempt store unavailable, counting in memory",
		"saga_id", sagaID.String(), "error", err)

	return c.nextLocalAttempt(sagaID)
}

// nextLocalAttempt is the fallback counter. The map is bounded: when full, an
// arbitrary entry is evicted, which at worst grants a stuck case a fresh
// round of attempts before it dead-letters again.
func (c *Compensator) nextLocalAttempt(sagaID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.attempts[sagaID]; !ok && len(c.attempts) >= c.cfg.AttemptMapSize {
		for k := range c.attempts {
			delete(c.attempts, k)
			break
		}
	}

	c.attempts[sagaID]++
	return c.attempts[sagaID]
}

func (c *Compensator) clearAttempts(ctx context.Context, sagaID uuid.UUID) {
	c.mu.Lock()
	delete(c.attempts, sagaID)
	c.mu.Unlock()

	if err := c.deadLetters.ClearAttempts(ctx, sagaID); err != nil {
		c.logger.Warn("Failed to clear durable attempt counter",
			"saga_id", sagaID.String(), "error", err)
	}
}
