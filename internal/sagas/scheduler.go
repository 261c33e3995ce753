package sagas

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tradewind-settlement/internal/config"
	"github.com/tradewind-settlement/internal/domain/account"
	"github.com/tradewind-settlement/internal/domain/outbox"
	"github.com/tradewind-settlement/internal/domain/saga"
	"github.com/tradewind-settlement/internal/domain/shared"
	"github.com/tradewind-settlement/internal/settlement"
)

// sweepBatch bounds how many expired sagas and reservations one sweep handles
const sweepBatch = 100

// Scheduler is the saga timeout sweeper. On each tick it moves overdue sagas
// to TIMEOUT and files their compensation triggers through the outbox, so the
// trigger is exactly as durable as the state change it reacts to. It also
// force-expires reservations whose saga machinery never resolved them.
type Scheduler struct {
	db              settlement.TxExecutor
	sagaRepo        saga.Repository
	reservationRepo account.ReservationRepository
	outboxRepo      outbox.Repository
	settlementSvc   settlement.Service
	cfg             config.SchedulerConfig
	running         atomic.Bool
	logger          *slog.Logger
}

// NewScheduler creates the timeout scheduler
func NewScheduler(
	cfg *config.SchedulerConfig,
	db settlement.TxExecutor,
	sagaRepo saga.Repository,
	reservationRepo account.ReservationRepository,
	outboxRepo outbox.Repository,
	settlementSvc settlement.Service,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		db:              db,
		sagaRepo:        sagaRepo,
		reservationRepo: reservationRepo,
		outboxRepo:      outboxRepo,
		settlementSvc:   settlementSvc,
		cfg:             *cfg,
		logger:          logger,
	}
}

// Start sweeps on a ticker until the context is canceled
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting timeout scheduler",
		"sweep_interval", s.cfg.SweepInterval.String(),
		"reservation_expiry", s.cfg.ReservationExpiry.String(),
	)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Timeout scheduler stopping due to context cancellation")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. A sweep still in flight is never stacked: if the
// previous one is running this tick is skipped.
func (s *Scheduler) Sweep(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("Previous sweep still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	s.sweepTimedOutSagas(ctx)
	s.sweepStaleReservations(ctx)
}

func (s *Scheduler) sweepTimedOutSagas(ctx context.Context) {
	now := time.Now()

	expired, err := s.sagaRepo.FindExpired(ctx, now, sweepBatch)
	if err != nil {
		s.logger.Error("Failed to find expired sagas", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	s.logger.Info("Found expired sagas", "count", len(expired))

	// Per-saga isolation: one failing saga never blocks the rest of the batch.
	for _, candidate := range expired {
		if err := s.timeoutOne(ctx, candidate.SagaID, now); err != nil {
			s.logger.Error("Failed to time out saga",
				"saga_id", candidate.SagaID.String(),
				"error", err,
			)
		}
	}
}

// timeoutOne transitions a single saga to TIMEOUT and files both the
// monitoring notice and the compensation trigger in the same transaction.
func (s *Scheduler) timeoutOne(ctx context.Context, sagaID uuid.UUID, now time.Time) error {
	return s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		sagas := s.sagaRepo.WithTx(tx)

		// Re-read inside the transaction: the saga may have completed between
		// the sweep query and now, and a completed saga is left alone.
		sg, err := sagas.GetBySagaID(ctx, sagaID)
		if err != nil {
			return err
		}
		if !sg.IsExpired(now) {
			return nil
		}

		if sg.State == saga.StateStarted {
			if err := sg.MarkInProgress(); err != nil {
				return err
			}
		}
		if err := sg.MarkTimeout(); err != nil {
			return err
		}
		if err := sagas.Update(ctx, sg); err != nil {
			return err
		}

		outboxTx := s.outboxRepo.WithTx(tx)

		notice, err := outbox.NewEvent(sg.SagaID, shared.AggregateTypeSaga, shared.EventTypeSagaTimedOut, shared.SagaTimeoutNotice{
			SagaID:    sg.SagaID,
			TradeID:   sg.TradeID,
			OrderID:   sg.OrderID,
			State:     string(sg.State),
			StartedAt: sg.StartedAt,
			TimeoutAt: sg.TimeoutAt,
		})
		if err != nil {
			return err
		}
		if err := outboxTx.Create(ctx, notice); err != nil {
			return err
		}

		trigger, err := outbox.NewEvent(sg.SagaID, shared.AggregateTypeSaga, shared.EventTypeCompensationTrigger, shared.CompensationTrigger{
			SagaID:        sg.SagaID,
			TradeID:       sg.TradeID,
			OrderID:       sg.OrderID,
			UserID:        sg.UserID,
			ReservationID: s.lookupReservation(ctx, tx, sg),
			Reason:        "saga timed out",
			RetryHint:     true,
		})
		if err != nil {
			return err
		}
		if err := outboxTx.Create(ctx, trigger); err != nil {
			return err
		}

		s.logger.Warn("Saga timed out",
			"saga_id", sg.SagaID.String(),
			"trade_id", sg.TradeID.String(),
			"order_id", sg.OrderID.String(),
			"timeout_at", sg.TimeoutAt,
		)
		return nil
	})
}

// lookupReservation resolves the active hold behind the saga's order, if any.
// The trigger still goes out with a zero reservation id when nothing is held;
// the orchestrator releases by order id and tolerates the absence.
func (s *Scheduler) lookupReservation(ctx context.Context, tx pgx.Tx, sg *saga.Instance) uuid.UUID {
	res, err := s.reservationRepo.WithTx(tx).GetActiveByOrderID(ctx, sg.UserID, sg.OrderID)
	if err != nil || res == nil {
		return uuid.Nil
	}
	return res.ID
}

func (s *Scheduler) sweepStaleReservations(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ReservationExpiry)

	if _, err := s.settlementSvc.ExpireStaleReservations(ctx, cutoff, sweepBatch); err != nil {
		s.logger.Error("Failed to expire stale reservations", "error", err)
	}
}
