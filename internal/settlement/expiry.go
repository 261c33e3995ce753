package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tradewind-settlement/internal/domain/account"
	"github.com/tradewind-settlement/internal/domain/shared"
)

// ExpireStaleReservations force-expires ACTIVE reservations created before
// the cutoff, returning their holds. Each reservation is handled in its own
// transaction: one poisoned row never blocks the rest of the sweep.
func (s *SettlementServiceImpl) ExpireStaleReservations(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.reservationRepo.FindExpiredActive(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range stale {
		if err := s.expireOne(ctx, candidate.ID); err != nil {
			s.logger.Error("Failed to expire reservation",
				"reservation_id", candidate.ID.String(),
				"user_id", candidate.UserID.String(),
				"error", err,
			)
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger.Info("Expired stale reservations", "count", expired, "cutoff", cutoff)
	}
	return expired, nil
}

func (s *SettlementServiceImpl) expireOne(ctx context.Context, reservationID uuid.UUID) error {
	return s.db.ExecuteLockedTx(ctx, s.lockTimeout, func(tx pgx.Tx) error {
		reservations := s.reservationRepo.WithTx(tx)

		// Re-read inside the transaction: the reservation may have been
		// resolved between the sweep query and now.
		res, err := reservations.GetByID(ctx, reservationID)
		if err != nil {
			return err
		}
		if !res.IsActive() {
			return nil
		}

		if err := s.releaseHold(ctx, tx, res, account.ReservationStatusExpired, ""); err != nil {
			return err
		}

		return s.appendEvent(ctx, tx, res.UserID, shared.AggregateTypeAccount, shared.EventTypeReservationExpired, shared.ReservationEvent{
			ReservationID: res.ID,
			UserID:        res.UserID,
			OrderID:       res.OrderID,
			TradeID:       res.TradeID,
			Symbol:        res.Symbol,
			Amount:        res.Amount.String(),
			Reason:        "reservation expired",
		})
	})
}
