package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tradewind-settlement/internal/domain/saga"
)

// abortRetries bounds how often a saga transition is retried after losing the
// optimistic version race.
const abortRetries = 3

// openSaga creates the saga tracking one settlement attempt and moves it to
// IN_PROGRESS, since persisting the outbox event in the same transaction is
// the dispatch of the first remote step.
func (s *SettlementServiceImpl) openSaga(ctx context.Context, tx pgx.Tx, tradeID, orderID, userID uuid.UUID, symbol string) (*saga.Instance, error) {
	sagas := s.sagaRepo.WithTx(tx)

	sg := saga.NewInstance(tradeID, orderID, userID, s.cfg.SagaTimeout)
	sg.Symbol = symbol
	if err := sagas.Create(ctx, sg); err != nil {
		return nil, err
	}
	if err := sg.MarkInProgress(); err != nil {
		return nil, err
	}
	if err := sagas.Update(ctx, sg); err != nil {
		return nil, err
	}
	return sg, nil
}

// completeSaga closes one saga on the success path. A saga that already left
// the live states is logged and skipped: the confirmation raced a timeout and
// the compensation side owns the outcome now.
func (s *SettlementServiceImpl) completeSaga(ctx context.Context, tx pgx.Tx, sagaID uuid.UUID) error {
	sagas := s.sagaRepo.WithTx(tx)

	sg, err := sagas.GetBySagaID(ctx, sagaID)
	if err != nil {
		return err
	}
	return s.finishSaga(ctx, sagas, sg)
}

// completeSagasForTrade closes every live saga correlated to a settled trade
func (s *SettlementServiceImpl) completeSagasForTrade(ctx context.Context, tx pgx.Tx, tradeID uuid.UUID) error {
	sagas := s.sagaRepo.WithTx(tx)

	instances, err := sagas.GetByTradeID(ctx, tradeID)
	if err != nil {
		return err
	}
	for _, sg := range instances {
		if err := s.finishSaga(ctx, sagas, sg); err != nil {
			return err
		}
	}
	return nil
}

func (s *SettlementServiceImpl) finishSaga(ctx context.Context, sagas saga.Repository, sg *saga.Instance) error {
	switch sg.State {
	case saga.StateStarted:
		if err := sg.MarkInProgress(); err != nil {
			return err
		}
		if err := sg.MarkCompleted(); err != nil {
			return err
		}
	case saga.StateInProgress:
		if err := sg.MarkCompleted(); err != nil {
			return err
		}
	case saga.StateCompleted:
		return nil
	default:
		s.logger.Warn("Saga no longer live at completion time, leaving it to compensation",
			"saga_id", sg.SagaID.String(),
			"state", string(sg.State),
		)
		return nil
	}
	return sagas.Update(ctx, sg)
}

// AbortSaga walks a saga to COMPENSATED after its local effects were reversed.
// Each transition is guarded by the optimistic version; losing the race means
// re-reading and retrying, never dropping the transition.
func (s *SettlementServiceImpl) AbortSaga(ctx context.Context, sagaID uuid.UUID, reason string) error {
	for attempt := 0; attempt < abortRetries; attempt++ {
		sg, err := s.sagaRepo.GetBySagaID(ctx, sagaID)
		if err != nil {
			return err
		}

		err = s.advanceToCompensated(ctx, sg, reason)
		if err == nil {
			s.logger.Info("Saga aborted", "saga_id", sagaID.String(), "reason", reason)
			return nil
		}
		if !errors.Is(err, saga.ErrVersionConflict{SagaID: sagaID}) {
			return err
		}
		s.logger.Warn("Saga transition lost version race, retrying", "saga_id", sagaID.String(), "attempt", attempt+1)
	}
	return fmt.Errorf("saga %s abort exhausted %d attempts", sagaID.String(), abortRetries)
}

func (s *SettlementServiceImpl) advanceToCompensated(ctx context.Context, sg *saga.Instance, reason string) error {
	for sg.State != saga.StateCompensated {
		var err error
		switch sg.State {
		case saga.StateStarted:
			err = sg.MarkInProgress()
		case saga.StateInProgress:
			err = sg.MarkFailed()
		case saga.StateFailed, saga.StateTimeout:
			if sg.Metadata == nil {
				sg.Metadata = map[string]string{}
			}
			sg.Metadata["abort_reason"] = reason
			err = sg.MarkCompensating()
		case saga.StateCompensating:
			err = sg.MarkCompensated()
		case saga.StateCompleted:
			// Completed sagas are immutable; a late abort is a no-op.
			s.logger.Warn("Abort requested for completed saga", "saga_id", sg.SagaID.String())
			return nil
		default:
			return saga.InvalidTransitionError{SagaID: sg.SagaID, From: sg.State, To: saga.StateCompensated}
		}
		if err != nil {
			return err
		}
		if err := s.sagaRepo.Update(ctx, sg); err != nil {
			return err
		}
	}
	return nil
}
