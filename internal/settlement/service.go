package settlement

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tradewind-settlement/internal/config"
	"github.com/tradewind-settlement/internal/domain/account"
	"github.com/tradewind-settlement/internal/domain/ledger"
	"github.com/tradewind-settlement/internal/domain/outbox"
	"github.com/tradewind-settlement/internal/domain/saga"
	"github.com/tradewind-settlement/internal/domain/shared"
)

// SettlementServiceImpl implements the Service interface. Every mutation runs
// inside one local database transaction with a bounded lock acquisition: the
// account rows move, the transaction log gains its entry and the outbox gains
// its event, or none of it happens.
type SettlementServiceImpl struct {
	db              TxExecutor
	accountRepo     account.Repository
	reservationRepo account.ReservationRepository
	positionRepo    account.PositionRepository
	ledgerRepo      ledger.Repository
	outboxRepo      outbox.Repository
	sagaRepo        saga.Repository
	lockTimeout     string
	cfg             config.SettlementConfig
	logger          *slog.Logger
}

// NewSettlementService creates the settlement core service
func NewSettlementService(
	db TxExecutor,
	accountRepo account.Repository,
	reservationRepo account.ReservationRepository,
	positionRepo account.PositionRepository,
	ledgerRepo ledger.Repository,
	outboxRepo outbox.Repository,
	sagaRepo saga.Repository,
	cfg *config.SettlementConfig,
	logger *slog.Logger,
) Service {
	return &SettlementServiceImpl{
		db:              db,
		accountRepo:     accountRepo,
		reservationRepo: reservationRepo,
		positionRepo:    positionRepo,
		ledgerRepo:      ledgerRepo,
		outboxRepo:      outboxRepo,
		sagaRepo:        sagaRepo,
		lockTimeout:     fmt.Sprintf("%dms", cfg.LockTimeout.Milliseconds()),
		cfg:             *cfg,
		logger:          logger,
	}
}

// CreateAccount provisions an account seeded with an initial balance. The
// seed is logged as a DEPOSIT entry so the reconciliation replay accounts for
// every unit of the balance from entry zero.
func (s *SettlementServiceImpl) CreateAccount(ctx context.Context, userID uuid.UUID, initialBalance decimal.Decimal) (*account.Account, error) {
	acct, err := account.NewAccount(userID, initialBalance)
	if err != nil {
		return nil, err
	}

	err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if err := s.accountRepo.WithTx(tx).Create(ctx, acct); err != nil {
			return err
		}

		if acct.CashBalance.IsPositive() {
			entry := &ledger.Entry{
				UserID:        userID,
				Type:          ledger.EntryTypeDeposit,
				Amount:        acct.CashBalance,
				BalanceBefore: decimal.Zero,
				BalanceAfter:  acct.CashBalance,
			}
			if err := s.ledgerRepo.WithTx(tx).Create(ctx, entry); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account created", "user_id", userID.String(), "initial_balance", initialBalance.String())
	return acct, nil
}

// GetAccount returns the current account state
func (s *SettlementServiceImpl) GetAccount(ctx context.Context, userID uuid.UUID) (*account.Account, error) {
	return s.accountRepo.GetByUserID(ctx, userID)
}

// Deposit adds funds to an account, logging the movement and emitting
// DEPOSIT_MADE atomically with the balance change
func (s *SettlementServiceImpl) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, traceID string) (*account.Account, error) {
	var acct *account.Account

	err := s.db.ExecuteLockedTx(ctx, s.lockTimeout, func(tx pgx.Tx) error {
		accounts := s.accountRepo.WithTx(tx)

		locked, err := accounts.LockForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		balanceBefore := locked.CashBalance
		if err := locked.Deposit(amount); err != nil {
			return err
		}
		if err := accounts.Update(ctx, locked); err != nil {
			return err
		}

		entry := &ledger.Entry{
			UserID:        userID,
			Type:          ledger.EntryTypeDeposit,
			Amount:        shared.NormalizeAmount(amount),
			BalanceBefore: balanceBefore,
			BalanceAfter:  locked.CashBalance,
			TraceID:       traceID,
		}
		if err := s.ledgerRepo.WithTx(tx).Create(ctx, entry); err != nil {
			return err
		}

		if err := s.appendEvent(ctx, tx, userID, shared.AggregateTypeAccount, shared.EventTypeDepositMade, shared.ReservationEvent{
			UserID:  userID,
			Amount:  entry.Amount.String(),
			TraceID: traceID,
		}); err != nil {
			return err
		}

		acct = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Deposit applied", "user_id", userID.String(), "amount", amount.String())
	return acct, nil
}

// ReserveCash places a provisional hold on available cash and opens the saga
// tracking the settlement attempt. An insufficient balance commits nothing and
// is reported through the decision, not as an error.
func (s *SettlementServiceImpl) ReserveCash(ctx context.Context, req *ReserveCashRequest) (*ReservationDecision, error) {
	decision := &ReservationDecision{}

	err := s.db.ExecuteLockedTx(ctx, s.lockTimeout, func(tx pgx.Tx) error {
		accounts := s.accountRepo.WithTx(tx)

		acct, err := accounts.LockForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}

		result, err := acct.ReserveCash(req.Amount)
		if err != nil {
			return err
		}

		decision.Outcome = string(result.Outcome)
		decision.Required = result.Required
		decision.Available = result.Available
		if !result.Succeeded() {
			// Nothing was mutated; the transaction commits empty.
			return nil
		}

		if err := accounts.Update(ctx, acct); err != nil {
			return err
		}

		res := account.NewReservation(result.ReservationID, req.UserID, req.OrderID, result.Required)
		res.TradeID = req.TradeID
		if err := s.reservationRepo.WithTx(tx).Create(ctx, res); err != nil {
			return err
		}

		sg, err := s.openSaga(ctx, tx, req.TradeID, req.OrderID, req.UserID, "")
		if err != nil {
			return err
		}

		if err := s.appendEvent(ctx, tx, req.UserID, shared.AggregateTypeAccount, shared.EventTypeCashReserved, shared.ReservationEvent{
			ReservationID: result.ReservationID,
			SagaID:        sg.SagaID,
			UserID:        req.UserID,
			OrderID:       req.OrderID,
			TradeID:       req.TradeID,
			Amount:        result.Required.String(),
			TraceID:       req.TraceID,
		}); err != nil {
			return err
		}

		decision.ReservationID = result.ReservationID
		decision.SagaID = sg.SagaID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cash reservation decided",
		"user_id", req.UserID.String(),
		"order_id", req.OrderID.String(),
		"outcome", decision.Outcome,
	)
	return decision, nil
}

// ReserveStocks places a provisional hold on a share position, mirroring the
// cash path
func (s *SettlementServiceImpl) ReserveStocks(ctx context.Context, req *ReserveStocksRequest) (*ReservationDecision, error) {
	decision := &ReservationDecision{}

	err := s.db.ExecuteLockedTx(ctx, s.lockTimeout, func(tx pgx.Tx) error {
		positions := s.positionRepo.WithTx(tx)

		pos, err := positions.GetForUpdate(ctx, req.UserID, req.Symbol)
		if err != nil {
			return err
		}

		result, err := pos.ReserveShares(req.Quantity)
		if err != nil {
			return err
		}

		decision.Outcome = string(result.Outcome)
		decision.Required = result.Required
		decision.Available = result.Available
		if !result.Succeeded() {
			return nil
		}

		if err := positions.Update(ctx, pos); err != nil {
			return err
		}

		res := account.NewShareReservation(result.ReservationID, req.UserID, req.OrderID, req.Symbol, result.Required)
		res.TradeID = req.TradeID
		if err := s.reservationRepo.WithTx(tx).Create(ctx, res); err != nil {
			return err
		}

		sg, err := s.openSaga(ctx, tx, req.TradeID, req.OrderID, req.UserID, req.Symbol)
		if err != nil {
			return err
		}

		if err := s.appendEvent(ctx, tx, req.UserID, shared.AggregateTypeAccount, shared.EventTypeSharesReserved, shared.ReservationEvent{
			ReservationID: result.ReservationID,
			SagaID:        sg.SagaID,
			UserID:        req.UserID,
			OrderID:       req.OrderID,
			TradeID:       req.TradeID,
			Symbol:        req.Symbol,
			Amount:        result.Required.String(),
			TraceID:       req.TraceID,
		}); err != nil {
			return err
		}

		decision.ReservationID = result.ReservationID
		decision.SagaID = sg.SagaID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Stock reservation decided",
		"user_id", req.UserID.String(),
		"order_id", req.OrderID.String(),
		"symbol", req.Symbol,
		"outcome", decision.Outcome,
	)
	return decision, nil
}

// ConfirmReservation makes a prior hold permanent and closes its saga.
// Confirming an already-confirmed reservation is idempotent; confirming a
// released or expired one surfaces ErrReservationResolved.
func (s *SettlementServiceImpl) ConfirmReservation(ctx context.Context, req *ConfirmReservationRequest) error {
	err := s.db.ExecuteLockedTx(ctx, s.lockTimeout, func(tx pgx.Tx) error {
		reservations := s.reservationRepo.WithTx(tx)

		res, err := reservations.GetByID(ctx, req.ReservationID)
		if err != nil {
			return err
		}
		if res.Status == account.ReservationStatusConfirmed {
			return nil // Redelivered confirmation; already applied.
		}

		if res.IsShareHold() {
			if err := s.confirmShareHold(ctx, tx, res); err != nil {
				return err
			}
		} else {
			if err := s.confirmCashHold(ctx, tx, res, req.TraceID); err != nil {
				return err
			}
		}

		res.TradeID = req.TradeID
		if err := res.Confirm(); err != nil {
			return err
		}
		if err := reservations.Update(ctx, res); err != nil {
			return err
		}

		if req.SagaID != uuid.Nil {
			if err := s.completeSaga(ctx, tx, req.SagaID); err != nil {
				return err
			}
		}

		return s.appendEvent(ctx, tx, res.UserID, shared.AggregateTypeAccount, shared.EventTypeReservationConfirmed, shared.ReservationEvent{
			ReservationID: res.ID,
			SagaID:        req.SagaID,
			UserID:        res.UserID,
			OrderID:       res.OrderID,
			TradeID:       req.TradeID,
			Symbol:        res.Symbol,
			Amount:        res.Amount.String(),
			TraceID:       req.TraceID,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("Reservation confirmed", "reservation_id", req.ReservationID.String())
	return nil
}

func (s *SettlementServiceImpl) confirmCashHold(ctx context.Context, tx pgx.Tx, res *account.Reservation, traceID string) error {
	accounts := s.accountRepo.WithTx(tx)

	acct, err := accounts.LockForUpdate(ctx, res.UserID)
	if err != nil {
		return err
	}

	balanceBefore := acct.CashBalance
	if err := acct.ConfirmReservation(res.Amount); err != nil {
		return err
	}
	if err := accounts.Update(ctx, acct); err != nil {
		return err
	}

	entry := &ledger.Entry{
		UserID:        res.UserID,
		TradeID:       res.TradeID,
		Type:          ledger.EntryTypeBuy,
		Amount:        res.Amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  acct.CashBalance,
		TraceID:       traceID,
	}
	return s.ledgerRepo.WithTx(tx).Create(ctx, entry)
}

func (s *SettlementServiceImpl) confirmShareHold(ctx context.Context, tx pgx.Tx, res *account.Reservation) error {
	positions := s.positionRepo.WithTx(tx)

	pos, err := positions.GetForUpdate(ctx, res.UserID, res.Symbol)
	if err != nil {
		return err
	}
	if err := pos.ConfirmShares(res.Amount); err != nil {
		return err
	}
	return positions.Update(ctx, pos)
}

// ReleaseReservation returns the hold backing an order. The outcome is
// boolean: an order with no active hold is already settled, released or
// expired, and releasing it again is a no-op.
func (s *SettlementServiceImpl) ReleaseReservation(ctx context.Context, userID, orderID uuid.UUID, reason, traceID string) (bool, error) {
	released := false

	err := s.db.ExecuteLockedTx(ctx, s.lockTimeout, func(tx pgx.Tx) error {
		reservations := s.reservationRepo.WithTx(tx)

		res, err := reservations.GetActiveByOrderID(ctx, userID, orderID)
		if err != nil {
			return err
		}
		if res == nil {
			return nil // Nothing held for this order.
		}

		if err := s.releaseHold(ctx, tx, res, account.ReservationStatusReleased, traceID); err != nil {
			return err
		}

		if err := s.appendEvent(ctx, tx, res.UserID, shared.AggregateTypeAccount, shared.EventTypeReservationReleased, shared.ReservationEvent{
			ReservationID: res.ID,
			UserID:        res.UserID,
			OrderID:       res.OrderID,
			TradeID:       res.TradeID,
			Symbol:        res.Symbol,
			Amount:        res.Amount.String(),
			Reason:        reason,
			TraceID:       traceID,
		}); err != nil {
			return err
		}

		released = true
		return nil
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("Reservation release decided",
		"user_id", userID.String(),
		"order_id", orderID.String(),
		"released", released,
		"reason", reason,
	)
	return released, nil
}

// releaseHold undoes one hold inside an open transaction, writing the
// balance-neutral ROLLBACK log entry. Shared by release and forced expiry.
func (s *SettlementServiceImpl) releaseHold(ctx context.Context, tx pgx.Tx, res *account.Reservation, status account.ReservationStatus, traceID string) error {
	if res.IsShareHold() {
		positions := s.positionRepo.WithTx(tx)
		pos, err := positions.GetForUpdate(ctx, res.UserID, res.Symbol)
		if err != nil {
			return err
		}
		if err := pos.ReleaseShares(res.Amount); err != nil {
			return err
		}
		if err := positions.Update(ctx, pos); err != nil {
			return err
		}
	} else {
		accounts := s.accountRepo.WithTx(tx)
		acct, err := accounts.LockForUpdate(ctx, res.UserID)
		if err != nil {
			return err
		}
		if err := acct.ReleaseReservation(res.Amount); err != nil {
			return err
		}
		if err := accounts.Update(ctx, acct); err != nil {
			return err
		}

		// ROLLBACK entries are balance-neutral: releasing a hold restores
		// availability but never moves CashBalance.
		entry := &ledger.Entry{
			UserID:        res.UserID,
			TradeID:       res.TradeID,
			Type:          ledger.EntryTypeRollback,
			Amount:        res.Amount,
			BalanceBefore: acct.CashBalance,
			BalanceAfter:  acct.CashBalance,
			TraceID:       traceID,
		}
		if err := s.ledgerRepo.WithTx(tx).Create(ctx, entry); err != nil {
			return err
		}
	}

	var err error
	switch status {
	case account.ReservationStatusExpired:
		err = res.Expire()
	default:
		err = res.Release()
	}
	if err != nil {
		return err
	}

	return s.reservationRepo.WithTx(tx).Update(ctx, res)
}

// SettleTrade clears both legs of a matched trade in one transaction: the
// buyer's cash hold and the seller's share hold are confirmed, cash and shares
// change owners, and both legs' ledger entries land atomically. Accounts are
// always locked in ascending user-id order so two settlements touching the
// same pair can never deadlock.
func (s *SettlementServiceImpl) SettleTrade(ctx context.Context, req *SettleTradeRequest) error {
	err := s.db.ExecuteLockedTx(ctx, s.lockTimeout, func(tx pgx.Tx) error {
		accounts := s.accountRepo.WithTx(tx)

		var buyer, seller *account.Account
		for _, userID := range lockOrder(req.BuyerID, req.SellerID) {
			locked, err := accounts.LockForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			if userID == req.BuyerID {
				buyer = locked
			} else {
				seller = locked
			}
		}

		reservations := s.reservationRepo.WithTx(tx)

		buyRes, err := reservations.GetByID(ctx, req.BuyerReservationID)
		if err != nil {
			return err
		}
		sellRes, err := reservations.GetByID(ctx, req.SellerReservationID)
		if err != nil {
			return err
		}

		// Buyer leg: held cash becomes spent cash.
		buyerBefore := buyer.CashBalance
		if err := buyer.ConfirmReservation(buyRes.Amount); err != nil {
			return err
		}
		if err := accounts.Update(ctx, buyer); err != nil {
			return err
		}

		// Seller leg: proceeds arrive as settled cash.
		sellerBefore := seller.CashBalance
		if err := seller.Deposit(req.GrossAmount); err != nil {
			return err
		}
		if err := accounts.Update(ctx, seller); err != nil {
			return err
		}

		if err := s.moveShares(ctx, tx, req, sellRes); err != nil {
			return err
		}

		for _, res := range []*account.Reservation{buyRes, sellRes} {
			res.TradeID = req.TradeID
			if err := res.Confirm(); err != nil {
				return err
			}
			if err := reservations.Update(ctx, res); err != nil {
				return err
			}
		}

		ledgerTx := s.ledgerRepo.WithTx(tx)
		entries := []*ledger.Entry{
			{
				UserID:        req.BuyerID,
				TradeID:       req.TradeID,
				Type:          ledger.EntryTypeBuy,
				Amount:        buyRes.Amount,
				BalanceBefore: buyerBefore,
				BalanceAfter:  buyer.CashBalance,
				TraceID:       req.TraceID,
			},
			{
				UserID:        req.SellerID,
				TradeID:       req.TradeID,
				Type:          ledger.EntryTypeSell,
				Amount:        shared.NormalizeAmount(req.GrossAmount),
				BalanceBefore: sellerBefore,
				BalanceAfter:  seller.CashBalance,
				TraceID:       req.TraceID,
			},
		}
		for _, entry := range entries {
			if err := ledgerTx.Create(ctx, entry); err != nil {
				return err
			}
		}

		if err := s.completeSagasForTrade(ctx, tx, req.TradeID); err != nil {
			return err
		}

		return s.appendEvent(ctx, tx, req.TradeID, shared.AggregateTypeTrade, shared.EventTypeTradeSettled, shared.TradeSettled{
			TradeID:     req.TradeID,
			BuyerID:     req.BuyerID,
			SellerID:    req.SellerID,
			Symbol:      req.Symbol,
			GrossAmount: shared.NormalizeAmount(req.GrossAmount).String(),
			TraceID:     req.TraceID,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("Trade settled",
		"trade_id", req.TradeID.String(),
		"buyer_id", req.BuyerID.String(),
		"seller_id", req.SellerID.String(),
		"gross_amount", req.GrossAmount.String(),
	)
	return nil
}

// moveShares confirms the seller's share hold and credits the buyer's
// position, creating it on first acquisition of the symbol
func (s *SettlementServiceImpl) moveShares(ctx context.Context, tx pgx.Tx, req *SettleTradeRequest, sellRes *account.Reservation) error {
	positions := s.positionRepo.WithTx(tx)

	sellerPos, err := positions.GetForUpdate(ctx, req.SellerID, req.Symbol)
	if err != nil {
		return err
	}
	if err := sellerPos.ConfirmShares(sellRes.Amount); err != nil {
		return err
	}
	if err := positions.Update(ctx, sellerPos); err != nil {
		return err
	}

	buyerPos, err := positions.GetForUpdate(ctx, req.BuyerID, req.Symbol)
	if err != nil {
		var notFound account.ErrPositionNotFound
		if !errors.As(err, &notFound) {
			return err
		}
		buyerPos = &account.Position{UserID: req.BuyerID, Symbol: req.Symbol, Version: 1}
		if err := buyerPos.CreditShares(req.Quantity); err != nil {
			return err
		}
		return positions.Create(ctx, buyerPos)
	}

	if err := buyerPos.CreditShares(req.Quantity); err != nil {
		return err
	}
	return positions.Update(ctx, buyerPos)
}

// appendEvent records an outbox event in the open transaction
func (s *SettlementServiceImpl) appendEvent(ctx context.Context, tx pgx.Tx, aggregateID uuid.UUID, aggregateType shared.AggregateType, eventType shared.EventType, payload interface{}) error {
	evt, err := outbox.NewEvent(aggregateID, aggregateType, eventType, payload)
	if err != nil {
		return err
	}
	return s.outboxRepo.WithTx(tx).Create(ctx, evt)
}

// lockOrder returns the two user ids in ascending byte order. Every multi-user
// transaction locks accounts in this order; a fixed global order makes lock
// cycles impossible.
func lockOrder(a, b uuid.UUID) []uuid.UUID {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return []uuid.UUID{a, b}
	}
	return []uuid.UUID{b, a}
}
