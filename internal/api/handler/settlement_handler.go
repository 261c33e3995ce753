package handler

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tradewind-settlement/internal/api/middleware"
	"github.com/tradewind-settlement/internal/domain/account"
	"github.com/tradewind-settlement/internal/settlement"
)

// SettlementHandler handles HTTP requests for trade settlement
type SettlementHandler struct {
	settlementSvc settlement.Service
	logger        *slog.Logger
}

// NewSettlementHandler creates a new settlement handler
func NewSettlementHandler(logger *slog.Logger, settlementSvc settlement.Service) *SettlementHandler {
	return &SettlementHandler{
		settlementSvc: settlementSvc,
		logger:        logger,
	}
}

// SettleTrade clears both legs of a matched trade atomically
func (h *SettlementHandler) SettleTrade(c *gin.Context) {
	var req SettleTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	quantity, ok := parseAmount(req.Quantity)
	if !ok {
		RespondBadRequest(c, "Quantity must be a positive decimal")
		return
	}
	grossAmount, ok := parseAmount(req.GrossAmount)
	if !ok {
		RespondBadRequest(c, "Gross amount must be a positive decimal")
		return
	}

	err := h.settlementSvc.SettleTrade(c.Request.Context(), &settlement.SettleTradeRequest{
		TradeID:             uuid.MustParse(req.TradeID),
		BuyerID:             uuid.MustParse(req.BuyerID),
		SellerID:            uuid.MustParse(req.SellerID),
		BuyerReservationID:  uuid.MustParse(req.BuyerReservationID),
		SellerReservationID: uuid.MustParse(req.SellerReservationID),
		Symbol:              req.Symbol,
		Quantity:            quantity,
		GrossAmount:         grossAmount,
		TraceID:             middleware.GetCorrelationID(c),
	})
	if err != nil {
		h.respondSettleError(c, err)
		return
	}

	RespondOK(c, gin.H{"settled": true, "trade_id": req.TradeID})
}

func (h *SettlementHandler) respondSettleError(c *gin.Context, err error) {
	var accNotFound account.ErrAccountNotFound
	var resNotFound account.ErrReservationNotFound
	var posNotFound account.ErrPositionNotFound
	var lockTimeout account.ErrLockTimeout

	switch {
	case errors.As(err, &accNotFound):
		RespondNotFound(c, "Account not found")
	case errors.As(err, &resNotFound):
		RespondNotFound(c, "Reservation not found")
	case errors.As(err, &posNotFound):
		RespondNotFound(c, "Position not found")
	case errors.Is(err, account.ErrReservationResolved):
		RespondConflict(c, "A trade leg was already resolved")
	case errors.As(err, &lockTimeout):
		RespondUnavailable(c, "Accounts are busy, retry the settlement")
	default:
		h.logger.Error("Trade settlement failed", "error", err)
		RespondInternalError(c)
	}
}
