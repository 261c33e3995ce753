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

// ReservationHandler handles HTTP requests for the reservation lifecycle
type ReservationHandler struct {
	settlementSvc settlement.Service
	logger        *slog.Logger
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(logger *slog.Logger, settlementSvc settlement.Service) *ReservationHandler {
	return &ReservationHandler{
		settlementSvc: settlementSvc,
		logger:        logger,
	}
}

// ReserveCash places a hold on available cash. An insufficient balance is a
// legitimate business outcome and answers 422 with the decision, not an error.
func (h *ReservationHandler) ReserveCash(c *gin.Context) {
	var req ReserveCashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	amount, ok := parseAmount(req.Amount)
	if !ok {
		RespondBadRequest(c, "Amount must be a positive decimal")
		return
	}

	decision, err := h.settlementSvc.ReserveCash(c.Request.Context(), &settlement.ReserveCashRequest{
		UserID:  uuid.MustParse(req.UserID),
		OrderID: uuid.MustParse(req.OrderID),
		TradeID: parseOptionalUUID(req.TradeID),
		Amount:  amount,
		TraceID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		h.respondReservationError(c, err)
		return
	}

	h.respondDecision(c, decision)
}

// ReserveStocks places a hold on a share position
func (h *ReservationHandler) ReserveStocks(c *gin.Context) {
	var req ReserveStocksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	quantity, ok := parseAmount(req.Quantity)
	if !ok {
		RespondBadRequest(c, "Quantity must be a positive decimal")
		return
	}

	decision, err := h.settlementSvc.ReserveStocks(c.Request.Context(), &settlement.ReserveStocksRequest{
		UserID:   uuid.MustParse(req.UserID),
		OrderID:  uuid.MustParse(req.OrderID),
		TradeID:  parseOptionalUUID(req.TradeID),
		Symbol:   req.Symbol,
		Quantity: quantity,
		TraceID:  middleware.GetCorrelationID(c),
	})
	if err != nil {
		h.respondReservationError(c, err)
		return
	}

	h.respondDecision(c, decision)
}

// Confirm makes a hold permanent
func (h *ReservationHandler) Confirm(c *gin.Context) {
	var req ConfirmReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	err := h.settlementSvc.ConfirmReservation(c.Request.Context(), &settlement.ConfirmReservationRequest{
		ReservationID: uuid.MustParse(req.ReservationID),
		SagaID:        parseOptionalUUID(req.SagaID),
		TradeID:       parseOptionalUUID(req.TradeID),
		TraceID:       middleware.GetCorrelationID(c),
	})
	if err != nil {
		h.respondReservationError(c, err)
		return
	}

	RespondOK(c, gin.H{"confirmed": true})
}

// Release returns the hold behind an order. Releasing an order with nothing
// held answers released=false, never an error.
func (h *ReservationHandler) Release(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		RespondBadRequest(c, "Invalid order id")
		return
	}

	var req ReleaseReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "released by request"
	}

	released, err := h.settlementSvc.ReleaseReservation(c.Request.Context(), uuid.MustParse(req.UserID), orderID, reason, middleware.GetCorrelationID(c))
	if err != nil {
		h.respondReservationError(c, err)
		return
	}

	if released && req.SagaID != "" {
		if err := h.settlementSvc.AbortSaga(c.Request.Context(), uuid.MustParse(req.SagaID), reason); err != nil {
			h.logger.Error("Failed to abort saga after release", "saga_id", req.SagaID, "error", err)
			RespondInternalError(c)
			return
		}
	}

	RespondOK(c, ReleaseResponse{Released: released})
}

func (h *ReservationHandler) respondDecision(c *gin.Context, decision *settlement.ReservationDecision) {
	resp := mapDecisionToResponse(decision)
	if decision.Accepted() {
		RespondCreated(c, resp)
		return
	}
	RespondUnprocessable(c, resp)
}

func (h *ReservationHandler) respondReservationError(c *gin.Context, err error) {
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
		RespondConflict(c, "Reservation already resolved")
	case errors.As(err, &lockTimeout):
		RespondUnavailable(c, "Account is busy, retry the request")
	case errors.Is(err, account.ErrInvalidAmount):
		RespondBadRequest(c, "Amount must be a positive decimal")
	default:
		h.logger.Error("Reservation operation failed", "error", err)
		RespondInternalError(c)
	}
}

// parseOptionalUUID maps an empty string to the zero uuid; the binding layer
// already rejected malformed values
func parseOptionalUUID(raw string) uuid.UUID {
	if raw == "" {
		return uuid.Nil
	}
	return uuid.MustParse(raw)
}
