package handler

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewind-settlement/internal/api/middleware"
	"github.com/tradewind-settlement/internal/domain/account"
	"github.com/tradewind-settlement/internal/settlement"
)

// AccountHandler handles HTTP requests for account operations
type AccountHandler struct {
	settlementSvc settlement.Service
	logger        *slog.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(logger *slog.Logger, settlementSvc settlement.Service) *AccountHandler {
	return &AccountHandler{
		settlementSvc: settlementSvc,
		logger:        logger,
	}
}

// Create provisions a new settlement account
func (h *AccountHandler) Create(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondBadRequest(c, "Invalid user id")
		return
	}
	initialBalance, err := decimal.NewFromString(req.InitialBalance)
	if err != nil || initialBalance.IsNegative() {
		RespondBadRequest(c, "Invalid initial balance")
		return
	}

	acct, err := h.settlementSvc.CreateAccount(c.Request.Context(), userID, initialBalance)
	if err != nil {
		h.logger.Error("Failed to create account", "user_id", req.UserID, "error", err)
		RespondInternalError(c)
		return
	}

	RespondCreated(c, mapAccountToResponse(acct))
}

// GetByUserID retrieves an account by its user id
func (h *AccountHandler) GetByUserID(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		RespondBadRequest(c, "Invalid user id")
		return
	}

	acct, err := h.settlementSvc.GetAccount(c.Request.Context(), userID)
	if err != nil {
		var notFound account.ErrAccountNotFound
		if errors.As(err, &notFound) {
			RespondNotFound(c, "Account not found")
			return
		}
		h.logger.Error("Failed to get account", "user_id", userID.String(), "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, mapAccountToResponse(acct))
}

// Deposit adds funds to an account
func (h *AccountHandler) Deposit(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		RespondBadRequest(c, "Invalid user id")
		return
	}

	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		RespondBadRequest(c, "Amount must be a positive decimal")
		return
	}

	acct, err := h.settlementSvc.Deposit(c.Request.Context(), userID, amount, middleware.GetCorrelationID(c))
	if err != nil {
		h.respondMutationError(c, userID, err)
		return
	}

	RespondOK(c, mapAccountToResponse(acct))
}

// respondMutationError maps domain errors on the account mutation path
func (h *AccountHandler) respondMutationError(c *gin.Context, userID uuid.UUID, err error) {
	var notFound account.ErrAccountNotFound
	var lockTimeout account.ErrLockTimeout

	switch {
	case errors.As(err, &notFound):
		RespondNotFound(c, "Account not found")
	case errors.As(err, &lockTimeout):
		RespondUnavailable(c, "Account is busy, retry the request")
	case errors.Is(err, account.ErrInvalidAmount):
		RespondBadRequest(c, "Amount must be a positive decimal")
	default:
		h.logger.Error("Account mutation failed", "user_id", userID.String(), "error", err)
		RespondInternalError(c)
	}
}
