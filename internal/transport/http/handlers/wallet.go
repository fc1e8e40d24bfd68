package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/transport/http/middleware"
	"github.com/arklim/appmarket-accounts/internal/usecase"
)

const idempotencyKeyHeader = "Idempotency-Key"

var topUpErrorCases = []ErrorCase{
	{Err: usecase.ErrRequestIDReused, Status: http.StatusConflict, Message: "idempotency key already used with a different amount"},
}

// Ledger is the slice of usecase.LedgerService used by the wallet and purchase endpoints.
type Ledger interface {
	TopUp(ctx context.Context, input usecase.TopUpInput) (usecase.TopUpResult, error)
	PurchaseApp(ctx context.Context, accountID, appID string) (*domain.Purchase, error)
	GetHistory(ctx context.Context, accountID string) ([]domain.Purchase, error)
	GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// WalletHandler serves the caller's balance. Every route acts on the authenticated account only.
type WalletHandler struct {
	ledger Ledger
}

func NewWalletHandler(ledger Ledger) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

func (h *WalletHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallet", h.balance)
	r.POST("/wallet/top-up", h.topUp)
}

func (h *WalletHandler) balance(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to read balance")
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{AccountID: accountID, Balance: balance.StringFixed(moneyScale)})
}

func (h *WalletHandler) topUp(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid top-up payload"))
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		resp := NewErrorResponse(c, "amount: must be a decimal number")
		resp.Field = "amount"
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	result, err := h.ledger.TopUp(c.Request.Context(), usecase.TopUpInput{
		AccountID: accountID,
		Amount:    amount,
		RequestID: c.GetHeader(idempotencyKeyHeader),
	})
	if err != nil {
		RespondWithMappedError(c, err, topUpErrorCases, http.StatusInternalServerError, "failed to top up balance")
		return
	}

	c.JSON(http.StatusOK, TopUpResponse{
		AccountID: accountID,
		Balance:   result.Balance.StringFixed(moneyScale),
		Applied:   result.Applied,
	})
}
