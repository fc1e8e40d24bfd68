package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/appmarket-accounts/internal/transport/http/middleware"
	"github.com/arklim/appmarket-accounts/internal/usecase"
)

// PurchaseHandler exposes app purchases and the caller's purchase history.
type PurchaseHandler struct {
	ledger Ledger
}

func NewPurchaseHandler(ledger Ledger) *PurchaseHandler {
	return &PurchaseHandler{ledger: ledger}
}

func (h *PurchaseHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/apps/:id/purchase", h.purchase)
	r.GET("/purchases", h.history)
}

var purchaseErrorCases = []ErrorCase{
	{Err: usecase.ErrAppNotFound, Status: http.StatusNotFound, Message: "app not found"},
	{Err: usecase.ErrAlreadyOwned, Status: http.StatusConflict, Message: "app already owned"},
}

func (h *PurchaseHandler) purchase(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	purchase, err := h.ledger.PurchaseApp(c.Request.Context(), accountID, c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, purchaseErrorCases, http.StatusInternalServerError, "failed to purchase app")
		return
	}

	c.JSON(http.StatusCreated, newPurchaseResponse(*purchase))
}

func (h *PurchaseHandler) history(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	purchases, err := h.ledger.GetHistory(c.Request.Context(), accountID)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to list purchases")
		return
	}

	resp := PurchaseHistoryResponse{Purchases: make([]PurchaseResponse, 0, len(purchases))}
	for _, p := range purchases {
		resp.Purchases = append(resp.Purchases, newPurchaseResponse(p))
	}
	c.JSON(http.StatusOK, resp)
}
