package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/appmarket-accounts/internal/transport/http/middleware"
	"github.com/arklim/appmarket-accounts/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// commonCases covers the sentinels every account-scoped endpoint can return.
var commonCases = []ErrorCase{
	{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
	{Err: usecase.ErrStorage, Status: http.StatusInternalServerError, Message: "internal error"},
	{Err: usecase.ErrInternal, Status: http.StatusInternalServerError, Message: "internal error"},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
// Typed validation, lockout and insufficient-funds errors carry their own payloads and are handled first.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var validation *usecase.ValidationError
	if errors.As(err, &validation) {
		resp := NewErrorResponse(c, validation.Error())
		resp.Field = validation.Field
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	var locked *usecase.LockedError
	if errors.As(err, &locked) {
		retryAfter := int(math.Ceil(time.Until(locked.Until).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusLocked, LockedResponse{
			Error:            locked.Error(),
			LockedUntil:      locked.Until,
			RemainingMinutes: locked.RemainingMinutes,
			TraceID:          middleware.GetTraceID(c),
		})
		return
	}

	var funds *usecase.InsufficientFundsError
	if errors.As(err, &funds) {
		c.JSON(http.StatusPaymentRequired, InsufficientFundsResponse{
			Error:   "insufficient funds",
			Balance: funds.Balance.StringFixed(moneyScale),
			Price:   funds.Price.StringFixed(moneyScale),
			TraceID: middleware.GetTraceID(c),
		})
		return
	}

	for _, cs := range append(cases, commonCases...) {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}
