package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/transport/http/middleware"
)

const moneyScale = 2

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// LockedResponse is returned with 423 while the account is locked out.
type LockedResponse struct {
	Error            string    `json:"error"`
	LockedUntil      time.Time `json:"locked_until"`
	RemainingMinutes int       `json:"remaining_minutes"`
	TraceID          string    `json:"trace_id,omitempty"`
}

// InsufficientFundsResponse is returned with 402 when the balance does not cover the price.
type InsufficientFundsResponse struct {
	Error   string `json:"error"`
	Balance string `json:"balance"`
	Price   string `json:"price"`
	TraceID string `json:"trace_id,omitempty"`
}

type AccountSummary struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int            `json:"expires_in"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Account     AccountSummary `json:"account"`
}

type RegisterRequest struct {
	Email       string `json:"email" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
	Password    string `json:"password" binding:"required"`
}

type RegisterResponse struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Role        domain.Role `json:"role"`
	Balance     string      `json:"balance"`
	CreatedAt   time.Time   `json:"created_at"`
}

type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

// TopUpRequest carries the amount as a decimal string ("10.00") so no precision is lost in JSON.
type TopUpRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type TopUpResponse struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
	Applied   bool   `json:"applied"`
}

type AppSummary struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type PurchaseResponse struct {
	ID           string                `json:"id"`
	AppID        string                `json:"app_id"`
	App          *AppSummary           `json:"app,omitempty"`
	PriceCharged string                `json:"price_charged"`
	Status       domain.PurchaseStatus `json:"status"`
	PurchasedAt  time.Time             `json:"purchased_at"`
}

type PurchaseHistoryResponse struct {
	Purchases []PurchaseResponse `json:"purchases"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func newPurchaseResponse(p domain.Purchase) PurchaseResponse {
	resp := PurchaseResponse{
		ID:           p.ID,
		AppID:        p.AppID,
		PriceCharged: p.PriceCharged.StringFixed(moneyScale),
		Status:       p.Status,
		PurchasedAt:  p.PurchasedAt.UTC(),
	}
	if p.App != nil {
		resp.App = &AppSummary{ID: p.App.ID, Name: p.App.Name}
	}
	return resp
}
