package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/usecase"
)

// AccessGate is the slice of usecase.AccessGate used by the auth endpoints.
type AccessGate interface {
	Authenticate(ctx context.Context, email, password string) (*usecase.AuthResult, error)
	Register(ctx context.Context, input usecase.RegisterInput) (*domain.Account, error)
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	gate AccessGate
	now  func() time.Time
}

func NewAuthHandler(gate AccessGate) *AuthHandler {
	return &AuthHandler{gate: gate, now: time.Now}
}

// RegisterRoutes binds authentication routes. Rate limiting middleware is applied per route.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares, registerMiddlewares []gin.HandlerFunc) {
	r.POST("/register", append(append([]gin.HandlerFunc{}, registerMiddlewares...), h.register)...)
	r.POST("/login", append(append([]gin.HandlerFunc{}, loginMiddlewares...), h.login)...)
}

var authErrorCases = []ErrorCase{
	{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
	{Err: usecase.ErrAccountExists, Status: http.StatusConflict, Message: "email or display name already registered"},
}

func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	result, err := h.gate.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondWithMappedError(c, err, authErrorCases, http.StatusInternalServerError, "authentication failed")
		return
	}

	expiresIn := int(result.ExpiresAt.Sub(h.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: result.Credential,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		ExpiresAt:   result.ExpiresAt.UTC(),
		Account: AccountSummary{
			ID:    result.Account.ID,
			Email: result.Account.Email,
			Role:  result.Account.Role,
		},
	})
}

func (h *AuthHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	account, err := h.gate.Register(c.Request.Context(), usecase.RegisterInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		RespondWithMappedError(c, err, authErrorCases, http.StatusInternalServerError, "failed to register account")
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		ID:          account.ID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		Role:        account.Role,
		Balance:     account.Balance.StringFixed(moneyScale),
		CreatedAt:   account.CreatedAt.UTC(),
	})
}
