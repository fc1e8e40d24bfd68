package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/core/port"
	"github.com/arklim/appmarket-accounts/internal/infra/logger"
	"github.com/arklim/appmarket-accounts/internal/infra/telemetry"
	"github.com/arklim/appmarket-accounts/internal/repository"
)

const (
	tracerName         = "github.com/arklim/appmarket-accounts/internal/usecase"
	maxRequestIDLength = 128
	moneyScale         = 2
)

// LedgerConfig bounds wallet operations.
type LedgerConfig struct {
	MaxTopUp decimal.Decimal
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{MaxTopUp: decimal.NewFromInt(10000)}
}

// TopUpInput describes a credit. RequestID is optional; when set, repeating the
// same (account, request id) credits nothing, and repeating it with another amount
// fails with ErrRequestIDReused.
type TopUpInput struct {
	AccountID string
	Amount    decimal.Decimal
	RequestID string
}

// TopUpResult carries the balance after the call. Applied is false when the request id
// had already been used.
type TopUpResult struct {
	Balance decimal.Decimal
	Applied bool
}

// LedgerService is the only writer of balances and purchases.
type LedgerService struct {
	store     port.LedgerStore
	catalog   port.AppCatalog
	publisher port.EventPublisher
	cfg       LedgerConfig
	logger    *zap.Logger
	metrics   *telemetry.LedgerMetrics
	tracer    trace.Tracer
	now       func() time.Time
}

func NewLedgerService(
	store port.LedgerStore,
	catalog port.AppCatalog,
	publisher port.EventPublisher,
	cfg LedgerConfig,
	log *zap.Logger,
) *LedgerService {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.MaxTopUp.IsPositive() {
		cfg.MaxTopUp = DefaultLedgerConfig().MaxTopUp
	}

	return &LedgerService{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		cfg:       cfg,
		logger:    log.Named("ledger"),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
}

func (s *LedgerService) WithMetrics(metrics *telemetry.LedgerMetrics) *LedgerService {
	s.metrics = metrics
	return s
}

// WithClock overrides the clock used for purchase timestamps.
func (s *LedgerService) WithClock(now func() time.Time) *LedgerService {
	if now != nil {
		s.now = now
	}
	return s
}

// TopUp credits amount to the account and returns the new balance.
func (s *LedgerService) TopUp(ctx context.Context, input TopUpInput) (TopUpResult, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerService.TopUp")
	defer span.End()

	accountID, err := parseID("account_id", input.AccountID)
	if err != nil {
		s.metrics.ObserveTopUp(telemetry.OutcomeInvalid)
		return TopUpResult{}, err
	}
	if err := s.validateTopUpAmount(input.Amount); err != nil {
		s.metrics.ObserveTopUp(telemetry.OutcomeInvalid)
		return TopUpResult{}, err
	}
	requestID := strings.TrimSpace(input.RequestID)
	if len(requestID) > maxRequestIDLength {
		s.metrics.ObserveTopUp(telemetry.OutcomeInvalid)
		return TopUpResult{}, invalid("request_id", fmt.Sprintf("must be at most %d characters", maxRequestIDLength))
	}

	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.String("top_up.amount", input.Amount.StringFixed(moneyScale)),
		attribute.Bool("top_up.keyed", requestID != ""),
	)

	result := TopUpResult{Applied: true}
	err = s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		if requestID != "" {
			account, err := tx.LockAccount(ctx, accountID)
			if err != nil {
				return err
			}
			claimed, stored, err := tx.ClaimTopUpRequest(ctx, accountID, requestID, input.Amount)
			if err != nil {
				return err
			}
			if !claimed {
				if !stored.Equal(input.Amount) {
					return ErrRequestIDReused
				}
				result = TopUpResult{Balance: account.Balance, Applied: false}
				return nil
			}
		}

		balance, err := tx.Credit(ctx, accountID, input.Amount)
		if err != nil {
			return err
		}
		result.Balance = balance
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.ObserveTopUp(telemetry.OutcomeNotFound)
			return TopUpResult{}, ErrAccountNotFound
		}
		if errors.Is(err, ErrRequestIDReused) {
			s.metrics.ObserveTopUp(telemetry.OutcomeConflict)
			logger.WithContext(ctx, s.logger).Info("top-up request id reused with a different amount",
				zap.String("account_id", accountID),
				zap.String("request_id", requestID),
			)
			return TopUpResult{}, ErrRequestIDReused
		}
		s.metrics.ObserveTopUp(telemetry.OutcomeError)
		return TopUpResult{}, s.storageFailure(ctx, span, "top up", err)
	}

	log := logger.WithContext(ctx, s.logger)
	if !result.Applied {
		s.metrics.ObserveTopUp(telemetry.OutcomeDuplicate)
		log.Info("top-up request already applied",
			zap.String("account_id", accountID),
			zap.String("request_id", requestID),
		)
		return result, nil
	}

	s.metrics.ObserveTopUp(telemetry.OutcomeSuccess)
	log.Info("balance topped up",
		zap.String("account_id", accountID),
		zap.String("amount", input.Amount.StringFixed(moneyScale)),
		zap.String("balance", result.Balance.StringFixed(moneyScale)),
	)

	event := domain.BalanceToppedUpEvent{
		EventID:    uuid.NewString(),
		AccountID:  accountID,
		Amount:     input.Amount,
		Balance:    result.Balance,
		ToppedUpAt: s.now().UTC(),
	}
	if requestID != "" {
		event.RequestID = &requestID
	}
	if s.publisher != nil {
		if err := s.publisher.PublishBalanceToppedUp(ctx, event); err != nil {
			log.Warn("publish balance topped up event failed", zap.String("account_id", accountID), zap.Error(err))
		}
	}

	return result, nil
}

// PurchaseApp charges the app's current price and records a COMPLETED purchase in one
// transaction. It is never retried here: a second call for the same app fails with ErrAlreadyOwned.
func (s *LedgerService) PurchaseApp(ctx context.Context, accountID, appID string) (*domain.Purchase, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerService.PurchaseApp")
	defer span.End()

	accountID, err := parseID("account_id", accountID)
	if err != nil {
		s.metrics.ObservePurchase(telemetry.OutcomeInvalid)
		return nil, err
	}
	appID, err = parseID("app_id", appID)
	if err != nil {
		s.metrics.ObservePurchase(telemetry.OutcomeInvalid)
		return nil, err
	}
	span.SetAttributes(attribute.String("account.id", accountID), attribute.String("app.id", appID))

	app, err := s.catalog.GetApp(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.ObservePurchase(telemetry.OutcomeNotFound)
			return nil, ErrAppNotFound
		}
		s.metrics.ObservePurchase(telemetry.OutcomeError)
		return nil, s.storageFailure(ctx, span, "lookup app", err)
	}
	if app.Price.IsNegative() {
		s.metrics.ObservePurchase(telemetry.OutcomeError)
		return nil, s.storageFailure(ctx, span, "lookup app", fmt.Errorf("app %s has negative price %s", app.ID, app.Price))
	}

	var (
		purchase domain.Purchase
		balance  decimal.Decimal
	)
	err = s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		account, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrAccountNotFound
			}
			return err
		}

		owned, err := tx.HasActivePurchase(ctx, accountID, app.ID)
		if err != nil {
			return err
		}
		if owned {
			return ErrAlreadyOwned
		}

		if account.Balance.LessThan(app.Price) {
			return &InsufficientFundsError{Balance: account.Balance, Price: app.Price}
		}

		balance, err = tx.Debit(ctx, accountID, app.Price)
		if err != nil {
			if errors.Is(err, repository.ErrInsufficientBalance) {
				return &InsufficientFundsError{Balance: account.Balance, Price: app.Price}
			}
			return err
		}

		purchase = domain.Purchase{
			ID:           uuid.NewString(),
			AccountID:    accountID,
			AppID:        app.ID,
			PriceCharged: app.Price,
			Status:       domain.PurchaseStatusCompleted,
			PurchasedAt:  s.now().UTC(),
			App:          app.Summary(),
		}
		if err := tx.CreatePurchase(ctx, purchase); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrAlreadyOwned
			}
			return err
		}

		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountNotFound):
			s.metrics.ObservePurchase(telemetry.OutcomeNotFound)
			return nil, ErrAccountNotFound
		case errors.Is(err, ErrAlreadyOwned):
			s.metrics.ObservePurchase(telemetry.OutcomeAlreadyOwned)
			return nil, ErrAlreadyOwned
		case errors.Is(err, ErrInsufficientFunds):
			s.metrics.ObservePurchase(telemetry.OutcomeInsufficientFunds)
			var funds *InsufficientFundsError
			if errors.As(err, &funds) {
				return nil, funds
			}
			return nil, ErrInsufficientFunds
		}
		s.metrics.ObservePurchase(telemetry.OutcomeError)
		return nil, s.storageFailure(ctx, span, "purchase app", err)
	}

	s.metrics.ObservePurchase(telemetry.OutcomeSuccess)
	log := logger.WithContext(ctx, s.logger)
	log.Info("app purchased",
		zap.String("purchase_id", purchase.ID),
		zap.String("account_id", accountID),
		zap.String("app_id", app.ID),
		zap.String("price", app.Price.StringFixed(moneyScale)),
	)

	if s.publisher != nil {
		event := domain.AppPurchasedEvent{
			EventID:      uuid.NewString(),
			PurchaseID:   purchase.ID,
			AccountID:    accountID,
			AppID:        app.ID,
			PriceCharged: purchase.PriceCharged,
			Balance:      balance,
			PurchasedAt:  purchase.PurchasedAt,
		}
		if err := s.publisher.PublishAppPurchased(ctx, event); err != nil {
			log.Warn("publish app purchased event failed", zap.String("purchase_id", purchase.ID), zap.Error(err))
		}
	}

	return &purchase, nil
}

// GetHistory lists the account's purchases, newest first. An unknown account has no history.
func (s *LedgerService) GetHistory(ctx context.Context, accountID string) ([]domain.Purchase, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerService.GetHistory")
	defer span.End()

	accountID, err := parseID("account_id", accountID)
	if err != nil {
		return nil, err
	}

	purchases, err := s.store.ListPurchases(ctx, accountID)
	if err != nil {
		return nil, s.storageFailure(ctx, span, "list purchases", err)
	}
	return purchases, nil
}

// GetBalance returns the current balance.
func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerService.GetBalance")
	defer span.End()

	accountID, err := parseID("account_id", accountID)
	if err != nil {
		return decimal.Zero, err
	}

	balance, err := s.store.Balance(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, s.storageFailure(ctx, span, "read balance", err)
	}
	return balance, nil
}

func (s *LedgerService) validateTopUpAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}
	if amount.GreaterThan(s.cfg.MaxTopUp) {
		return invalid("amount", "must not exceed "+s.cfg.MaxTopUp.StringFixed(moneyScale))
	}
	if !amount.Equal(amount.Truncate(moneyScale)) {
		return invalid("amount", "must have at most 2 decimal places")
	}
	return nil
}

func (s *LedgerService) storageFailure(ctx context.Context, span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	logger.WithContext(ctx, s.logger).Error("ledger storage failure", zap.String("op", op), zap.Error(err))
	return &StorageError{Op: op}
}

// parseID requires a canonical UUID and returns it lower-cased.
func parseID(field, raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", invalid(field, "must be a valid UUID")
	}
	return id.String(), nil
}
