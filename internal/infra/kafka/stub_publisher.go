package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, accountID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("account_id", accountID),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

func (p *StubPublisher) PublishBalanceToppedUp(_ context.Context, event domain.BalanceToppedUpEvent) error {
	p.logEvent(EventBalanceToppedUp, event.AccountID, event.ToppedUpAt,
		zap.String("amount", event.Amount.StringFixed(2)),
		zap.String("balance", event.Balance.StringFixed(2)),
	)
	return nil
}

func (p *StubPublisher) PublishAppPurchased(_ context.Context, event domain.AppPurchasedEvent) error {
	p.logEvent(EventAppPurchased, event.AccountID, event.PurchasedAt,
		zap.String("purchase_id", event.PurchaseID),
		zap.String("app_id", event.AppID),
		zap.String("price_charged", event.PriceCharged.StringFixed(2)),
	)
	return nil
}

func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.logEvent(EventAccountLocked, event.AccountID, event.LockedAt,
		zap.Int("failed_attempts", event.FailedAttempts),
		zap.Time("locked_until", event.LockedUntil.UTC()),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
