package port

import (
	"context"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishBalanceToppedUp(ctx context.Context, event domain.BalanceToppedUpEvent) error
	PublishAppPurchased(ctx context.Context, event domain.AppPurchasedEvent) error
	PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error
}
