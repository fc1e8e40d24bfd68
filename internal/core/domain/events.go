package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceToppedUpEvent represents the payload for market.ledger.balance.topped_up messages.
type BalanceToppedUpEvent struct {
	EventID    string
	AccountID  string
	Amount     decimal.Decimal
	Balance    decimal.Decimal
	RequestID  *string
	ToppedUpAt time.Time
}

// AppPurchasedEvent represents the payload for market.ledger.app.purchased messages.
type AppPurchasedEvent struct {
	EventID      string
	PurchaseID   string
	AccountID    string
	AppID        string
	PriceCharged decimal.Decimal
	Balance      decimal.Decimal
	PurchasedAt  time.Time
}

// AccountLockedEvent represents the payload for market.access.account.locked messages.
type AccountLockedEvent struct {
	EventID        string
	AccountID      string
	FailedAttempts int
	LockedAt       time.Time
	LockedUntil    time.Time
}
