package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus enumerates the lifecycle states of a purchase.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "PENDING"
	PurchaseStatusCompleted PurchaseStatus = "COMPLETED"
	PurchaseStatusFailed    PurchaseStatus = "FAILED"
	PurchaseStatusRefunded  PurchaseStatus = "REFUNDED"
)

// ActivePurchaseStatuses lists the statuses that count as holding the app.
var ActivePurchaseStatuses = []PurchaseStatus{PurchaseStatusPending, PurchaseStatusCompleted}

// Active reports whether the status counts towards ownership of the app.
func (s PurchaseStatus) Active() bool {
	return s == PurchaseStatusPending || s == PurchaseStatusCompleted
}

// Purchase records an ownership grant of an app to an account.
// PriceCharged is captured at purchase time and never follows later price changes.
type Purchase struct {
	ID             string
	AccountID      string
	AppID          string
	PriceCharged   decimal.Decimal
	Status         PurchaseStatus
	PurchasedAt    time.Time
	PaymentMethod  *string
	TransactionRef *string
	App            *AppSummary
}

// App is the catalog entry as seen by the ledger: identity and current list price.
type App struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// Summary returns the denormalized view attached to purchases.
func (a App) Summary() *AppSummary {
	return &AppSummary{ID: a.ID, Name: a.Name}
}

// AppSummary is the denormalized app identity returned with purchases.
type AppSummary struct {
	ID   string
	Name string
}
