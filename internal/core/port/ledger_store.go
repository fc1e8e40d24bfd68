package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
)

// LedgerStore exposes the balance and purchase persistence used by the ledger service.
type LedgerStore interface {
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
	ListPurchases(ctx context.Context, accountID string) ([]domain.Purchase, error)
	// WithinTx runs fn inside one database transaction, committing when fn returns nil
	// and rolling back otherwise.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the set of statements available inside a ledger transaction.
type LedgerTx interface {
	// LockAccount reads the account row and holds a row lock until the transaction ends.
	LockAccount(ctx context.Context, accountID string) (*domain.Account, error)
	HasActivePurchase(ctx context.Context, accountID, appID string) (bool, error)
	// Debit subtracts amount only when the resulting balance stays non-negative.
	Debit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error)
	CreatePurchase(ctx context.Context, purchase domain.Purchase) error
	// ClaimTopUpRequest records a client request id. When the id was already used it
	// returns false together with the amount stored by the first request.
	ClaimTopUpRequest(ctx context.Context, accountID, requestID string, amount decimal.Decimal) (bool, decimal.Decimal, error)
}

// AppCatalog is the read-only view of the catalog the ledger depends on.
type AppCatalog interface {
	GetApp(ctx context.Context, id string) (*domain.App, error)
}
