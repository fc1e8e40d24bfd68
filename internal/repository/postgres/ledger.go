package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/core/port"
	"github.com/arklim/appmarket-accounts/internal/repository"
)

const (
	purchasesTable     = "market.purchases"
	topUpRequestsTable = "market.top_up_requests"

	activePurchaseConstraint = "purchases_account_app_active_key"
)

// LedgerRepository implements port.LedgerStore using PostgreSQL.
type LedgerRepository struct {
	db      pgBeginner
	builder squirrel.StatementBuilderType
}

// NewLedgerRepository constructs a ledger repository backed by a pool (or a pool mock).
func NewLedgerRepository(db pgBeginner) *LedgerRepository {
	return &LedgerRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Balance returns the current balance of the account.
func (r *LedgerRepository) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	stmt, args, err := r.builder.Select("balance").
		From(accountsTable).
		Where(squirrel.Eq{"id": accountID}).
		ToSql()
	if err != nil {
		return decimal.Zero, fmt.Errorf("build select balance sql: %w", err)
	}

	var balance decimal.Decimal
	if err := r.db.QueryRow(ctx, stmt, args...).Scan(&balance); err != nil {
		if isNoRows(err) {
			return decimal.Zero, repository.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("scan balance: %w", err)
	}

	return balance, nil
}

// ListPurchases returns every purchase of the account, newest first, with the app name attached.
func (r *LedgerRepository) ListPurchases(ctx context.Context, accountID string) ([]domain.Purchase, error) {
	stmt, args, err := r.builder.Select(
		"p.id",
		"p.account_id",
		"p.app_id",
		"p.price_charged",
		"p.status",
		"p.purchased_at",
		"p.payment_method",
		"p.transaction_ref",
		"a.name",
	).
		From(purchasesTable + " p").
		LeftJoin(appsTable + " a ON a.id = p.app_id").
		Where(squirrel.Eq{"p.account_id": accountID}).
		OrderBy("p.purchased_at DESC", "p.id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list purchases sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0)
	for rows.Next() {
		var (
			purchase      domain.Purchase
			paymentMethod *string
			txRef         *string
			appName       *string
		)

		if err := rows.Scan(
			&purchase.ID,
			&purchase.AccountID,
			&purchase.AppID,
			&purchase.PriceCharged,
			&purchase.Status,
			&purchase.PurchasedAt,
			&paymentMethod,
			&txRef,
			&appName,
		); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}

		purchase.PaymentMethod = paymentMethod
		purchase.TransactionRef = txRef
		purchase.PurchasedAt = purchase.PurchasedAt.UTC()
		summary := &domain.AppSummary{ID: purchase.AppID}
		if appName != nil {
			summary.Name = *appName
		}
		purchase.App = summary

		purchases = append(purchases, purchase)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}

	return purchases, nil
}

// WithinTx runs fn inside a transaction. The transaction is committed only when fn
// returns nil; any error (including a cancelled context) rolls it back.
func (r *LedgerRepository) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback ledger tx: %w", rbErr))
		}
	}()

	if err = fn(&ledgerTx{exec: tx, builder: r.builder}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	return nil
}

type ledgerTx struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// LockAccount selects the account row FOR UPDATE so concurrent purchases of the same
// account queue behind this transaction.
func (t *ledgerTx) LockAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	stmt, args, err := t.builder.Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"id": accountID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lock account sql: %w", err)
	}

	return scanAccount(t.exec.QueryRow(ctx, stmt, args...))
}

func (t *ledgerTx) HasActivePurchase(ctx context.Context, accountID, appID string) (bool, error) {
	statuses := make([]string, 0, len(domain.ActivePurchaseStatuses))
	for _, status := range domain.ActivePurchaseStatuses {
		statuses = append(statuses, string(status))
	}

	stmt, args, err := t.builder.Select("1").
		Prefix("SELECT EXISTS (").
		From(purchasesTable).
		Where(squirrel.Eq{
			"account_id": accountID,
			"app_id":     appID,
			"status":     statuses,
		}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build active purchase sql: %w", err)
	}

	var exists bool
	if err := t.exec.QueryRow(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("scan active purchase: %w", err)
	}

	return exists, nil
}

// Debit is the conditional decrement: it only applies when balance >= amount.
func (t *ledgerTx) Debit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	stmt, args, err := t.builder.Update(accountsTable).
		Set("balance", squirrel.Expr("balance - ?", amount)).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": accountID}).
		Where(squirrel.GtOrEq{"balance": amount}).
		Suffix("RETURNING balance").
		ToSql()
	if err != nil {
		return decimal.Zero, fmt.Errorf("build debit sql: %w", err)
	}

	var balance decimal.Decimal
	if err := t.exec.QueryRow(ctx, stmt, args...).Scan(&balance); err != nil {
		if isNoRows(err) {
			return decimal.Zero, repository.ErrInsufficientBalance
		}
		return decimal.Zero, fmt.Errorf("debit balance: %w", err)
	}

	return balance, nil
}

func (t *ledgerTx) Credit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	stmt, args, err := t.builder.Update(accountsTable).
		Set("balance", squirrel.Expr("balance + ?", amount)).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": accountID}).
		Suffix("RETURNING balance").
		ToSql()
	if err != nil {
		return decimal.Zero, fmt.Errorf("build credit sql: %w", err)
	}

	var balance decimal.Decimal
	if err := t.exec.QueryRow(ctx, stmt, args...).Scan(&balance); err != nil {
		if isNoRows(err) {
			return decimal.Zero, repository.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("credit balance: %w", err)
	}

	return balance, nil
}

func (t *ledgerTx) CreatePurchase(ctx context.Context, purchase domain.Purchase) error {
	stmt, args, err := t.builder.Insert(purchasesTable).
		Columns(
			"id",
			"account_id",
			"app_id",
			"price_charged",
			"status",
			"purchased_at",
			"payment_method",
			"transaction_ref",
		).
		Values(
			purchase.ID,
			purchase.AccountID,
			purchase.AppID,
			purchase.PriceCharged,
			purchase.Status,
			purchase.PurchasedAt.UTC(),
			optionalString(purchase.PaymentMethod),
			optionalString(purchase.TransactionRef),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert purchase sql: %w", err)
	}

	if _, err := t.exec.Exec(ctx, stmt, args...); err != nil {
		if pgErr, ok := uniqueViolation(err); ok {
			if pgErr.ConstraintName == "" || strings.EqualFold(pgErr.ConstraintName, activePurchaseConstraint) {
				return fmt.Errorf("insert purchase: %w", repository.ErrConflict)
			}
		}
		return fmt.Errorf("insert purchase: %w", err)
	}

	return nil
}

func (t *ledgerTx) ClaimTopUpRequest(ctx context.Context, accountID, requestID string, amount decimal.Decimal) (bool, decimal.Decimal, error) {
	stmt, args, err := t.builder.Insert(topUpRequestsTable).
		Columns("account_id", "request_id", "amount", "created_at").
		Values(accountID, requestID, amount, time.Now().UTC()).
		Suffix("ON CONFLICT (account_id, request_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("build claim top-up request sql: %w", err)
	}

	ct, err := t.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("claim top-up request: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return true, amount, nil
	}

	stmt, args, err = t.builder.Select("amount").
		From(topUpRequestsTable).
		Where(squirrel.Eq{"account_id": accountID, "request_id": requestID}).
		ToSql()
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("build select top-up request sql: %w", err)
	}

	var stored decimal.Decimal
	if err := t.exec.QueryRow(ctx, stmt, args...).Scan(&stored); err != nil {
		return false, decimal.Zero, fmt.Errorf("read top-up request: %w", err)
	}

	return false, stored, nil
}

var (
	_ port.LedgerStore = (*LedgerRepository)(nil)
	_ port.LedgerTx    = (*ledgerTx)(nil)
)
