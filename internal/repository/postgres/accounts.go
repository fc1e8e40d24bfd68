package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/core/port"
	"github.com/arklim/appmarket-accounts/internal/repository"
)

const accountsTable = "market.accounts"

var accountColumns = []string{
	"id",
	"email",
	"display_name",
	"password_hash",
	"role",
	"balance",
	"failed_login_attempts",
	"lockout_until",
	"last_login_at",
	"created_at",
	"updated_at",
}

// recordLoginFailureSQL increments the counter in place so concurrent failures are all
// counted, and derives lockout_until from the new counter value. The guard keeps a
// running lockout untouched.
const recordLoginFailureSQL = `
	UPDATE market.accounts
	   SET failed_login_attempts = failed_login_attempts + 1,
	       lockout_until = CASE
	           WHEN failed_login_attempts + 1 >= $2 THEN $3::timestamptz
	           ELSE NULL
	       END,
	       updated_at = $4::timestamptz
	 WHERE id = $1
	   AND (lockout_until IS NULL OR lockout_until <= $4::timestamptz)
	RETURNING failed_login_attempts, lockout_until
`

// AccountRepository implements port.AccountRepository using PostgreSQL.
type AccountRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	return &AccountRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new account row. The login counter and lockout start at their column defaults.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	stmt, args, err := r.builder.Insert(accountsTable).
		Columns("id", "email", "display_name", "password_hash", "role", "balance", "created_at", "updated_at").
		Values(
			account.ID,
			strings.ToLower(strings.TrimSpace(account.Email)),
			strings.TrimSpace(account.DisplayName),
			account.PasswordHash,
			account.Role,
			account.Balance,
			account.CreatedAt.UTC(),
			account.UpdatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return fmt.Errorf("insert account: %w", repository.ErrConflict)
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	account, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetByEmail retrieves an account by its (case-insensitive) email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"email": strings.ToLower(strings.TrimSpace(email))}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by email sql: %w", err)
	}

	account, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, err
	}
	return account, nil
}

// RecordLoginFailure atomically bumps the failure counter and sets or clears the lockout.
// It returns repository.ErrPreconditionFailed when the account is locked at failure.Now.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id string, failure port.LoginFailure) (domain.LoginAttemptResult, error) {
	var (
		result       domain.LoginAttemptResult
		lockoutUntil *time.Time
	)

	row := r.exec.QueryRow(ctx, recordLoginFailureSQL,
		id,
		failure.MaxAttempts,
		failure.LockoutUntil.UTC(),
		failure.Now.UTC(),
	)
	if err := row.Scan(&result.FailedAttempts, &lockoutUntil); err != nil {
		if isNoRows(err) {
			return domain.LoginAttemptResult{}, r.missOrLocked(ctx, id)
		}
		return domain.LoginAttemptResult{}, fmt.Errorf("record login failure: %w", err)
	}

	result.LockoutUntil = utcPtr(lockoutUntil)
	return result, nil
}

// RecordLoginSuccess resets the counter, clears the lockout and stamps the login time.
// It returns repository.ErrPreconditionFailed when the account is locked at the given time.
func (r *AccountRepository) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	stmt, args, err := r.builder.Update(accountsTable).
		Set("failed_login_attempts", 0).
		Set("lockout_until", nil).
		Set("last_login_at", at).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Or{
			squirrel.Eq{"lockout_until": nil},
			squirrel.LtOrEq{"lockout_until": at},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record login success sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return r.missOrLocked(ctx, id)
	}

	return nil
}

// missOrLocked tells apart an unknown account from a guarded update that lost to a lockout.
func (r *AccountRepository) missOrLocked(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Select("1").
		From(accountsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build account exists sql: %w", err)
	}

	var one int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&one); err != nil {
		if isNoRows(err) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("check account exists: %w", err)
	}

	return repository.ErrPreconditionFailed
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account      domain.Account
		lockoutUntil *time.Time
		lastLogin    *time.Time
	)

	if err := row.Scan(
		&account.ID,
		&account.Email,
		&account.DisplayName,
		&account.PasswordHash,
		&account.Role,
		&account.Balance,
		&account.FailedLoginAttempts,
		&lockoutUntil,
		&lastLogin,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	account.LockoutUntil = utcPtr(lockoutUntil)
	account.LastLoginAt = utcPtr(lastLogin)

	return &account, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
