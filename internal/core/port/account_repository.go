package port

import (
	"context"
	"time"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
)

// LoginFailure describes the counter update applied after a failed credential check.
type LoginFailure struct {
	MaxAttempts  int
	LockoutUntil time.Time
	Now          time.Time
}

// AccountRepository exposes persistence behavior for accounts used by the access gate.
// RecordLoginFailure and RecordLoginSuccess must apply their change as a single atomic
// statement guarded by "not locked at Now".
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	RecordLoginFailure(ctx context.Context, id string, failure LoginFailure) (domain.LoginAttemptResult, error)
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error
}
