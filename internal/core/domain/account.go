package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role enumerates the account roles known to the marketplace.
type Role string

const (
	RoleUser      Role = "USER"
	RoleDeveloper Role = "DEVELOPER"
	RoleAdmin     Role = "ADMIN"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleDeveloper, RoleAdmin:
		return true
	}
	return false
}

// AccessState describes where an account sits in the login throttling state machine.
type AccessState string

const (
	AccessStateOpen     AccessState = "open"
	AccessStateDegraded AccessState = "degraded"
	AccessStateLocked   AccessState = "locked"
)

// Account mirrors the persisted representation in the accounts table.
type Account struct {
	ID                  string
	Email               string
	DisplayName         string
	PasswordHash        string
	Role                Role
	Balance             decimal.Decimal
	FailedLoginAttempts int
	LockoutUntil        *time.Time
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether the lockout window is still running at now.
func (a Account) IsLocked(now time.Time) bool {
	return a.LockoutUntil != nil && now.Before(*a.LockoutUntil)
}

// LockoutRemaining returns how long the lockout still lasts, or zero when not locked.
func (a Account) LockoutRemaining(now time.Time) time.Duration {
	if !a.IsLocked(now) {
		return 0
	}
	return a.LockoutUntil.Sub(now)
}

// AccessState derives the throttling state. An elapsed lockout with a counter still at
// or above the limit reports Degraded: the next failure re-locks immediately.
func (a Account) AccessState(now time.Time) AccessState {
	if a.IsLocked(now) {
		return AccessStateLocked
	}
	if a.FailedLoginAttempts > 0 {
		return AccessStateDegraded
	}
	return AccessStateOpen
}

// Summary returns the minimal public view of the account.
func (a Account) Summary() AccountSummary {
	return AccountSummary{ID: a.ID, Email: a.Email, Role: a.Role}
}

// AccountSummary is the public identity returned alongside a session credential.
type AccountSummary struct {
	ID    string
	Email string
	Role  Role
}

// LoginAttemptResult is the counter state persisted after a failed login.
type LoginAttemptResult struct {
	FailedAttempts int
	LockoutUntil   *time.Time
}

// Locked reports whether the recorded failure put the account into lockout.
func (r LoginAttemptResult) Locked(now time.Time) bool {
	return r.LockoutUntil != nil && now.Before(*r.LockoutUntil)
}
