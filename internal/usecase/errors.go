package usecase

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation indicates the request was rejected before touching storage.
	ErrValidation = errors.New("validation failed")
	// ErrAccountNotFound indicates the account id is unknown.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAppNotFound indicates the app id is unknown to the catalog.
	ErrAppNotFound = errors.New("app not found")
	// ErrAlreadyOwned indicates the account already holds an active purchase of the app.
	ErrAlreadyOwned = errors.New("app already owned")
	// ErrInsufficientFunds indicates the balance is lower than the price.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidCredentials indicates unknown email or wrong password; callers cannot tell which.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates login attempts are rejected until the lockout elapses.
	ErrAccountLocked = errors.New("account locked")
	// ErrStorage indicates the persistence layer failed; details are logged, not returned.
	ErrStorage = errors.New("storage failure")
	// ErrInternal indicates a non-storage dependency (hashing, signing) failed.
	ErrInternal = errors.New("internal failure")
	// ErrAccountExists indicates the email or display name is already registered.
	ErrAccountExists = errors.New("account already exists")
	// ErrRequestIDReused indicates a top-up request id was already used for a different amount.
	ErrRequestIDReused = errors.New("request id already used with a different amount")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientFundsError carries the amounts involved in a rejected purchase.
type InsufficientFundsError struct {
	Balance decimal.Decimal
	Price   decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, price %s", e.Balance.StringFixed(2), e.Price.StringFixed(2))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// LockedError reports when the account unlocks. RemainingMinutes is rounded up and at least 1.
type LockedError struct {
	Until            time.Time
	RemainingMinutes int
}

func newLockedError(until time.Time, remaining time.Duration) *LockedError {
	minutes := int(math.Ceil(remaining.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return &LockedError{Until: until.UTC(), RemainingMinutes: minutes}
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minute(s)", e.RemainingMinutes)
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// StorageError hides the underlying cause from callers; the cause is logged where it is created.
// Op names the failed step.
type StorageError struct {
	Op string
}

func (e *StorageError) Error() string {
	return ErrStorage.Error()
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// InternalError is the opaque counterpart of StorageError for failures outside storage.
type InternalError struct {
	Op string
}

func (e *InternalError) Error() string {
	return ErrInternal.Error()
}

func (e *InternalError) Is(target error) bool {
	return target == ErrInternal
}
