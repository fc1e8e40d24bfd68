package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a unique constraint rejected the write.
	ErrConflict = errors.New("repository: conflict")
	// ErrInsufficientBalance indicates a conditional debit matched no row.
	ErrInsufficientBalance = errors.New("repository: insufficient balance")
	// ErrPreconditionFailed indicates a guarded update matched no row because its condition no longer held.
	ErrPreconditionFailed = errors.New("repository: precondition failed")
)
