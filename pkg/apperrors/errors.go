package apperrors

import "errors"

// Sentinel errors shared by the store, the approval workflow and the handlers.
// The HTTP layer maps them to status codes in utils.WriteError.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAlreadyReviewed = errors.New("approval request already reviewed")
	ErrValidation      = errors.New("validation failed")
	ErrUserInactive    = errors.New("user account is deactivated")

	// ErrNoCreator means the configured approver account does not exist.
	ErrNoCreator = errors.New("creator account not found")
)
