package models

import "errors"

// Typed rejection reasons returned by the core services. Handlers map
// these onto HTTP statuses; none of them indicate a system fault.
var (
	// ErrValidation rejects malformed input before any state change.
	ErrValidation = errors.New("validation error")

	// ErrNotRespondable means the record is not in a state that
	// permits the requested transition. Expected under concurrent
	// use (losing an accept race, responding after expiry).
	ErrNotRespondable = errors.New("not respondable")

	// ErrForbidden means the actor is not a party to the record.
	ErrForbidden = errors.New("forbidden")

	// ErrInsufficientBalance rejects a debit that would push the
	// balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNothingToRefund rejects a refund of a session with no
	// charged amount.
	ErrNothingToRefund = errors.New("nothing to refund")

	// ErrDuplicateInvitation rejects a second live invitation for
	// the same (request, consultant) pair.
	ErrDuplicateInvitation = errors.New("duplicate invitation")

	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorage wraps an unexpected storage failure. The operation
	// left no partial writes and may be retried by the caller.
	ErrStorage = errors.New("storage error")
)
