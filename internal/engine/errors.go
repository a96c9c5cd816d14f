package engine

import (
	"errors"

	"labreserve-backend/internal/model"
)

// Kind classifies an admission failure. Handlers branch on the kind;
// the Message is what the user sees.
type Kind string

const (
	KindOutsideBusinessHours Kind = "outside_business_hours"
	KindInvalidDuration      Kind = "invalid_duration"
	KindInvalidStartTime     Kind = "invalid_start_time"
	KindResourceUnavailable  Kind = "resource_unavailable"
	KindHolderLimitExceeded  Kind = "holder_limit_exceeded"
	KindSlotConflict         Kind = "slot_conflict"
	KindNotAuthorized        Kind = "not_authorized"
	KindStoreUnavailable     Kind = "store_unavailable"
	KindInvariantViolation   Kind = "invariant_violation"
)

// Error is a definitive admission outcome carrying a closed kind and a
// human-readable message safe to surface in the UI. Validation errors
// are terminal for the request and never retried.
type Error struct {
	Kind    Kind
	Message string

	// Conflicts lists the reservations blocking a slot-conflict
	// rejection so the UI can show the occupied windows.
	Conflicts []model.Reservation

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the admission kind from err, or KindStoreUnavailable
// for anything that is not an admission outcome.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStoreUnavailable
}
