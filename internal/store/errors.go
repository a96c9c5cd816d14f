package store

import "errors"

// Sentinel errors surfaced by the atomic store operations. The engine
// maps these onto its user-facing error taxonomy; anything else coming
// out of the store is treated as a transient or internal failure.
var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrSlotConflict means the requested window overlaps an active
	// reservation on the same computer.
	ErrSlotConflict = errors.New("store: time slot conflicts with an active reservation")

	// ErrComputerUnavailable means the computer is faulty or awaiting
	// fix approval and cannot be reserved.
	ErrComputerUnavailable = errors.New("store: computer is not available for reservation")

	// ErrHolderLimit means the holder already has an active reservation
	// and is capped at one.
	ErrHolderLimit = errors.New("store: holder already has an active reservation")

	// ErrNoActiveReservation means a release or expiry targeted a
	// computer with no matching active reservation.
	ErrNoActiveReservation = errors.New("store: no active reservation on computer")

	// ErrNotHolder means the acting user does not hold the reservation
	// being released.
	ErrNotHolder = errors.New("store: actor does not hold the active reservation")

	// ErrIllegalTransition means the requested status change is not a
	// legal state-machine transition from the computer's current state.
	ErrIllegalTransition = errors.New("store: illegal computer status transition")
)

// domainError reports whether err is one of the sentinel outcomes above,
// i.e. a definitive business answer rather than an infrastructure
// failure worth retrying.
func domainError(err error) bool {
	for _, sentinel := range []error{
		ErrNotFound,
		ErrSlotConflict,
		ErrComputerUnavailable,
		ErrHolderLimit,
		ErrNoActiveReservation,
		ErrNotHolder,
		ErrIllegalTransition,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
