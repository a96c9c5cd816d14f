package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"labreserve-backend/internal/calendar"
	"labreserve-backend/internal/model"
	"labreserve-backend/internal/store"
)

// Config bounds the reservation windows the engine will admit.
type Config struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	Granularity time.Duration
}

// Engine is the reservation admission engine. It validates requests,
// delegates the conflict-safe commit to the store's atomic operations,
// and emits notification events for committed outcomes. It holds no
// authoritative state of its own; the store is the single source of
// truth for conflict decisions.
type Engine struct {
	store store.Store
	cal   *calendar.Calendar
	cfg   Config
	now   func() time.Time
	sink  Sink
}

// New creates an admission engine. now may be nil to use time.Now;
// sink may be nil to discard events.
func New(s store.Store, cal *calendar.Calendar, cfg Config, now func() time.Time, sink Sink) *Engine {
	if now == nil {
		now = time.Now
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = time.Hour
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 8 * time.Hour
	}
	if cfg.Granularity <= 0 {
		cfg.Granularity = 30 * time.Minute
	}
	return &Engine{store: s, cal: cal, cfg: cfg, now: now, sink: sink}
}

// Reserve decides whether (computer, holder, start, duration) may become
// a new active reservation and commits it atomically if so. Checks run
// in a fixed order and short-circuit on the first failure; the commit
// re-validates everything under the computer row lock, so a pass here is
// advisory until AtomicReserve returns.
func (e *Engine) Reserve(ctx context.Context, computerID, holderID int64, start time.Time, duration time.Duration) (*model.Reservation, error) {
	if !e.cal.IsOpen(start) {
		return nil, newError(KindOutsideBusinessHours,
			fmt.Sprintf("The lab is closed at the selected time (%s).", e.cal.DescribeHours(start)))
	}

	if duration < e.cfg.MinDuration || duration > e.cfg.MaxDuration {
		return nil, newError(KindInvalidDuration,
			fmt.Sprintf("Reservations must be between %s and %s long.", e.cfg.MinDuration, e.cfg.MaxDuration))
	}
	if duration%e.cfg.Granularity != 0 {
		return nil, newError(KindInvalidDuration,
			fmt.Sprintf("Reservation length must be a multiple of %s.", e.cfg.Granularity))
	}

	if start.Before(e.now()) {
		return nil, newError(KindInvalidStartTime, "The selected start time is in the past.")
	}

	comp, err := e.store.GetComputer(ctx, computerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindResourceUnavailable, "This computer does not exist.")
		}
		return nil, wrapError(KindStoreUnavailable, "Could not check computer availability. Please try again.", err)
	}
	if comp.Status == model.StatusFaulty || comp.Status == model.StatusPendingApproval {
		return nil, newError(KindResourceUnavailable, "This computer is out of service.")
	}

	holder, err := e.store.GetUser(ctx, holderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotAuthorized, "Unknown user.")
		}
		return nil, wrapError(KindStoreUnavailable, "Could not verify your account. Please try again.", err)
	}

	end := start.Add(duration)
	overlaps, err := e.store.QueryOverlaps(ctx, computerID, start, end)
	if err != nil {
		return nil, wrapError(KindStoreUnavailable, "Could not check the time slot. Please try again.", err)
	}
	for i := range overlaps {
		prev := &overlaps[i]
		if prev.HolderID == holderID && prev.StartTime.Equal(start) && prev.EndTime.Equal(end) {
			// Retry of a request that already committed. The holder gets
			// the committed reservation back, not a conflict; this is
			// what makes client retries safe.
			return prev, nil
		}
	}
	isStudent := holder.Role == model.RoleStudent
	if isStudent {
		held, err := e.store.CountActiveByHolder(ctx, holderID)
		if err != nil {
			return nil, wrapError(KindStoreUnavailable, "Could not check your reservations. Please try again.", err)
		}
		if held > 0 {
			return nil, newError(KindHolderLimitExceeded, "You already have an active reservation. Release it before booking another computer.")
		}
	}

	if len(overlaps) > 0 {
		return nil, &Error{
			Kind:      KindSlotConflict,
			Message:   "This computer is already reserved for the selected time slot.",
			Conflicts: overlaps,
		}
	}

	res := &model.Reservation{
		ID:             uuid.NewString(),
		ComputerID:     computerID,
		HolderID:       holderID,
		StartTime:      start,
		EndTime:        end,
		Status:         model.ReservationActive,
		IdempotencyKey: model.IdempotencyKey(computerID, holderID, start),
	}

	committed, err := e.store.AtomicReserve(ctx, res, isStudent)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSlotConflict):
			return nil, newError(KindSlotConflict, "This computer is already reserved for the selected time slot.")
		case errors.Is(err, store.ErrComputerUnavailable), errors.Is(err, store.ErrNotFound):
			return nil, newError(KindResourceUnavailable, "This computer is no longer available.")
		case errors.Is(err, store.ErrHolderLimit):
			return nil, newError(KindHolderLimitExceeded, "You already have an active reservation. Release it before booking another computer.")
		}
		return nil, wrapError(KindStoreUnavailable, "Could not commit the reservation. Please try again.", err)
	}

	e.emit(Event{Type: EventReservationConfirmed, ComputerID: computerID})
	return committed, nil
}

// Release finishes the actor's active reservation on the computer. An
// admin may force-release another holder's reservation, which records
// it as cancelled; releasing one's own reservation always completes it.
func (e *Engine) Release(ctx context.Context, computerID, actorID int64) (*model.Reservation, error) {
	actor, err := e.store.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotAuthorized, "Unknown user.")
		}
		return nil, wrapError(KindStoreUnavailable, "Could not verify your account. Please try again.", err)
	}

	force := actor.Role == model.RoleAdmin
	released, freed, err := e.store.AtomicRelease(ctx, computerID, actorID, force)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, newError(KindResourceUnavailable, "This computer does not exist.")
		case errors.Is(err, store.ErrNoActiveReservation):
			return nil, newError(KindResourceUnavailable, "There is no active reservation on this computer.")
		case errors.Is(err, store.ErrNotHolder):
			return nil, newError(KindNotAuthorized, "Only the current holder or an admin can release this computer.")
		}
		return nil, wrapError(KindStoreUnavailable, "Could not release the computer. Please try again.", err)
	}

	// Only a release that actually freed the computer wakes up
	// subscribers; finishing a future booking leaves the current
	// holder in place and must not announce availability.
	if freed {
		e.emit(Event{Type: EventComputerAvailable, ComputerID: computerID})
	}
	return released, nil
}

// ReportFault marks the computer faulty, cancelling any active
// reservation on it. Any known user may report.
func (e *Engine) ReportFault(ctx context.Context, computerID, reporterID int64, description string, emergency bool) error {
	if _, err := e.store.GetUser(ctx, reporterID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindNotAuthorized, "Unknown user.")
		}
		return wrapError(KindStoreUnavailable, "Could not verify your account. Please try again.", err)
	}

	if _, err := e.store.MarkFault(ctx, computerID, description, emergency); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return newError(KindResourceUnavailable, "This computer does not exist.")
		case errors.Is(err, store.ErrIllegalTransition):
			return newError(KindResourceUnavailable, "This computer is already flagged as faulty.")
		}
		return wrapError(KindStoreUnavailable, "Could not report the fault. Please try again.", err)
	}

	e.emit(Event{Type: EventFaultReported, ComputerID: computerID})
	return nil
}

// MarkFixed is the technician half of the two-phase fix flow: a faulty
// computer moves to pending_approval and waits for an admin decision.
func (e *Engine) MarkFixed(ctx context.Context, computerID, technicianID int64) error {
	if err := e.requireRole(ctx, technicianID, model.RoleTechnician, model.RoleAdmin); err != nil {
		return err
	}

	if err := e.store.SetFixState(ctx, computerID, model.StatusFaulty, model.StatusPendingApproval, ""); err != nil {
		return e.mapFixError(err, "This computer is not flagged as faulty.")
	}

	e.emit(Event{Type: EventFixPendingApproval, ComputerID: computerID})
	return nil
}

// ApproveFix is the admin half of the fix flow: the computer returns to
// available and subscribers are notified.
func (e *Engine) ApproveFix(ctx context.Context, computerID, adminID int64) error {
	if err := e.requireRole(ctx, adminID, model.RoleAdmin); err != nil {
		return err
	}

	if err := e.store.SetFixState(ctx, computerID, model.StatusPendingApproval, model.StatusAvailable, ""); err != nil {
		return e.mapFixError(err, "This computer is not awaiting fix approval.")
	}

	e.emit(Event{Type: EventComputerAvailable, ComputerID: computerID})
	return nil
}

// RejectFix denies a pending fix; the computer returns to faulty with
// the reviewer's reason attached.
func (e *Engine) RejectFix(ctx context.Context, computerID, adminID int64, reason string) error {
	if err := e.requireRole(ctx, adminID, model.RoleAdmin); err != nil {
		return err
	}

	if err := e.store.SetFixState(ctx, computerID, model.StatusPendingApproval, model.StatusFaulty, reason); err != nil {
		return e.mapFixError(err, "This computer is not awaiting fix approval.")
	}
	return nil
}

func (e *Engine) requireRole(ctx context.Context, userID int64, roles ...model.Role) error {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindNotAuthorized, "Unknown user.")
		}
		return wrapError(KindStoreUnavailable, "Could not verify your account. Please try again.", err)
	}
	for _, r := range roles {
		if user.Role == r {
			return nil
		}
	}
	return newError(KindNotAuthorized, "You are not allowed to perform this action.")
}

func (e *Engine) mapFixError(err error, wrongStateMsg string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newError(KindResourceUnavailable, "This computer does not exist.")
	case errors.Is(err, store.ErrIllegalTransition):
		return newError(KindResourceUnavailable, wrongStateMsg)
	}
	return wrapError(KindStoreUnavailable, "Could not update the computer. Please try again.", err)
}

func (e *Engine) emit(ev Event) {
	if e.sink != nil {
		e.sink.Emit(ev)
	}
}
