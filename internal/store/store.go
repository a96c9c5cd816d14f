package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"labreserve-backend/internal/model"
)

// Store defines the interface for all database operations. Every
// mutating operation runs as a single transaction holding the computer
// row lock, so that concurrent actors (other handlers, other replicas,
// the expiry sweep) serialize on the row rather than on in-process
// state.
type Store interface {
	DB() *gorm.DB

	GetComputer(ctx context.Context, id int64) (*model.Computer, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	CountActiveByHolder(ctx context.Context, holderID int64) (int64, error)
	QueryOverlaps(ctx context.Context, computerID int64, start, end time.Time) ([]model.Reservation, error)

	// AtomicReserve commits a new active reservation together with the
	// computer status transition, re-validating everything under the
	// row lock. A request whose idempotency key matches an existing
	// active reservation returns that reservation unchanged.
	AtomicReserve(ctx context.Context, res *model.Reservation, enforceHolderCap bool) (*model.Reservation, error)

	// AtomicRelease finishes the actor's active reservation on the
	// computer; with force set, someone else's reservation may be
	// cancelled instead. The bool reports whether the computer row was
	// freed, which only happens when the released reservation is the
	// one the row's occupancy reflects. Releasing a future disjoint
	// booking never frees the computer out from under its current
	// holder.
	AtomicRelease(ctx context.Context, computerID, actorID int64, force bool) (*model.Reservation, bool, error)

	// MarkFault cancels any active reservations on the computer and
	// marks it faulty. Returns the reservations that were cancelled.
	MarkFault(ctx context.Context, computerID int64, note string, emergency bool) ([]model.Reservation, error)

	// SetFixState moves the computer between the fault-handling states
	// (faulty, pending_approval, available), enforcing transition
	// legality under the row lock.
	SetFixState(ctx context.Context, computerID int64, from, to model.ComputerStatus, note string) error

	// ExpireOverdue transitions active reservations whose end time has
	// passed to expired and frees their computers. Returns the IDs of
	// computers that became available. Idempotent.
	ExpireOverdue(ctx context.Context, now time.Time) ([]int64, error)

	// RecordHeartbeat refreshes the computer's liveness record.
	RecordHeartbeat(ctx context.Context, computerID int64, online bool, cpu, mem float64, at time.Time) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// lockForUpdate takes the row lock that serializes concurrent actors on
// a computer. The sqlite backend used in tests has no FOR UPDATE and
// serializes writers on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// retryAttempts bounds retries of transient failures for reads and
// key-guarded idempotent writes. Validation outcomes are never retried.
const retryAttempts = 3

// withRetry runs fn up to retryAttempts times with quadratic backoff and
// jitter, stopping early on success, on a definitive domain answer, or
// when the context is done.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt)*50*time.Millisecond +
				time.Duration(rand.Intn(50))*time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = fn()
		if err == nil || domainError(err) {
			return err
		}
		log.Printf("store: transient failure (attempt %d/%d): %v", attempt+1, retryAttempts, err)
	}
	return err
}

func (s *gormStore) GetComputer(ctx context.Context, id int64) (*model.Computer, error) {
	var comp model.Computer
	err := withRetry(ctx, func() error {
		if err := s.db.WithContext(ctx).Preload("Lab").First(&comp, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &comp, nil
}

func (s *gormStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := withRetry(ctx, func() error {
		if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *gormStore) CountActiveByHolder(ctx context.Context, holderID int64) (int64, error) {
	var count int64
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Model(&model.Reservation{}).
			Where("holder_id = ? AND status = ?", holderID, model.ReservationActive).
			Count(&count).Error
	})
	return count, err
}

func (s *gormStore) QueryOverlaps(ctx context.Context, computerID int64, start, end time.Time) ([]model.Reservation, error) {
	var overlaps []model.Reservation
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("computer_id = ? AND status = ? AND start_time < ? AND end_time > ?",
				computerID, model.ReservationActive, end, start).
			Order("start_time").
			Find(&overlaps).Error
	})
	return overlaps, err
}

// AtomicReserve is the commit protocol of the admission engine: lock the
// computer row, replay the idempotency key if already committed, re-run
// the checks that could have raced since the caller's reads, then write
// the reservation and the computer transition in one transaction.
//
// Retried as a whole on transient failure; the idempotency key makes a
// replayed commit collide with the committed row instead of
// double-booking.
func (s *gormStore) AtomicReserve(ctx context.Context, res *model.Reservation, enforceHolderCap bool) (*model.Reservation, error) {
	var committed *model.Reservation
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var comp model.Computer
			if err := lockForUpdate(tx).
				First(&comp, res.ComputerID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return fmt.Errorf("lock computer %d: %w", res.ComputerID, err)
			}

			// Idempotent replay: an identical request already committed.
			var existing model.Reservation
			err := tx.Where("idempotency_key = ?", res.IdempotencyKey).First(&existing).Error
			switch {
			case err == nil:
				if existing.Status == model.ReservationActive {
					committed = &existing
					return nil
				}
				// The earlier identical request has since been released,
				// cancelled or expired. Re-key this attempt with its own
				// reservation ID so the unique index does not reject a
				// genuinely new booking. Deterministic given res, unlike
				// a wall-clock-derived key.
				res.IdempotencyKey = res.ID
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return fmt.Errorf("idempotency lookup: %w", err)
			}

			if comp.Status == model.StatusFaulty || comp.Status == model.StatusPendingApproval {
				return ErrComputerUnavailable
			}

			var conflicts int64
			if err := tx.Model(&model.Reservation{}).
				Where("computer_id = ? AND status = ? AND start_time < ? AND end_time > ?",
					res.ComputerID, model.ReservationActive, res.EndTime, res.StartTime).
				Count(&conflicts).Error; err != nil {
				return fmt.Errorf("overlap check: %w", err)
			}
			if conflicts > 0 {
				return ErrSlotConflict
			}

			if enforceHolderCap {
				var held int64
				if err := tx.Model(&model.Reservation{}).
					Where("holder_id = ? AND status = ?", res.HolderID, model.ReservationActive).
					Count(&held).Error; err != nil {
					return fmt.Errorf("holder cap check: %w", err)
				}
				if held > 0 {
					return ErrHolderLimit
				}
			}

			res.Status = model.ReservationActive
			if err := tx.Create(res).Error; err != nil {
				return fmt.Errorf("insert reservation: %w", err)
			}

			// Only an available computer takes on the new holder. A
			// computer already reserved for a disjoint window keeps its
			// current holder; the overlap check above remains the guard
			// for the new window.
			if comp.Status == model.StatusAvailable {
				updates := map[string]any{
					"status":         model.StatusReserved,
					"reserved_by":    res.HolderID,
					"reserved_until": res.EndTime,
				}
				if err := tx.Model(&model.Computer{}).Where("id = ?", comp.ID).
					Updates(updates).Error; err != nil {
					return fmt.Errorf("update computer %d: %w", comp.ID, err)
				}
			}

			committed = res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *gormStore) AtomicRelease(ctx context.Context, computerID, actorID int64, force bool) (*model.Reservation, bool, error) {
	var released *model.Reservation
	var freed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comp model.Computer
		if err := lockForUpdate(tx).
			First(&comp, computerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("lock computer %d: %w", computerID, err)
		}

		var active []model.Reservation
		if err := tx.Where("computer_id = ? AND status = ?", computerID, model.ReservationActive).
			Order("start_time").
			Find(&active).Error; err != nil {
			return fmt.Errorf("fetch active reservations: %w", err)
		}
		if len(active) == 0 {
			return ErrNoActiveReservation
		}

		target := -1
		for i := range active {
			if active[i].HolderID == actorID {
				target = i
				break
			}
		}
		if target < 0 {
			if !force {
				return ErrNotHolder
			}
			target = 0 // force release takes the earliest active reservation
		}

		// Ownership decides the final status: an actor finishing their
		// own reservation completes it, even an admin; cancelled is
		// reserved for force-releasing someone else's booking.
		final := model.ReservationCompleted
		if active[target].HolderID != actorID {
			final = model.ReservationCancelled
		}
		if err := tx.Model(&model.Reservation{}).
			Where("id = ?", active[target].ID).
			Update("status", final).Error; err != nil {
			return fmt.Errorf("finish reservation %s: %w", active[target].ID, err)
		}

		// Free the row only when the released reservation is the one
		// the row's occupancy reflects. Releasing a future disjoint
		// booking must not evict the current holder.
		if comp.Status == model.StatusReserved &&
			comp.ReservedBy != nil && *comp.ReservedBy == active[target].HolderID {
			if err := freeComputer(tx, comp.ID); err != nil {
				return err
			}
			freed = true
		}

		active[target].Status = final
		released = &active[target]
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return released, freed, nil
}

func (s *gormStore) MarkFault(ctx context.Context, computerID int64, note string, emergency bool) ([]model.Reservation, error) {
	var cancelled []model.Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comp model.Computer
		if err := lockForUpdate(tx).
			First(&comp, computerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("lock computer %d: %w", computerID, err)
		}

		if !comp.Status.CanTransitionTo(model.StatusFaulty) {
			return ErrIllegalTransition
		}

		if err := tx.Where("computer_id = ? AND status = ?", computerID, model.ReservationActive).
			Find(&cancelled).Error; err != nil {
			return fmt.Errorf("fetch active reservations: %w", err)
		}
		if len(cancelled) > 0 {
			if err := tx.Model(&model.Reservation{}).
				Where("computer_id = ? AND status = ?", computerID, model.ReservationActive).
				Update("status", model.ReservationCancelled).Error; err != nil {
				return fmt.Errorf("cancel reservations: %w", err)
			}
		}

		updates := map[string]any{
			"status":         model.StatusFaulty,
			"fault_note":     note,
			"emergency":      emergency,
			"reserved_by":    nil,
			"reserved_until": nil,
		}
		if err := tx.Model(&model.Computer{}).Where("id = ?", computerID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("mark computer %d faulty: %w", computerID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (s *gormStore) SetFixState(ctx context.Context, computerID int64, from, to model.ComputerStatus, note string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comp model.Computer
		if err := lockForUpdate(tx).
			First(&comp, computerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("lock computer %d: %w", computerID, err)
		}

		if comp.Status != from || !from.CanTransitionTo(to) {
			return ErrIllegalTransition
		}

		updates := map[string]any{"status": to}
		switch to {
		case model.StatusAvailable:
			// An approved fix clears the fault record entirely.
			updates["fault_note"] = ""
			updates["emergency"] = false
		case model.StatusFaulty:
			// A rejected fix keeps the computer faulty with the
			// reviewer's reason attached.
			if note != "" {
				updates["fault_note"] = note
			}
		}

		if err := tx.Model(&model.Computer{}).Where("id = ?", computerID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("update computer %d: %w", computerID, err)
		}
		return nil
	})
}

// ExpireOverdue uses the same per-computer locking as AtomicRelease, so
// it is safe to run concurrently with admissions. Re-running it over
// already-expired reservations finds nothing to do.
func (s *gormStore) ExpireOverdue(ctx context.Context, now time.Time) ([]int64, error) {
	var freed []int64
	err := withRetry(ctx, func() error {
		freed = freed[:0]
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var overdue []model.Reservation
			if err := tx.Where("status = ? AND end_time <= ?", model.ReservationActive, now).
				Find(&overdue).Error; err != nil {
				return fmt.Errorf("fetch overdue reservations: %w", err)
			}

			for _, res := range overdue {
				if err := tx.Model(&model.Reservation{}).
					Where("id = ? AND status = ?", res.ID, model.ReservationActive).
					Update("status", model.ReservationExpired).Error; err != nil {
					return fmt.Errorf("expire reservation %s: %w", res.ID, err)
				}

				var comp model.Computer
				if err := lockForUpdate(tx).
					First(&comp, res.ComputerID).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						continue // computer deleted; the reservation still expires
					}
					return fmt.Errorf("lock computer %d: %w", res.ComputerID, err)
				}

				if comp.Status == model.StatusReserved &&
					comp.ReservedUntil != nil && !comp.ReservedUntil.After(now) {
					if err := freeComputer(tx, comp.ID); err != nil {
						return err
					}
					freed = append(freed, comp.ID)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return freed, nil
}

func (s *gormStore) RecordHeartbeat(ctx context.Context, computerID int64, online bool, cpu, mem float64, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.Computer{}).
		Where("id = ?", computerID).
		Updates(map[string]any{
			"online":         online,
			"last_heartbeat": at,
			"cpu_percent":    cpu,
			"mem_percent":    mem,
		})
	if res.Error != nil {
		return fmt.Errorf("record heartbeat for computer %d: %w", computerID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// freeComputer resets a computer back to available, clearing the holder
// fields.
func freeComputer(tx *gorm.DB, computerID int64) error {
	updates := map[string]any{
		"status":         model.StatusAvailable,
		"reserved_by":    nil,
		"reserved_until": nil,
	}
	if err := tx.Model(&model.Computer{}).Where("id = ?", computerID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("free computer %d: %w", computerID, err)
	}
	return nil
}
