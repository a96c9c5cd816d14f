package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReservationStatus is the closed set of reservation lifecycle states.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// idempotencyNamespace seeds the UUIDv5 derivation of idempotency keys.
var idempotencyNamespace = uuid.MustParse("8f8a9be2-3c6d-4f30-9d0a-5b1d2f7c4e11")

// IdempotencyKey derives a deterministic key for a reservation request so
// that an identical retry collides with the committed row instead of
// double-booking.
func IdempotencyKey(computerID, holderID int64, start time.Time) string {
	seed := fmt.Sprintf("%d|%d|%d", computerID, holderID, start.UTC().Unix())
	return uuid.NewSHA1(idempotencyNamespace, []byte(seed)).String()
}

// Reservation represents one user's claim on a computer for a bounded
// time window. Windows are half-open: [StartTime, EndTime).
type Reservation struct {
	ID             string            `gorm:"primaryKey;size:36"`
	ComputerID     int64             `gorm:"index;not null"`
	HolderID       int64             `gorm:"index;not null"`
	StartTime      time.Time         `gorm:"not null"`
	EndTime        time.Time         `gorm:"not null"`
	Status         ReservationStatus `gorm:"size:16;not null;index"`
	IdempotencyKey string            `gorm:"uniqueIndex;size:36;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Overlaps reports whether the reservation's window intersects
// [start, end). Touching boundaries do not overlap.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.StartTime.Before(end) && start.Before(r.EndTime)
}
