package model

import "time"

// ComputerStatus is the closed set of states a lab computer can be in.
type ComputerStatus string

const (
	StatusAvailable       ComputerStatus = "available"
	StatusReserved        ComputerStatus = "reserved"
	StatusFaulty          ComputerStatus = "faulty"
	StatusPendingApproval ComputerStatus = "pending_approval"
)

// legalTransitions is the single source of truth for the computer state
// machine. Callers must not compare status strings ad hoc.
var legalTransitions = map[ComputerStatus][]ComputerStatus{
	StatusAvailable:       {StatusReserved, StatusFaulty},
	StatusReserved:        {StatusAvailable, StatusFaulty},
	StatusFaulty:          {StatusPendingApproval},
	StatusPendingApproval: {StatusAvailable, StatusFaulty},
}

// CanTransitionTo reports whether moving from s to next is a legal
// state-machine transition.
func (s ComputerStatus) CanTransitionTo(next ComputerStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s ComputerStatus) Valid() bool {
	_, ok := legalTransitions[s]
	return ok
}

// Computer represents a bookable lab PC.
//
// Invariants maintained by the store layer: status == reserved implies
// ReservedBy and ReservedUntil are both set with ReservedUntil in the
// future at commit time; status == faulty or pending_approval implies
// both are cleared.
type Computer struct {
	ID        int64          `gorm:"primaryKey"`
	LabID     int64          `gorm:"index;not null"`
	AssetTag  string         `gorm:"uniqueIndex;size:64;not null"` // e.g. "PC-002"
	Status    ComputerStatus `gorm:"size:32;not null;default:available"`
	FaultNote string         `gorm:"size:512"`
	Emergency bool           `gorm:"not null;default:false"`

	ReservedBy    *int64 `gorm:"index"`
	ReservedUntil *time.Time

	// Liveness record, refreshed by the agent heartbeat endpoint.
	Online        bool `gorm:"not null;default:false"`
	LastHeartbeat *time.Time
	CPUPercent    float64
	MemPercent    float64

	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	Lab Lab `gorm:"constraint:OnDelete:CASCADE"`
}
