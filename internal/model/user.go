package model

import "time"

// Role determines what a user may do with reservations.
type Role string

const (
	RoleStudent    Role = "student"
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleAdmin, RoleTechnician:
		return true
	}
	return false
}

// User is a minimal account record. Authentication is handled upstream;
// the engine only needs identity and role.
type User struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"size:128;not null"`
	Email     string `gorm:"uniqueIndex;size:256;not null"`
	Role      Role   `gorm:"size:16;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
