package model

import "time"

// Lab represents a computer lab room.
type Lab struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:128;not null"`
	Building  string    `gorm:"size:128"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	// Associations
	Computers []Computer `gorm:"foreignKey:LabID"`
}
