package models

import (
	"time"
)

// Tunnel binds a domain to a user. The tunneling provider keeps its own
// record for the same domain; the two must exist together.
type Tunnel struct {
	ID                       uint   `gorm:"primaryKey"`
	Domain                   string `gorm:"size:255;uniqueIndex;not null"`
	IsEnabled                bool   `gorm:"not null"`
	AllowMultipleConnections bool   `gorm:"not null"`
	UserID                   uint   `gorm:"not null;index"`
	User                     *User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}
