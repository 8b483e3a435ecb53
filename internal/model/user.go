package model

import "time"

// User is an end user of the service together with their vendor-side
// identity. PlayerID is the id embedded in push payloads.
type User struct {
	ID              string    `gorm:"primaryKey;size:36"`
	PlayerID        int64     `gorm:"uniqueIndex;not null"`
	VendorAuthToken string    `gorm:"size:1024;not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}
