package model

import "time"

// DeviceIdentityID is the primary key of the single per-process identity row.
const DeviceIdentityID = 1

// DeviceIdentity is the installation identity registered with the push
// backbone. Key material is generated locally before registration.
type DeviceIdentity struct {
	ID             uint      `gorm:"primaryKey"`
	RegistrationID string    `gorm:"size:255;not null"`
	SecurityToken  string    `gorm:"size:255;not null"`
	PushToken      string    `gorm:"size:1024"`
	PublicKey      string    `gorm:"size:255;not null"`
	PrivateKey     string    `gorm:"size:255;not null"`
	AuthSecret     string    `gorm:"size:64;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// ForwardingRegistration is the per-user forwarding token and the
// fingerprint of the device identity it was minted from.
type ForwardingRegistration struct {
	UserID          string    `gorm:"primaryKey;size:36"`
	ForwardingToken string    `gorm:"size:1024;not null"`
	Fingerprint     string    `gorm:"size:64;not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}
