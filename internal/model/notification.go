package model

import "time"

// Notification is a user-visible generic push notification.
type Notification struct {
	ID         string    `gorm:"primaryKey;size:36"`
	UserID     string    `gorm:"size:36;index;not null"`
	Title      string    `gorm:"size:512"`
	Body       string    `gorm:"type:text"`
	Raw        string    `gorm:"type:text"`
	DeliveryID string    `gorm:"size:255;index"`
	ReceivedAt time.Time `gorm:"not null"`
	ReadAt     *time.Time
}
