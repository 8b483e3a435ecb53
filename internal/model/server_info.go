package model

import "time"

// ServerInfo is the read-optimized projection of a connected server's
// metadata. Advisory only; it is rewritten on every successful connect.
type ServerInfo struct {
	ServerID      string    `gorm:"primaryKey;size:36"`
	Name          string    `gorm:"size:256;not null"`
	HeaderImage   string    `gorm:"size:512"`
	URL           string    `gorm:"size:512"`
	Map           string    `gorm:"size:128;not null"`
	MapSize       uint32    `gorm:"not null"`
	WipeTime      uint32    `gorm:"not null"`
	Players       uint32    `gorm:"not null"`
	MaxPlayers    uint32    `gorm:"not null"`
	QueuedPlayers uint32    `gorm:"not null"`
	Seed          uint32
	Salt          uint32
	FetchedAt     time.Time `gorm:"not null"`
}
