package model

import (
	"net"
	"strconv"
	"time"
)

// ServerRecord is a paired remote game server and the credentials used to
// open a companion session against it. Unique per (owner, address).
type ServerRecord struct {
	ID           string     `gorm:"primaryKey;size:36"`
	UserID       string     `gorm:"size:36;not null;uniqueIndex:idx_server_owner_address,priority:1"`
	Host         string     `gorm:"size:255;not null;uniqueIndex:idx_server_owner_address,priority:2"`
	Port         int        `gorm:"not null;uniqueIndex:idx_server_owner_address,priority:3"`
	PlayerID     int64      `gorm:"not null"`
	PlayerToken  int32      `gorm:"not null"`
	Name         string     `gorm:"size:256"`
	CreatedAt    time.Time  `gorm:"not null"`
	UpdatedAt    time.Time  `gorm:"not null"`
	LastViewedAt *time.Time
}

// Address returns the host:port the session dials.
func (s ServerRecord) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Credentials returns the companion credential pair of the record.
func (s ServerRecord) Credentials() Credentials {
	return Credentials{PlayerID: s.PlayerID, PlayerToken: s.PlayerToken}
}

// Credentials is the (player id, player token) pair a remote server accepts.
type Credentials struct {
	PlayerID    int64
	PlayerToken int32
}
