package models

import (
	"time"
)

// Document is the single live snapshot of a room's shared code. It is
// overwritten in full on every accepted edit (last write wins).
type Document struct {
	RoomID    string    `gorm:"primaryKey;size:255" json:"room_id"`
	Code      string    `gorm:"type:text" json:"code"`
	Language  string    `gorm:"size:32" json:"language"`
	UpdatedAt time.Time `json:"updated_at"`
}
