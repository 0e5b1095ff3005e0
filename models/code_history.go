package models

import (
	"time"
)

// CodeHistory is an append-only snapshot of one accepted edit, kept for
// playback. Rows are never updated or deleted.
type CodeHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RoomID    string    `gorm:"size:255;not null;index" json:"room_id"`
	Code      string    `gorm:"type:text;not null" json:"code"`
	Language  string    `gorm:"size:32" json:"language"`
	Username  string    `gorm:"size:255" json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

func (CodeHistory) TableName() string {
	return "code_history"
}
