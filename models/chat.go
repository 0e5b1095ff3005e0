package models

import (
	"time"
)

// ChatMessage is an append-only room-scoped chat record.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RoomID    string    `gorm:"size:255;not null;index" json:"room_id"`
	Username  string    `gorm:"size:255" json:"username"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (ChatMessage) TableName() string {
	return "chats"
}
