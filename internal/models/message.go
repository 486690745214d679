package models

import (
	"time"
)

// Message is one record of the relay log.
// At rest Content holds the sealed token; everything returned to clients
// carries the plaintext instead.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	RoomID    string    `gorm:"size:255;index;not null" json:"roomId"`
	Sender    string    `gorm:"size:255;index;not null" json:"sender"`
	Recipient string    `gorm:"size:255;index" json:"recipient"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// TableName specifies the table name
func (Message) TableName() string {
	return "relay_messages"
}

// Involves reports whether user is the sender or the recipient.
func (m Message) Involves(user string) bool {
	return m.Sender == user || m.Recipient == user
}

// Counterpart returns the other participant relative to user.
func (m Message) Counterpart(user string) string {
	if m.Sender == user {
		return m.Recipient
	}
	return m.Sender
}

// ConversationSummary is the latest message of one room, as seen by one user.
type ConversationSummary struct {
	RoomID               string    `json:"roomId"`
	Counterpart          string    `json:"counterpart"`
	LastMessagePlaintext string    `json:"lastMessagePlaintext"`
	LastMessageAt        time.Time `json:"lastMessageAt"`
}
