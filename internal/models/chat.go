package models

import (
	"time"

	"github.com/google/uuid"
)

// Message roles as stored and as sent to the completion endpoint.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Chat is one conversation. UserID is nil for chats that only ever
// existed locally for an anonymous visitor.
type Chat struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Title     string     `gorm:"not null" json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Messages  []Message  `gorm:"foreignKey:ChatID" json:"messages,omitempty"`
}

// Message is immutable once persisted. Ordering within a chat is by
// CreatedAt ascending.
type Message struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID    uuid.UUID  `gorm:"type:uuid;index;not null" json:"chat_id"`
	UserID    *uuid.UUID `gorm:"type:uuid" json:"user_id,omitempty"`
	Role      string     `gorm:"not null" json:"role"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}
