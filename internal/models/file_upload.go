package models

import (
	"time"

	"github.com/google/uuid"
)

// FileUpload records a stored artifact. ExtractedText is written once,
// after recognition finishes; everything else is immutable.
type FileUpload struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	ChatID        uuid.UUID `gorm:"type:uuid;index;not null" json:"chat_id"`
	Path          string    `gorm:"not null" json:"path"`
	Filename      string    `gorm:"not null" json:"filename"`
	ContentType   string    `json:"content_type"`
	ExtractedText string    `gorm:"type:text" json:"extracted_text,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
