package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Template ist eine geordnete Prompt-Sequenz für die KI-Auswertung.
// Content wird als JSON-kodierte Stringliste abgelegt (Text-Spalte).
type Template struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    string    `json:"user_id" gorm:"size:36;index;not null"`
	Name      string    `json:"name" gorm:"not null"`
	Content   string    `json:"-" gorm:"type:text;not null"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

func (Template) TableName() string { return "templates" }

func (t *Template) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
