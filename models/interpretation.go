package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Interpretation ist das Ergebnis der KI-Auswertung eines Papers. Geschrieben
// wird sie von der externen Pipeline, hier nur gelesen und mit ausgeliefert.
type Interpretation struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	PaperID      string    `json:"paper_id" gorm:"size:36;uniqueIndex;not null"`
	Content      string    `json:"content" gorm:"type:text;not null"`
	TemplateUsed string    `json:"template_used" gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Interpretation) TableName() string { return "interpretations" }

func (i *Interpretation) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}
