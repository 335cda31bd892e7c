package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatMessage ist ein Eintrag im Chat-Verlauf eines Papers. Antworten der
// KI-Integration und Fehler der Pipeline landen über denselben Weg hier.
type ChatMessage struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	PaperID   string    `json:"paper_id" gorm:"size:36;index;not null"`
	Role      string    `json:"role" gorm:"not null"` // user, assistant, system
	Content   string    `json:"content" gorm:"type:text;not null"`
	Cost      float64   `json:"cost"`
	TimeCost  float64   `json:"time_cost"`
	CreatedAt time.Time `json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
