package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Note ist die Nutzer-Notiz zu einem Paper, maximal eine pro Paper (Upsert).
type Note struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	PaperID   string    `json:"paper_id" gorm:"size:36;uniqueIndex;not null"`
	Content   string    `json:"content" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Note) TableName() string { return "notes" }

func (n *Note) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
