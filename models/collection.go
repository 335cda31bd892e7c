package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Collection ist ein Ordner im selbstreferenziellen Sammlungsbaum.
// ParentID ist nach dem Anlegen unveränderlich; es gibt kein Umhängen.
type Collection struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    string    `json:"user_id" gorm:"size:36;index;not null"`
	Name      string    `json:"name" gorm:"not null"`
	ParentID  *string   `json:"parent_id,omitempty" gorm:"size:36;index"`
	CreatedAt time.Time `json:"created_at"`
}

func (Collection) TableName() string { return "collections" }

func (c *Collection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
