package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User repräsentiert den Besitzer aller Tasks, Templates und Collections.
// Das Tool ist single-user; beim Start wird genau ein Default-User angelegt.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
