package models

import (
	"time"
)

// PaperCollection ist die n:m-Zuordnung zwischen Papers und Collections.
type PaperCollection struct {
	PaperID      string    `json:"paper_id" gorm:"primaryKey;size:36"`
	CollectionID string    `json:"collection_id" gorm:"primaryKey;size:36"`
	AddedAt      time.Time `json:"added_at" gorm:"autoCreateTime"`
}

func (PaperCollection) TableName() string { return "paper_collections" }
