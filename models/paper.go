package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Paper-Status. Übergänge fährt die externe Pipeline; dieses Backend liest
// sie nur, mit Ausnahme von Retry (failed -> queued) und dem Reaper.
const (
	PaperStatusQueued     = "queued"
	PaperStatusProcessing = "processing"
	PaperStatusDone       = "done"
	PaperStatusFailed     = "failed"
	PaperStatusSkipped    = "skipped"
)

// Paper ist ein einzelner Dokumenteintrag, gehört genau einem Task.
type Paper struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	TaskID        string    `json:"task_id" gorm:"size:36;index;not null"`
	Title         string    `json:"title" gorm:"not null"`
	PDFPath       string    `json:"pdf_path,omitempty"`
	Source        string    `json:"source,omitempty"` // arxiv, openreview
	SourceURL     string    `json:"source_url,omitempty"`
	Status        string    `json:"status" gorm:"index;default:'queued'"`
	FailureReason string    `json:"failure_reason,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Overrides pro Paper, gesetzt beim Re-Read; leer = Task-Default gilt.
	TemplateID string `json:"template_id,omitempty" gorm:"size:36"`
	ModelName  string `json:"model_name,omitempty"`
}

func (Paper) TableName() string { return "papers" }

func (p *Paper) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
