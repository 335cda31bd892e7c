package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Task-Status. Es gibt bewusst keine Übergangstabelle: der Status ist ein
// Workflow-Flag, das die Oberfläche frei setzt und die externe Pipeline liest.
const (
	TaskStatusCreated   = "created"
	TaskStatusRunning   = "running"
	TaskStatusPaused    = "paused"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// Task ist ein Leseprojekt: besitzt Papers und die Verarbeitungskonfiguration.
type Task struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	UserID      string    `json:"user_id" gorm:"size:36;index;not null"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description,omitempty"`
	TemplateID  string    `json:"template_id" gorm:"size:36;index"`
	ModelName   string    `json:"model_name" gorm:"default:'gemini-3-flash-preview'"`
	Status      string    `json:"status" gorm:"index;default:'created'"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// TaskStatistics ist die abgeleitete Paper-Zählung pro Status. Sie wird bei
// jedem Lesen neu berechnet und nie gespeichert.
type TaskStatistics struct {
	Total      int64 `json:"total"`
	Done       int64 `json:"done"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
}

// TaskWithStats ist die API-Darstellung eines Tasks inklusive Statistik.
type TaskWithStats struct {
	Task
	Statistics TaskStatistics `json:"statistics"`
}
