package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ZHIXINXIE/papereader/models"
)

// TaskService verwaltet Tasks, ihre Papers und die abgeleitete Statistik.
type TaskService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewTaskService erstellt eine neue Instanz des TaskService.
func NewTaskService(db *gorm.DB, logger *zap.Logger) *TaskService {
	return &TaskService{DB: db, Logger: logger}
}

// Statistics berechnet die Paper-Zählung eines Tasks neu. Eine einzige
// GROUP-BY-Abfrage statt sechs Einzel-Counts; das Ergebnis wird nie
// gespeichert, damit es nicht von der Wahrheit wegdriften kann.
func (s *TaskService) Statistics(tx *gorm.DB, taskID string) (models.TaskStatistics, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := tx.Model(&models.Paper{}).
		Select("status, count(*) as n").
		Where("task_id = ?", taskID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return models.TaskStatistics{}, err
	}

	var stats models.TaskStatistics
	for _, r := range rows {
		stats.Total += r.N
		switch r.Status {
		case models.PaperStatusDone:
			stats.Done = r.N
		case models.PaperStatusFailed:
			stats.Failed = r.N
		case models.PaperStatusSkipped:
			stats.Skipped = r.N
		case models.PaperStatusQueued:
			stats.Queued = r.N
		case models.PaperStatusProcessing:
			stats.Processing = r.N
		}
	}
	return stats, nil
}

// Create legt einen neuen Task an. Ein Template ist Pflicht und muss
// existieren; der Task startet direkt als "running".
func (s *TaskService) Create(name, description, templateID, modelName string) (*models.TaskWithStats, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: task name must not be empty", ErrValidation)
	}
	if templateID == "" {
		return nil, fmt.Errorf("%w: template_id is required", ErrValidation)
	}
	var template models.Template
	if err := s.DB.Where("id = ? AND user_id = ?", templateID, DefaultUserID).First(&template).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: template %s", ErrNotFound, templateID)
		}
		return nil, err
	}

	task := models.Task{
		UserID:      DefaultUserID,
		Name:        name,
		Description: description,
		TemplateID:  templateID,
		Status:      models.TaskStatusRunning,
	}
	if modelName != "" {
		task.ModelName = modelName
	}
	if err := s.DB.Create(&task).Error; err != nil {
		return nil, err
	}

	s.Logger.Info("Task created", zap.String("id", task.ID), zap.String("name", task.Name))
	return &models.TaskWithStats{Task: task}, nil
}

// List liefert alle Tasks mit frisch berechneter Statistik, neueste zuerst.
func (s *TaskService) List() ([]models.TaskWithStats, error) {
	var tasks []models.Task
	if err := s.DB.Where("user_id = ?", DefaultUserID).Order("created_at desc").Find(&tasks).Error; err != nil {
		return nil, err
	}

	result := make([]models.TaskWithStats, 0, len(tasks))
	for _, task := range tasks {
		stats, err := s.Statistics(s.DB, task.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, models.TaskWithStats{Task: task, Statistics: stats})
	}
	return result, nil
}

// Get liefert einen Task mit Statistik.
func (s *TaskService) Get(id string) (*models.TaskWithStats, error) {
	var task models.Task
	if err := s.DB.Where("id = ? AND user_id = ?", id, DefaultUserID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
		}
		return nil, err
	}
	stats, err := s.Statistics(s.DB, task.ID)
	if err != nil {
		return nil, err
	}
	return &models.TaskWithStats{Task: task, Statistics: stats}, nil
}

// taskUpdatableFields sind die per PUT änderbaren Spalten.
var taskUpdatableFields = map[string]bool{
	"status":      true,
	"name":        true,
	"description": true,
	"model_name":  true,
	"template_id": true,
}

// Update führt ein partielles Update aus; nur Whitelist-Felder werden
// übernommen. Der Status ist bewusst frei setzbar (kein Übergangs-Check).
func (s *TaskService) Update(id string, fields map[string]interface{}) (*models.Task, error) {
	var task models.Task
	if err := s.DB.Where("id = ? AND user_id = ?", id, DefaultUserID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
		}
		return nil, err
	}

	updates := map[string]interface{}{}
	for key, value := range fields {
		if taskUpdatableFields[key] {
			updates[key] = value
		}
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no updatable fields provided", ErrValidation)
	}

	if err := s.DB.Model(&task).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := s.DB.First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// deletePapersOf entfernt alle Papers der Tasks inklusive abhängiger Zeilen
// (Chat, Notizen, Interpretationen, Collection-Zuordnungen).
func deletePapersOf(tx *gorm.DB, taskIDs []string) error {
	var paperIDs []string
	if err := tx.Model(&models.Paper{}).Where("task_id IN ?", taskIDs).Pluck("id", &paperIDs).Error; err != nil {
		return err
	}
	if len(paperIDs) > 0 {
		if err := tx.Where("paper_id IN ?", paperIDs).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("paper_id IN ?", paperIDs).Delete(&models.Note{}).Error; err != nil {
			return err
		}
		if err := tx.Where("paper_id IN ?", paperIDs).Delete(&models.Interpretation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("paper_id IN ?", paperIDs).Delete(&models.PaperCollection{}).Error; err != nil {
			return err
		}
	}
	return tx.Where("task_id IN ?", taskIDs).Delete(&models.Paper{}).Error
}

// Delete entfernt einen Task mitsamt seiner Papers.
func (s *TaskService) Delete(id string) error {
	var task models.Task
	if err := s.DB.Where("id = ? AND user_id = ?", id, DefaultUserID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: task %s", ErrNotFound, id)
		}
		return err
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := deletePapersOf(tx, []string{id}); err != nil {
			return err
		}
		return tx.Delete(&task).Error
	})
}

// BatchDelete entfernt mehrere Tasks auf einmal und liefert die Anzahl der
// tatsächlich gelöschten. Unbekannte IDs werden still übergangen.
func (s *TaskService) BatchDelete(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var found []string
	if err := s.DB.Model(&models.Task{}).
		Where("id IN ? AND user_id = ?", ids, DefaultUserID).
		Pluck("id", &found).Error; err != nil {
		return 0, err
	}
	if len(found) == 0 {
		return 0, nil
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := deletePapersOf(tx, found); err != nil {
			return err
		}
		return tx.Where("id IN ?", found).Delete(&models.Task{}).Error
	})
	if err != nil {
		return 0, err
	}

	s.Logger.Info("Tasks batch-deleted", zap.Int("count", len(found)))
	return len(found), nil
}

// AddPapers legt pro nicht-leerem Titel ein Paper im Status "queued" an.
// Titel werden getrimmt; bereits im Task vorhandene Titel werden übersprungen.
func (s *TaskService) AddPapers(taskID string, titles []string) ([]models.Paper, error) {
	var task models.Task
	if err := s.DB.Where("id = ? AND user_id = ?", taskID, DefaultUserID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
		return nil, err
	}

	cleaned := make([]string, 0, len(titles))
	for _, title := range titles {
		title = strings.TrimSpace(title)
		if title != "" {
			cleaned = append(cleaned, title)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: no non-empty paper titles", ErrValidation)
	}

	var created []models.Paper
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		for _, title := range cleaned {
			var count int64
			if err := tx.Model(&models.Paper{}).
				Where("task_id = ? AND title = ?", taskID, title).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			paper := models.Paper{
				TaskID: taskID,
				Title:  title,
				Status: models.PaperStatusQueued,
			}
			if err := tx.Create(&paper).Error; err != nil {
				return err
			}
			created = append(created, paper)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("Papers added to task", zap.String("task_id", taskID), zap.Int("count", len(created)))
	return created, nil
}

// ListPapers liefert die Papers eines Tasks.
func (s *TaskService) ListPapers(taskID string) ([]models.Paper, error) {
	var task models.Task
	if err := s.DB.Where("id = ? AND user_id = ?", taskID, DefaultUserID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
		return nil, err
	}
	var papers []models.Paper
	if err := s.DB.Where("task_id = ?", taskID).Find(&papers).Error; err != nil {
		return nil, err
	}
	return papers, nil
}

// ReRead setzt alle Papers des Tasks zurück auf "queued", übernimmt optional
// neue Template-/Modell-Vorgaben (auch als Override pro Paper) und stellt den
// Task auf "running", damit die Pipeline ihn wieder aufnimmt.
func (s *TaskService) ReRead(taskID, templateID, modelName string) (int64, error) {
	var task models.Task
	if err := s.DB.Where("id = ? AND user_id = ?", taskID, DefaultUserID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
		return 0, err
	}

	var affected int64
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		taskUpdates := map[string]interface{}{"status": models.TaskStatusRunning}
		if templateID != "" {
			taskUpdates["template_id"] = templateID
		}
		if modelName != "" {
			taskUpdates["model_name"] = modelName
		}
		if err := tx.Model(&task).Updates(taskUpdates).Error; err != nil {
			return err
		}

		paperUpdates := map[string]interface{}{
			"status":         models.PaperStatusQueued,
			"failure_reason": "",
		}
		if templateID != "" {
			paperUpdates["template_id"] = templateID
		}
		if modelName != "" {
			paperUpdates["model_name"] = modelName
		}
		res := tx.Model(&models.Paper{}).Where("task_id = ?", taskID).Updates(paperUpdates)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}

	s.Logger.Info("Task re-read triggered", zap.String("task_id", taskID), zap.Int64("papers", affected))
	return affected, nil
}

// RetryPaper stellt ein fehlgeschlagenes Paper zurück in die Queue. Jeder
// andere Ausgangsstatus ist ein Konflikt: Retry ist ausschließlich der
// explizite Weg von "failed" nach "queued".
func (s *TaskService) RetryPaper(paperID string) (*models.Paper, error) {
	var paper models.Paper
	if err := s.DB.First(&paper, "id = ?", paperID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: paper %s", ErrNotFound, paperID)
		}
		return nil, err
	}
	if paper.Status != models.PaperStatusFailed {
		return nil, fmt.Errorf("%w: paper %s is %s, only failed papers can be retried", ErrConflict, paperID, paper.Status)
	}

	updates := map[string]interface{}{
		"status":         models.PaperStatusQueued,
		"failure_reason": "",
	}
	if err := s.DB.Model(&paper).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := s.DB.First(&paper, "id = ?", paperID).Error; err != nil {
		return nil, err
	}

	s.Logger.Info("Paper retried", zap.String("paper_id", paperID))
	return &paper, nil
}

// RequeueStale legt Papers, die länger als olderThan in "processing" hängen,
// zurück in die Queue. Fängt Papers auf, deren Pipeline-Lauf abgestürzt ist.
func (s *TaskService) RequeueStale(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.DB.Model(&models.Paper{}).
		Where("status = ? AND updated_at < ?", models.PaperStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":         models.PaperStatusQueued,
			"failure_reason": "",
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.Logger.Warn("Stale processing papers requeued", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
