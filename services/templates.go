package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ZHIXINXIE/papereader/models"
)

// TemplateService verwaltet Prompt-Templates inklusive der Default-Invariante:
// systemweit ist höchstens ein Template als Default markiert.
type TemplateService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewTemplateService erstellt eine neue Instanz des TemplateService.
func NewTemplateService(db *gorm.DB, logger *zap.Logger) *TemplateService {
	return &TemplateService{DB: db, Logger: logger}
}

// TemplateView ist die API-Darstellung: Content als Prompt-Liste statt als
// gespeicherter JSON-String.
type TemplateView struct {
	models.Template
	Content []string `json:"content"`
}

// decodeContent liest den gespeicherten Content. Alt-Daten, die noch ein
// nackter Prompt-String sind, werden als einelementige Liste geliefert.
func decodeContent(raw string) []string {
	var prompts []string
	if err := json.Unmarshal([]byte(raw), &prompts); err != nil {
		return []string{raw}
	}
	return prompts
}

func toView(t models.Template) TemplateView {
	return TemplateView{Template: t, Content: decodeContent(t.Content)}
}

// List liefert alle Templates des Default-Users.
func (s *TemplateService) List() ([]TemplateView, error) {
	var templates []models.Template
	if err := s.DB.Where("user_id = ?", DefaultUserID).Find(&templates).Error; err != nil {
		return nil, err
	}
	views := make([]TemplateView, 0, len(templates))
	for _, t := range templates {
		views = append(views, toView(t))
	}
	return views, nil
}

// Get liefert ein Template per ID.
func (s *TemplateService) Get(id string) (*TemplateView, error) {
	var t models.Template
	if err := s.DB.Where("id = ? AND user_id = ?", id, DefaultUserID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: template %s", ErrNotFound, id)
		}
		return nil, err
	}
	v := toView(t)
	return &v, nil
}

// Create legt ein Template an. Das erste Template des Users wird immer zum
// Default; ein explizites is_default löst die bisherigen Defaults ab. Beides
// läuft in einer Transaktion, damit nie null oder zwei Defaults existieren.
func (s *TemplateService) Create(name string, content []string, isDefault bool) (*TemplateView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: template name must not be empty", ErrValidation)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: template content must not be empty", ErrValidation)
	}

	encoded, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}

	t := models.Template{
		UserID:  DefaultUserID,
		Name:    name,
		Content: string(encoded),
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Template{}).Where("user_id = ?", DefaultUserID).Count(&count).Error; err != nil {
			return err
		}
		t.IsDefault = isDefault || count == 0
		if t.IsDefault {
			if err := tx.Model(&models.Template{}).
				Where("user_id = ?", DefaultUserID).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&t).Error
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("Template created", zap.String("id", t.ID), zap.String("name", t.Name), zap.Bool("is_default", t.IsDefault))
	v := toView(t)
	return &v, nil
}

// SetDefault markiert genau ein Template als Default. Unset der bisherigen
// und Set des neuen laufen in einer Transaktion.
func (s *TemplateService) SetDefault(id string) (*TemplateView, error) {
	var t models.Template
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, DefaultUserID).First(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: template %s", ErrNotFound, id)
			}
			return err
		}
		if err := tx.Model(&models.Template{}).
			Where("user_id = ?", DefaultUserID).
			Update("is_default", false).Error; err != nil {
			return err
		}
		t.IsDefault = true
		return tx.Model(&t).Update("is_default", true).Error
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("Default template changed", zap.String("id", t.ID))
	v := toView(t)
	return &v, nil
}

// Delete entfernt ein Template.
func (s *TemplateService) Delete(id string) error {
	res := s.DB.Where("id = ? AND user_id = ?", id, DefaultUserID).Delete(&models.Template{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: template %s", ErrNotFound, id)
	}
	return nil
}
