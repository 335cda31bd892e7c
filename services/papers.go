package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ZHIXINXIE/papereader/config"
	"github.com/ZHIXINXIE/papereader/models"
	"github.com/ZHIXINXIE/papereader/storage"
)

// PaperService verwaltet einzelne Papers, ihre Notizen und den Chat-Verlauf.
// Über Update schreibt auch die externe Pipeline ihre Status-Übergänge.
type PaperService struct {
	Config   *config.Config
	DB       *gorm.DB
	S3Client *s3.Client
	Logger   *zap.Logger
}

// NewPaperService erstellt eine neue Instanz des PaperService. s3Client darf
// nil sein, dann ist der PDF-Upload deaktiviert.
func NewPaperService(cfg *config.Config, db *gorm.DB, s3Client *s3.Client, logger *zap.Logger) *PaperService {
	return &PaperService{Config: cfg, DB: db, S3Client: s3Client, Logger: logger}
}

// PaperDetail ist die API-Darstellung eines Papers inklusive Interpretation.
type PaperDetail struct {
	models.Paper
	Interpretation *models.Interpretation `json:"interpretation,omitempty"`
}

func (s *PaperService) find(paperID string) (*models.Paper, error) {
	var paper models.Paper
	if err := s.DB.First(&paper, "id = ?", paperID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: paper %s", ErrNotFound, paperID)
		}
		return nil, err
	}
	return &paper, nil
}

// Get liefert ein Paper mit eingebetteter Interpretation, falls vorhanden.
func (s *PaperService) Get(paperID string) (*PaperDetail, error) {
	paper, err := s.find(paperID)
	if err != nil {
		return nil, err
	}
	detail := PaperDetail{Paper: *paper}
	var interp models.Interpretation
	err = s.DB.Where("paper_id = ?", paperID).First(&interp).Error
	if err == nil {
		detail.Interpretation = &interp
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return &detail, nil
}

// paperUpdatableFields sind die per PUT änderbaren Spalten. Das ist der
// Schreibpfad der externen Pipeline (Status, PDF-Pfad, Quelle, Fehlergrund).
var paperUpdatableFields = map[string]bool{
	"status":         true,
	"pdf_path":       true,
	"source":         true,
	"source_url":     true,
	"failure_reason": true,
	"title":          true,
}

// Update führt ein partielles Update aus; nur Whitelist-Felder zählen.
func (s *PaperService) Update(paperID string, fields map[string]interface{}) (*models.Paper, error) {
	paper, err := s.find(paperID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	for key, value := range fields {
		if paperUpdatableFields[key] {
			updates[key] = value
		}
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no updatable fields provided", ErrValidation)
	}

	if err := s.DB.Model(paper).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := s.DB.First(paper, "id = ?", paperID).Error; err != nil {
		return nil, err
	}
	return paper, nil
}

// Delete entfernt ein Paper samt Chat, Notizen, Interpretation und
// Collection-Zuordnungen.
func (s *PaperService) Delete(paperID string) error {
	paper, err := s.find(paperID)
	if err != nil {
		return err
	}
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("paper_id = ?", paperID).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("paper_id = ?", paperID).Delete(&models.Note{}).Error; err != nil {
			return err
		}
		if err := tx.Where("paper_id = ?", paperID).Delete(&models.Interpretation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("paper_id = ?", paperID).Delete(&models.PaperCollection{}).Error; err != nil {
			return err
		}
		return tx.Delete(paper).Error
	})
}

// GetNote liefert die Notiz eines Papers; ohne gespeicherte Notiz kommt eine
// leere zurück, damit die Oberfläche nicht zwischen 404 und leer unterscheiden
// muss.
func (s *PaperService) GetNote(paperID string) (*models.Note, error) {
	var note models.Note
	err := s.DB.Where("paper_id = ?", paperID).First(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Note{PaperID: paperID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// PutNote legt die Notiz an oder überschreibt sie (Upsert, eine pro Paper).
func (s *PaperService) PutNote(paperID, content string) (*models.Note, error) {
	if _, err := s.find(paperID); err != nil {
		return nil, err
	}

	var note models.Note
	err := s.DB.Where("paper_id = ?", paperID).First(&note).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		note = models.Note{PaperID: paperID, Content: content}
		if err := s.DB.Create(&note).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := s.DB.Model(&note).Update("content", content).Error; err != nil {
			return nil, err
		}
		note.Content = content
	}
	return &note, nil
}

// ChatHistory liefert den Chat-Verlauf eines Papers in zeitlicher Reihenfolge.
func (s *PaperService) ChatHistory(paperID string) ([]models.ChatMessage, error) {
	if _, err := s.find(paperID); err != nil {
		return nil, err
	}
	var msgs []models.ChatMessage
	if err := s.DB.Where("paper_id = ?", paperID).Order("created_at").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// AppendMessage hängt eine Nachricht an den Chat-Verlauf an. Die Antwort der
// KI-Integration kommt über denselben Weg mit role "assistant" herein.
func (s *PaperService) AppendMessage(paperID, role, content string) (*models.ChatMessage, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: message content must not be empty", ErrValidation)
	}
	if role != "user" && role != "assistant" && role != "system" {
		return nil, fmt.Errorf("%w: unknown chat role %q", ErrValidation, role)
	}
	if _, err := s.find(paperID); err != nil {
		return nil, err
	}

	msg := models.ChatMessage{PaperID: paperID, Role: role, Content: content}
	if err := s.DB.Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// AttachPDF lädt das PDF in die S3-Ablage und hinterlegt den Link als
// pdf_path. Ohne konfigurierte Ablage ist der Upload ein Konflikt.
func (s *PaperService) AttachPDF(ctx context.Context, paperID string, data []byte) (*models.Paper, error) {
	if s.S3Client == nil {
		return nil, fmt.Errorf("%w: pdf storage is not configured", ErrConflict)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty pdf body", ErrValidation)
	}
	paper, err := s.find(paperID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("pdfs/%s/%s.pdf", paper.TaskID, paper.ID)
	link, err := storage.UploadFile(ctx, s.S3Client, s.Config.PDFS3Bucket, key, data, s.Config)
	if err != nil {
		return nil, err
	}
	if err := s.DB.Model(paper).Update("pdf_path", link).Error; err != nil {
		return nil, err
	}
	paper.PDFPath = link

	s.Logger.Info("PDF attached", zap.String("paper_id", paperID), zap.String("link", link))
	return paper, nil
}
