package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ZHIXINXIE/papereader/config"
	"github.com/ZHIXINXIE/papereader/models"
)

func newTestPaperService(t *testing.T, db *gorm.DB) *PaperService {
	t.Helper()
	return NewPaperService(&config.Config{}, db, nil, zap.NewNop())
}

func mustPaper(t *testing.T, db *gorm.DB) models.Paper {
	t.Helper()
	taskSvc, task := mustTask(t, db)
	papers, err := taskSvc.AddPapers(task.ID, []string{"P"})
	require.NoError(t, err)
	return papers[0]
}

func TestGetPaperEmbedsInterpretation(t *testing.T) {
	db := openTestDB(t)
	svc := newTestPaperService(t, db)
	paper := mustPaper(t, db)

	got, err := svc.Get(paper.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Interpretation)

	interp := models.Interpretation{PaperID: paper.ID, Content: "summary", TemplateUsed: "[]"}
	require.NoError(t, db.Create(&interp).Error)

	got, err = svc.Get(paper.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Interpretation)
	assert.Equal(t, "summary", got.Interpretation.Content)
}

func TestGetPaperNotFound(t *testing.T) {
	svc := newTestPaperService(t, openTestDB(t))
	_, err := svc.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePaperWhitelist(t *testing.T) {
	db := openTestDB(t)
	svc := newTestPaperService(t, db)
	paper := mustPaper(t, db)

	updated, err := svc.Update(paper.ID, map[string]interface{}{
		"status":  models.PaperStatusProcessing,
		"source":  "arxiv",
		"task_id": "evil",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaperStatusProcessing, updated.Status)
	assert.Equal(t, "arxiv", updated.Source)
	assert.Equal(t, paper.TaskID, updated.TaskID)

	_, err = svc.Update(paper.ID, map[string]interface{}{"task_id": "evil"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNotesUpsert(t *testing.T) {
	db := openTestDB(t)
	svc := newTestPaperService(t, db)
	paper := mustPaper(t, db)

	// Ohne gespeicherte Notiz kommt eine leere zurück.
	note, err := svc.GetNote(paper.ID)
	require.NoError(t, err)
	assert.Empty(t, note.Content)

	_, err = svc.PutNote(paper.ID, "first")
	require.NoError(t, err)
	_, err = svc.PutNote(paper.ID, "second")
	require.NoError(t, err)

	note, err = svc.GetNote(paper.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", note.Content)

	var n int64
	db.Model(&models.Note{}).Where("paper_id = ?", paper.ID).Count(&n)
	assert.EqualValues(t, 1, n, "PutNote must upsert, not append")
}

func TestChatHistoryOrderAndValidation(t *testing.T) {
	db := openTestDB(t)
	svc := newTestPaperService(t, db)
	paper := mustPaper(t, db)

	_, err := svc.AppendMessage(paper.ID, "user", "hello")
	require.NoError(t, err)
	_, err = svc.AppendMessage(paper.ID, "assistant", "hi there")
	require.NoError(t, err)

	_, err = svc.AppendMessage(paper.ID, "user", "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.AppendMessage(paper.ID, "robot", "beep")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.AppendMessage("missing", "user", "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err := svc.ChatHistory(paper.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestDeletePaperCascades(t *testing.T) {
	db := openTestDB(t)
	svc := newTestPaperService(t, db)
	paper := mustPaper(t, db)

	colSvc := newTestCollectionService(t, db)
	col, err := colSvc.Create("Favs", nil)
	require.NoError(t, err)
	require.NoError(t, colSvc.AddPaper(col.ID, paper.ID))
	_, err = svc.PutNote(paper.ID, "note")
	require.NoError(t, err)
	_, err = svc.AppendMessage(paper.ID, "user", "hi")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(paper.ID))

	var n int64
	db.Model(&models.Paper{}).Where("id = ?", paper.ID).Count(&n)
	assert.Zero(t, n)
	db.Model(&models.Note{}).Where("paper_id = ?", paper.ID).Count(&n)
	assert.Zero(t, n)
	db.Model(&models.ChatMessage{}).Where("paper_id = ?", paper.ID).Count(&n)
	assert.Zero(t, n)
	db.Model(&models.PaperCollection{}).Where("paper_id = ?", paper.ID).Count(&n)
	assert.Zero(t, n)
}

func TestAttachPDFWithoutStorageIsConflict(t *testing.T) {
	db := openTestDB(t)
	svc := newTestPaperService(t, db)
	paper := mustPaper(t, db)

	_, err := svc.AttachPDF(context.Background(), paper.ID, []byte("%PDF-"))
	assert.ErrorIs(t, err, ErrConflict)
}
