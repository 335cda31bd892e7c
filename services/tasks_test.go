package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZHIXINXIE/papereader/models"
)

func TestCreateTaskRequiresTemplate(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTaskService(t, db)

	_, err := svc.Create("T1", "", "", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create("T1", "", "missing-template", "")
	assert.ErrorIs(t, err, ErrNotFound)

	template := mustTemplate(t, newTestTemplateService(t, db))
	task, err := svc.Create("T1", "desc", template.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, task.Status)
}

func TestCreateTaskEmptyName(t *testing.T) {
	db := openTestDB(t)
	template := mustTemplate(t, newTestTemplateService(t, db))

	_, err := newTestTaskService(t, db).Create("  ", "", template.ID, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAddPapersFiltersEmptyTitles(t *testing.T) {
	db := openTestDB(t)
	svc, task := mustTask(t, db)

	papers, err := svc.AddPapers(task.ID, []string{"Paper A", "", "  ", "Paper B"})
	require.NoError(t, err)
	require.Len(t, papers, 2)
	for _, p := range papers {
		assert.Equal(t, models.PaperStatusQueued, p.Status)
		assert.Equal(t, task.ID, p.TaskID)
	}
}

func TestAddPapersAllEmptyIsValidationError(t *testing.T) {
	db := openTestDB(t)
	svc, task := mustTask(t, db)

	_, err := svc.AddPapers(task.ID, []string{"", "   "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAddPapersSkipsDuplicateTitles(t *testing.T) {
	db := openTestDB(t)
	svc, task := mustTask(t, db)

	first, err := svc.AddPapers(task.ID, []string{"Paper A"})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.AddPapers(task.ID, []string{"Paper A", "Paper B"})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "Paper B", second[0].Title)
}

func setPaperStatus(t *testing.T, svc *TaskService, paperID, status string) {
	t.Helper()
	require.NoError(t, svc.DB.Model(&models.Paper{}).Where("id = ?", paperID).Update("status", status).Error)
}

func TestStatisticsTotalEqualsSumOfParts(t *testing.T) {
	db := openTestDB(t)
	svc, task := mustTask(t, db)

	papers, err := svc.AddPapers(task.ID, []string{"A", "B", "C", "D", "E"})
	require.NoError(t, err)

	setPaperStatus(t, svc, papers[0].ID, models.PaperStatusDone)
	setPaperStatus(t, svc, papers[1].ID, models.PaperStatusFailed)
	setPaperStatus(t, svc, papers[2].ID, models.PaperStatusSkipped)
	setPaperStatus(t, svc, papers[3].ID, models.PaperStatusProcessing)
	// papers[4] bleibt queued

	got, err := svc.Get(task.ID)
	require.NoError(t, err)
	stats := got.Statistics
	assert.EqualValues(t, 5, stats.Total)
	assert.EqualValues(t, 1, stats.Done)
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 1, stats.Skipped)
	assert.EqualValues(t, 1, stats.Processing)
	assert.EqualValues(t, 1, stats.Queued)
	assert.Equal(t, stats.Total, stats.Done+stats.Failed+stats.Skipped+stats.Queued+stats.Processing)
}

func TestRetryPaperOnlyFromFailed(t *testing.T) {
	db := openTestDB(t)
	svc, task := mustTask(t, db)

	papers, err := svc.AddPapers(task.ID, []string{"A"})
	require.NoError(t, err)
	paper := papers[0]

	// queued -> Retry ist ein Konflikt
	_, err = svc.RetryPaper(paper.ID)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, svc.DB.Model(&models.Paper{}).Where("id = ?", paper.ID).
		Updates(map[string]interface{}{"status": models.PaperStatusFailed, "failure_reason": "boom"}).Error)

	retried, err := svc.RetryPaper(paper.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaperStatusQueued, retried.Status)
	assert.Empty(t, retried.FailureReason)
}

func TestRetryPaperNotFound(t *testing.T) {
	db := openTestDB(t)
	svc := newTestTaskService(t, db)

	_, err := svc.RetryPaper("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReReadResetsAllPapers(t *testing.T) {
	db := openTestDB(t)
	svc, task := mustTask(t, db)

	papers, err := svc.AddPapers(task.ID, []string{"A", "B"})
	require.NoError(t, err)
	setPaperStatus(t, svc, papers[0].ID, models.PaperStatusDone)
	require.NoError(t, svc.DB.Model(&models.Paper{}).Where("id = ?", papers[1].ID).
		Updates(map[string]interface{}{"status": models.PaperStatusFailed, "failure_reason": "boom"}).Error)

	// Task pausieren, Re-Read muss ihn wieder auf running stellen.
	_, err = svc.Update(task.ID, map[string]interface{}{"status": models.TaskStatusPaused})
	require.NoError(t, err)

	other := mustTemplate(t, newTestTemplateService(t, db))
	count, err := svc.ReRead(task.ID, other.ID, "gemini-3-pro")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	got, err := svc.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, got.Status)
	assert.Equal(t, other.ID, got.TemplateID)
	assert.Equal(t, "gemini-3-pro", got.ModelName)

	list, err := svc.ListPapers(task.ID)
	require.NoError(t, err)
	for _, p := range list {
		assert.Equal(t, models.PaperStatusQueued, p.Status)
		assert.Empty(t, p.FailureReason)
		assert.Equal(t, other.ID, p.TemplateID)
		assert.Equal(t, "gemini-3-pro", p.ModelName)
	}
}

func TestUpdateTaskWhitelist(t *testing.T) {
	db := openTestDB(t)
	svc, task := mustTask(t, db)

	updated, err := svc.Update(task.ID, map[string]interface{}{
		"status": models.TaskStatusCompleted,
		"id":     "evil",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, updated.Status)
	assert.Equal(t, task.ID, updated.ID)

	_, err = svc.Update(task.ID, map[string]interface{}{"id": "evil"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteTaskCascades(t *testing.T) {
	db := openTestDB(t)
	svc, task := mustTask(t, db)

	papers, err := svc.AddPapers(task.ID, []string{"A"})
	require.NoError(t, err)
	paper := papers[0]

	colSvc := newTestCollectionService(t, db)
	col, err := colSvc.Create("Favs", nil)
	require.NoError(t, err)
	require.NoError(t, colSvc.AddPaper(col.ID, paper.ID))
	require.NoError(t, db.Create(&models.Note{PaperID: paper.ID, Content: "note"}).Error)
	require.NoError(t, db.Create(&models.ChatMessage{PaperID: paper.ID, Role: "user", Content: "hi"}).Error)

	require.NoError(t, svc.Delete(task.ID))

	var n int64
	db.Model(&models.Paper{}).Where("task_id = ?", task.ID).Count(&n)
	assert.Zero(t, n)
	db.Model(&models.PaperCollection{}).Where("paper_id = ?", paper.ID).Count(&n)
	assert.Zero(t, n)
	db.Model(&models.Note{}).Where("paper_id = ?", paper.ID).Count(&n)
	assert.Zero(t, n)
	db.Model(&models.ChatMessage{}).Where("paper_id = ?", paper.ID).Count(&n)
	assert.Zero(t, n)

	// Collection selbst bleibt bestehen
	db.Model(&models.Collection{}).Where("id = ?", col.ID).Count(&n)
	assert.EqualValues(t, 1, n)
}

func TestBatchDeleteSkipsUnknownIDs(t *testing.T) {
	db := openTestDB(t)
	svc, task := mustTask(t, db)

	template := mustTemplate(t, newTestTemplateService(t, db))
	second, err := svc.Create("T2", "", template.ID, "")
	require.NoError(t, err)

	deleted, err := svc.BatchDelete([]string{task.ID, second.ID, "unknown"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	deleted, err = svc.BatchDelete([]string{"unknown"})
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestRequeueStaleOnlyTouchesOldProcessing(t *testing.T) {
	db := openTestDB(t)
	svc, task := mustTask(t, db)

	papers, err := svc.AddPapers(task.ID, []string{"stale", "fresh", "done"})
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&models.Paper{}).Where("id = ?", papers[0].ID).
		UpdateColumns(map[string]interface{}{"status": models.PaperStatusProcessing, "updated_at": past}).Error)
	setPaperStatus(t, svc, papers[1].ID, models.PaperStatusProcessing)
	require.NoError(t, db.Model(&models.Paper{}).Where("id = ?", papers[2].ID).
		UpdateColumns(map[string]interface{}{"status": models.PaperStatusDone, "updated_at": past}).Error)

	count, err := svc.RequeueStale(30 * time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	list, err := svc.ListPapers(task.ID)
	require.NoError(t, err)
	byTitle := map[string]string{}
	for _, p := range list {
		byTitle[p.Title] = p.Status
	}
	assert.Equal(t, models.PaperStatusQueued, byTitle["stale"])
	assert.Equal(t, models.PaperStatusProcessing, byTitle["fresh"])
	assert.Equal(t, models.PaperStatusDone, byTitle["done"])
}
