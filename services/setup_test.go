package services

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ZHIXINXIE/papereader/models"
)

// openTestDB öffnet eine In-Memory-Datenbank mit vollem Schema und dem
// geseedeten Default-User.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Template{}, &models.Task{}, &models.Paper{},
		&models.Collection{}, &models.PaperCollection{},
		&models.ChatMessage{}, &models.Note{}, &models.Interpretation{},
	))

	user := models.User{ID: DefaultUserID, Email: "user@example.com", Name: "Default User"}
	require.NoError(t, db.Create(&user).Error)

	return db
}

func newTestTemplateService(t *testing.T, db *gorm.DB) *TemplateService {
	t.Helper()
	return NewTemplateService(db, zap.NewNop())
}

func newTestTaskService(t *testing.T, db *gorm.DB) *TaskService {
	t.Helper()
	return NewTaskService(db, zap.NewNop())
}

func newTestCollectionService(t *testing.T, db *gorm.DB) *CollectionService {
	t.Helper()
	return NewCollectionService(db, zap.NewNop())
}

// mustTemplate legt ein Template an, auf dem Task-Tests aufbauen können.
func mustTemplate(t *testing.T, svc *TemplateService) *TemplateView {
	t.Helper()
	template, err := svc.Create("Standard Read", []string{"Summarize the paper."}, false)
	require.NoError(t, err)
	return template
}

// mustTask legt einen Task mit frischem Template an.
func mustTask(t *testing.T, db *gorm.DB) (*TaskService, *models.TaskWithStats) {
	t.Helper()
	template := mustTemplate(t, newTestTemplateService(t, db))
	svc := newTestTaskService(t, db)
	task, err := svc.Create("T1", "", template.ID, "")
	require.NoError(t, err)
	return svc, task
}
