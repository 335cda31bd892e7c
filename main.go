package main

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ZHIXINXIE/papereader/config"
	"github.com/ZHIXINXIE/papereader/models"
	"github.com/ZHIXINXIE/papereader/services"
	"github.com/ZHIXINXIE/papereader/storage"
)

var (
	papersAddedCounter    prometheus.Counter
	papersRequeuedCounter prometheus.Counter
)

func init() {
	papersAddedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "papers_added_total",
			Help: "Total number of papers added to the reading queue.",
		},
	)
	papersRequeuedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "papers_requeued_total",
			Help: "Total number of stale processing papers returned to the queue.",
		},
	)
	prometheus.MustRegister(papersAddedCounter, papersRequeuedCounter)
}

// corsMiddleware erlaubt dem lokalen Frontend (und der Browser-Extension)
// den Zugriff auf die API.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", cfg.UIOrigin)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// respondError bildet die Service-Fehlertaxonomie auf HTTP-Codes ab. Die
// Meldung geht unverändert an die Oberfläche; nur unerwartete Fehler werden
// geloggt und maskiert.
func respondError(c *gin.Context, logging *zap.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logging.Error("Unexpected error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(
		&models.User{}, &models.Template{}, &models.Task{}, &models.Paper{},
		&models.Collection{}, &models.PaperCollection{},
		&models.ChatMessage{}, &models.Note{}, &models.Interpretation{},
	)

	// Seeding
	seedDefaultUser(db, logging)
	seedDefaultTemplate(db, logging)

	// PDF-Ablage ist optional; ohne S3-Konfiguration bleibt der Upload aus.
	var pdfStore *s3.Client
	if cfg.PDFStorageEnabled() {
		client, err := storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		pdfStore = client
		logging.Info("PDF storage enabled", zap.String("bucket", cfg.PDFS3Bucket))
	} else {
		logging.Warn("PDF storage not configured, upload endpoint disabled")
	}

	// Setup Services
	templateService := services.NewTemplateService(db, logging)
	taskService := services.NewTaskService(db, logging)
	collectionService := services.NewCollectionService(db, logging)
	paperService := services.NewPaperService(cfg, db, pdfStore, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Welcome to Paper Reader API"})
	})

	// Setup Routes
	api := router.Group("/api")
	setupTemplateRoutes(api, templateService, logging)
	setupTaskRoutes(api, taskService, logging)
	setupPaperRoutes(api, paperService, taskService, collectionService, logging)
	setupCollectionRoutes(api, collectionService, logging)

	// Reaper: hängengebliebene Papers zurück in die Queue. SkipIfStillRunning
	// verwirft einen Tick, solange der vorherige Lauf noch läuft.
	cronScheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	staleAfter := time.Duration(cfg.StaleAfterMinutes) * time.Minute
	cronScheduler.AddFunc(cfg.ReaperSchedule, func() {
		count, err := taskService.RequeueStale(staleAfter)
		if err != nil {
			logging.Error("Stale paper reaper failed", zap.Error(err))
		} else if count > 0 {
			papersRequeuedCounter.Add(float64(count))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupTemplateRoutes(api *gin.RouterGroup, svc *services.TemplateService, log *zap.Logger) {
	rg := api.Group("/templates")

	rg.GET("/", func(c *gin.Context) {
		templates, err := svc.List()
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, templates)
	})

	rg.POST("/", func(c *gin.Context) {
		var req struct {
			Name      string   `json:"name" binding:"required"`
			Content   []string `json:"content" binding:"required"`
			IsDefault bool     `json:"is_default"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		template, err := svc.Create(req.Name, req.Content, req.IsDefault)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, template)
	})

	rg.GET("/:id", func(c *gin.Context) {
		template, err := svc.Get(c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, template)
	})

	rg.PUT("/:id/default", func(c *gin.Context) {
		template, err := svc.SetDefault(c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, template)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		if err := svc.Delete(c.Param("id")); err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
}

func setupTaskRoutes(api *gin.RouterGroup, svc *services.TaskService, log *zap.Logger) {
	rg := api.Group("/tasks")

	rg.GET("/", func(c *gin.Context) {
		tasks, err := svc.List()
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, tasks)
	})

	rg.POST("/", func(c *gin.Context) {
		var req struct {
			Name        string `json:"name" binding:"required"`
			Description string `json:"description"`
			TemplateID  string `json:"template_id"`
			ModelName   string `json:"model_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		task, err := svc.Create(req.Name, req.Description, req.TemplateID, req.ModelName)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, task)
	})

	// batch-delete vor /:id registrieren, damit gin die Route nicht als ID frisst
	rg.POST("/batch-delete", func(c *gin.Context) {
		var req struct {
			IDs []string `json:"ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		deleted, err := svc.BatchDelete(req.IDs)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	})

	rg.GET("/:id", func(c *gin.Context) {
		task, err := svc.Get(c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, task)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		task, err := svc.Update(c.Param("id"), updateData)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, task)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		if err := svc.Delete(c.Param("id")); err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	rg.GET("/:id/papers", func(c *gin.Context) {
		papers, err := svc.ListPapers(c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, papers)
	})

	rg.POST("/:id/papers", func(c *gin.Context) {
		var req struct {
			Titles []string `json:"titles" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		papers, err := svc.AddPapers(c.Param("id"), req.Titles)
		if err != nil {
			respondError(c, log, err)
			return
		}
		papersAddedCounter.Add(float64(len(papers)))
		c.JSON(http.StatusCreated, papers)
	})

	rg.POST("/:id/reread", func(c *gin.Context) {
		var req struct {
			TemplateID string `json:"template_id"`
			ModelName  string `json:"model_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		count, err := svc.ReRead(c.Param("id"), req.TemplateID, req.ModelName)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "count": count})
	})
}

func setupPaperRoutes(api *gin.RouterGroup, svc *services.PaperService, tasks *services.TaskService, collections *services.CollectionService, log *zap.Logger) {
	rg := api.Group("/papers")

	rg.GET("/:id", func(c *gin.Context) {
		paper, err := svc.Get(c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, paper)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		paper, err := svc.Update(c.Param("id"), updateData)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, paper)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		if err := svc.Delete(c.Param("id")); err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	rg.POST("/:id/retry", func(c *gin.Context) {
		paper, err := tasks.RetryPaper(c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, paper)
	})

	rg.GET("/:id/notes", func(c *gin.Context) {
		note, err := svc.GetNote(c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, note)
	})

	rg.PUT("/:id/notes", func(c *gin.Context) {
		var req struct {
			Content string `json:"content"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		note, err := svc.PutNote(c.Param("id"), req.Content)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, note)
	})

	rg.GET("/:id/chat", func(c *gin.Context) {
		msgs, err := svc.ChatHistory(c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, msgs)
	})

	// Die KI-Antwort erzeugt die externe Integration und schreibt sie mit
	// role "assistant" über denselben Endpoint zurück.
	rg.POST("/:id/chat", func(c *gin.Context) {
		var req struct {
			Role    string `json:"role"`
			Message string `json:"message" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.Role == "" {
			req.Role = "user"
		}
		msg, err := svc.AppendMessage(c.Param("id"), req.Role, req.Message)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
	})

	rg.POST("/:id/pdf", func(c *gin.Context) {
		data, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		paper, err := svc.AttachPDF(c.Request.Context(), c.Param("id"), data)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, paper)
	})

	rg.GET("/:id/collections", func(c *gin.Context) {
		cols, err := collections.CollectionsOf(c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, cols)
	})
}

func setupCollectionRoutes(api *gin.RouterGroup, svc *services.CollectionService, log *zap.Logger) {
	rg := api.Group("/collections")

	rg.GET("/", func(c *gin.Context) {
		cols, err := svc.List()
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, cols)
	})

	rg.POST("/", func(c *gin.Context) {
		var req struct {
			Name     string  `json:"name" binding:"required"`
			ParentID *string `json:"parent_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		col, err := svc.Create(req.Name, req.ParentID)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, col)
	})

	rg.GET("/tree", func(c *gin.Context) {
		tree, err := svc.Tree()
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, tree)
	})

	// Welche Collections enthalten ein Paper (für den Toggle im Detail-View).
	rg.GET("/paper/:paperId", func(c *gin.Context) {
		cols, err := svc.CollectionsOf(c.Param("paperId"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, cols)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		if err := svc.Delete(c.Param("id")); err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	rg.GET("/:id/papers", func(c *gin.Context) {
		papers, err := svc.Papers(c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, papers)
	})

	rg.POST("/:id/papers/:paperId", func(c *gin.Context) {
		if err := svc.AddPaper(c.Param("id"), c.Param("paperId")); err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	rg.DELETE("/:id/papers/:paperId", func(c *gin.Context) {
		if err := svc.RemovePaper(c.Param("id"), c.Param("paperId")); err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
}

func seedDefaultUser(db *gorm.DB, logger *zap.Logger) {
	var count int64
	db.Model(&models.User{}).Where("id = ?", services.DefaultUserID).Count(&count)
	if count > 0 {
		return
	}
	user := models.User{
		ID:    services.DefaultUserID,
		Email: "user@example.com",
		Name:  "Default User",
	}
	if err := db.Create(&user).Error; err != nil {
		logger.Warn("Failed to seed default user", zap.Error(err))
	} else {
		logger.Info("Default user seeded.")
	}
}

func seedDefaultTemplate(db *gorm.DB, logger *zap.Logger) {
	var count int64
	db.Model(&models.Template{}).Where("user_id = ?", services.DefaultUserID).Count(&count)
	if count > 0 {
		return
	}
	content := `["Summarize the core contribution in three sentences.","What are the key experimental results and do they support the claims?","List the main limitations and open questions."]`
	template := models.Template{
		UserID:    services.DefaultUserID,
		Name:      "Standard Read",
		Content:   content,
		IsDefault: true,
	}
	if err := db.Create(&template).Error; err != nil {
		logger.Warn("Failed to seed default template", zap.Error(err))
	} else {
		logger.Info("Default template seeded.")
	}
}
