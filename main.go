package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"casefile/config"
	"casefile/models"
	"casefile/providers/llm"
	"casefile/services"
	"casefile/storage"
	"casefile/store"
)

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
	applyArgs(cfg, os.Args[1:], logging)

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to case database", zap.Error(err))
	}
	logging.Info("Successfully connected to case database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.CaseRecord{}, &models.ExtractedInfo{}, &models.ProgressCursor{})

	// Setup Services
	recordStore := store.New(db, logging)

	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	objectStore := storage.NewS3Store(s3Client, cfg)

	extractor, err := llm.NewExtractor(cfg, logging)
	if err != nil {
		logging.Fatal("Extractor creation failed", zap.Error(err))
	}
	logging.Info("Active extractor loaded", zap.String("provider", extractor.Name()), zap.String("model", cfg.LLMModel))

	media := services.NewMediaPipeline(cfg, logging, objectStore)
	orchestrator := services.NewOrchestrator(cfg, logging, recordStore, extractor, media)

	// Setup Router
	stats := &statsHolder{}
	router := gin.Default()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	setupAdminRoutes(router, recordStore, stats, logging)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Admin server stopped", zap.Error(err))
		}
	}()

	runOnce := func() {
		result := orchestrator.RunLoop(context.Background())
		stats.set(result)
	}

	if cfg.DaemonMode {
		// Daemon-Modus: resident bleiben, Läufe per Cron anstoßen.
		var running sync.Mutex
		cronScheduler := cron.New()
		cronScheduler.AddFunc(cfg.CronSchedule, func() {
			if !running.TryLock() {
				logging.Warn("Vorheriger Lauf ist noch aktiv, überspringe Cron-Trigger")
				return
			}
			defer running.Unlock()
			logging.Info("Running scheduled worker pass...")
			runOnce()
		})
		cronScheduler.Start()
		logging.Info("Worker running in daemon mode",
			zap.String("port", cfg.HTTPPort),
			zap.String("schedule", cfg.CronSchedule))

		running.Lock()
		runOnce()
		running.Unlock()
		select {}
	}

	runOnce()
	logging.Info("Worker finished, exiting.")
}

// applyArgs überschreibt Konfiguration mit den Positionsargumenten
// min-wait, max-wait und optional max-cycles.
func applyArgs(cfg *config.Config, args []string, logging *zap.Logger) {
	if len(args) == 0 {
		return
	}
	if len(args) < 2 || len(args) > 3 {
		logging.Fatal("Usage: casefile [min-wait-seconds max-wait-seconds [max-cycles]]")
	}
	minWait, err := strconv.Atoi(args[0])
	if err != nil || minWait < 0 {
		logging.Fatal("Invalid min-wait argument", zap.String("value", args[0]))
	}
	maxWait, err := strconv.Atoi(args[1])
	if err != nil || maxWait < minWait {
		logging.Fatal("Invalid max-wait argument", zap.String("value", args[1]))
	}
	cfg.MinWaitSeconds = minWait
	cfg.MaxWaitSeconds = maxWait
	if len(args) == 3 {
		maxCycles, err := strconv.Atoi(args[2])
		if err != nil || maxCycles < 0 {
			logging.Fatal("Invalid max-cycles argument", zap.String("value", args[2]))
		}
		cfg.MaxCycles = maxCycles
	}
}

type statsHolder struct {
	mu   sync.Mutex
	last services.RunStats
	runs int
}

func (s *statsHolder) set(r services.RunStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = r
	s.runs++
}

func (s *statsHolder) get() (services.RunStats, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.runs
}

func setupAdminRoutes(router *gin.Engine, recordStore *store.RecordStore, stats *statsHolder, log *zap.Logger) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "casefile-worker"})
	})

	router.GET("/stats", func(c *gin.Context) {
		last, runs := stats.get()
		c.JSON(http.StatusOK, gin.H{
			"runs":           runs,
			"cycles":         last.Cycles,
			"committed":      last.Committed,
			"not_applicable": last.NotApplicable,
			"errors":         last.Errors,
			"images":         last.Images,
		})
	})

	// Body-gesteuerter Endpunkt für Record-Abfragen
	router.POST("/records/query", func(c *gin.Context) {
		type RecordQuery struct {
			CaseID string `json:"case_id"`
			State  string `json:"state"`
			County string `json:"county"`
			Status *int   `json:"status"`
			Limit  int    `json:"limit"`
		}

		var req RecordQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := recordStore.DB.Model(&models.CaseRecord{})
		if req.CaseID != "" {
			query = query.Where("case_id = ?", req.CaseID)
		}
		if req.State != "" {
			query = query.Where("state = ?", req.State)
		}
		if req.County != "" {
			query = query.Where("county = ?", req.County)
		}
		if req.Status != nil {
			query = query.Where("status = ?", *req.Status)
		}
		if req.Limit > 0 {
			query = query.Limit(req.Limit)
		}

		var records []models.CaseRecord
		if err := query.Order("id asc").Find(&records).Error; err != nil {
			log.Error("Database query for records failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, records)
	})

	// Manuelle Erholung nach Absturz: Claimed-Fälle zurück auf Pending.
	router.POST("/admin/reset-stuck", func(c *gin.Context) {
		count, err := recordStore.ResetStuck(c.Request.Context())
		if err != nil {
			log.Error("Failed to reset stuck records", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		log.Info("Stuck records reset", zap.Int64("count", count))
		c.JSON(http.StatusOK, gin.H{"reset": count})
	})
}
