package main

import (
	"context"
	"encoding/json"
	"log"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"casefile/config"
	"casefile/models"
	"casefile/services"
	"casefile/storage"
	"casefile/store"
)

// cursorTask ist der Name dieses Scans in der progress_cursors-Tabelle.
const cursorTask = "image-backfill"

const batchSize = 100

// Backfill-Lauf: geht alle abgeschlossenen Fälle durch und holt Bilder nach,
// wo der ursprüngliche Lauf keine gespeichert hat. Über den ProgressCursor
// nach einem Neustart fortsetzbar, ohne von vorn zu scannen.
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
		logging.Fatal("Failed to connect to case database", zap.Error(err))
	}

	recordStore := store.New(db, logging)

	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	media := services.NewMediaPipeline(cfg, logging, storage.NewS3Store(s3Client, cfg))

	ctx := context.Background()
	lastID, err := recordStore.CursorGet(ctx, cursorTask)
	if err != nil {
		logging.Fatal("Cursor read failed", zap.Error(err))
	}
	logging.Info("Starte Bild-Backfill", zap.Uint("cursor", lastID))

	processed, filled := 0, 0
	for {
		var records []models.CaseRecord
		err := db.WithContext(ctx).
			Where("status = ?", models.StatusDone).
			Where("id > ?", lastID).
			Order("id asc").
			Limit(batchSize).
			Find(&records).Error
		if err != nil {
			logging.Fatal("Scan query failed", zap.Error(err))
		}
		if len(records) == 0 {
			break
		}

		for i := range records {
			rec := &records[i]
			lastID = rec.ID
			processed++
			if backfillRecord(ctx, db, media, logging, rec) {
				filled++
			}
		}

		if err := recordStore.CursorSet(ctx, cursorTask, lastID); err != nil {
			logging.Fatal("Cursor write failed", zap.Error(err))
		}
	}

	logging.Info("Bild-Backfill abgeschlossen",
		zap.Int("scanned", processed),
		zap.Int("backfilled", filled))
}

// backfillRecord holt Bilder für einen Fall nach, dessen ExtractedInfo noch
// keine hat. Fehler sind pro Fall; der Scan läuft weiter.
func backfillRecord(ctx context.Context, db *gorm.DB, media *services.MediaPipeline, logging *zap.Logger, rec *models.CaseRecord) bool {
	log := logging.With(zap.String("case_id", rec.CaseID))

	var info models.ExtractedInfo
	if err := db.WithContext(ctx).Where("case_id = ?", rec.CaseID).First(&info).Error; err != nil {
		log.Warn("Keine ExtractedInfo zum Fall, überspringe", zap.Error(err))
		return false
	}
	if len(info.Images) > 0 && string(info.Images) != "null" && string(info.Images) != "[]" {
		return false
	}

	urls := services.QualifyingImageURLs(rec.RawContent, rec.SourceURL)
	if len(urls) == 0 {
		return false
	}

	dest := services.Destination{CaseID: rec.CaseID, State: rec.State, County: rec.County}
	remote, err := media.Run(ctx, urls, dest)
	if err != nil {
		log.Warn("Media-Pipeline abgebrochen", zap.Error(err))
		return false
	}
	if len(remote) == 0 {
		return false
	}

	imagesJSON, _ := json.Marshal(remote)
	updates := map[string]interface{}{
		"images":     datatypes.JSON(imagesJSON),
		"main_image": remote[0],
	}
	if err := db.WithContext(ctx).Model(&models.ExtractedInfo{}).
		Where("case_id = ?", rec.CaseID).
		Updates(updates).Error; err != nil {
		log.Error("Konnte Bilder nicht nachtragen", zap.Error(err))
		return false
	}

	log.Info("Bilder nachgetragen", zap.Int("count", len(remote)))
	return true
}
