package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"casefile/models"
)

// ErrNoPendingRecords signalisiert eine leere Queue, kein technisches Problem.
var ErrNoPendingRecords = errors.New("no pending records")

// RecordStore ist der einzige Zugriffspfad auf die geteilten Tabellen.
// Validator, MediaPipeline und Extractor fassen die DB nie direkt an.
type RecordStore struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Related enthält die Nachbarfelder eines Falls, die downstream für
// Speicherpfade gebraucht werden.
type Related struct {
	State  string
	County string
}

// New erstellt einen RecordStore.
func New(db *gorm.DB, logger *zap.Logger) *RecordStore {
	return &RecordStore{DB: db, Logger: logger}
}

// FetchNextUnclaimed liefert den ersten unbeanspruchten Fall in aufsteigender
// ID-Reihenfolge. Voraussetzung: Inhalt vorhanden und Upstream-Fetch erfolgreich.
func (s *RecordStore) FetchNextUnclaimed(ctx context.Context) (*models.CaseRecord, error) {
	var rec models.CaseRecord
	err := s.DB.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Where("fetched_ok = ?", true).
		Where("raw_content <> ''").
		Order("id asc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoPendingRecords
	}
	if err != nil {
		return nil, fmt.Errorf("fetch next unclaimed: %w", err)
	}
	return &rec, nil
}

// FetchBatch liefert bis zu n unbeanspruchte Fälle in aufsteigender ID-Reihenfolge.
func (s *RecordStore) FetchBatch(ctx context.Context, n int) ([]models.CaseRecord, error) {
	var recs []models.CaseRecord
	err := s.DB.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Where("fetched_ok = ?", true).
		Where("raw_content <> ''").
		Order("id asc").
		Limit(n).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	return recs, nil
}

// Claim markiert einen Fall als in Bearbeitung. Bewusst nicht transaktional
// mit dem vorherigen Read; das System läuft mit genau einem Worker.
func (s *RecordStore) Claim(ctx context.Context, rec *models.CaseRecord) error {
	if err := s.DB.WithContext(ctx).
		Model(&models.CaseRecord{}).
		Where("id = ?", rec.ID).
		Update("status", models.StatusClaimed).Error; err != nil {
		return fmt.Errorf("claim record %s: %w", rec.CaseID, err)
	}
	rec.Status = models.StatusPtr(models.StatusClaimed)
	return nil
}

// commitColumns sind die Felder, die bei einem Konflikt aktualisiert werden.
var commitColumns = []string{
	"full_name", "classification", "sex", "race",
	"missing_date", "date_of_birth", "age_at_missing",
	"missing_city", "missing_county", "missing_state",
	"height", "weight", "hair", "eyes", "circumstances",
	"images", "main_image", "updated_at",
}

// Commit upsertet das Extraktionsergebnis und setzt den Fall danach auf Done.
// Idempotent: ein zweiter Commit mit gleicher Payload erzeugt keine zweite Zeile.
func (s *RecordStore) Commit(ctx context.Context, caseID string, info *models.ExtractedInfo) error {
	info.CaseID = caseID
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "case_id"}},
			DoUpdates: clause.AssignmentColumns(commitColumns),
		}).Create(info).Error; err != nil {
			return fmt.Errorf("upsert extracted info for %s: %w", caseID, err)
		}
		if err := tx.Model(&models.CaseRecord{}).
			Where("case_id = ?", caseID).
			Update("status", models.StatusDone).Error; err != nil {
			return fmt.Errorf("mark record %s done: %w", caseID, err)
		}
		return nil
	})
}

// Release setzt einen Fall zurück auf Pending, damit ein späterer Zyklus ihn
// erneut versucht. Jeder Fehlerpfad im Orchestrator muss hier ankommen.
func (s *RecordStore) Release(ctx context.Context, rec *models.CaseRecord) error {
	if err := s.DB.WithContext(ctx).
		Model(&models.CaseRecord{}).
		Where("id = ?", rec.ID).
		Update("status", models.StatusPending).Error; err != nil {
		return fmt.Errorf("release record %s: %w", rec.CaseID, err)
	}
	rec.Status = models.StatusPtr(models.StatusPending)
	return nil
}

// Fail setzt den Status auf NULL: terminal, wird nie wieder aufgegriffen.
// noImages kennzeichnet den "nicht anwendbar"-Ausgang der Bild-Schranke.
func (s *RecordStore) Fail(ctx context.Context, rec *models.CaseRecord, noImages bool) error {
	updates := map[string]interface{}{"status": nil}
	if noImages {
		updates["no_images"] = true
	}
	if err := s.DB.WithContext(ctx).
		Model(&models.CaseRecord{}).
		Where("id = ?", rec.ID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("fail record %s: %w", rec.CaseID, err)
	}
	rec.Status = nil
	return nil
}

// GetRelated holt die geographischen Nachbarfelder eines Falls über die CaseID.
func (s *RecordStore) GetRelated(ctx context.Context, caseID string) (*Related, error) {
	var rec models.CaseRecord
	err := s.DB.WithContext(ctx).
		Select("state", "county").
		Where("case_id = ?", caseID).
		First(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("related fields for %s: %w", caseID, err)
	}
	return &Related{State: rec.State, County: rec.County}, nil
}

// ResetStuck setzt alle Claimed-Fälle zurück auf Pending. Manueller
// Wiederanlauf nach einem Absturz mitten in der Pipeline.
func (s *RecordStore) ResetStuck(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).
		Model(&models.CaseRecord{}).
		Where("status = ?", models.StatusClaimed).
		Update("status", models.StatusPending)
	if res.Error != nil {
		return 0, fmt.Errorf("reset stuck records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
