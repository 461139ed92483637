package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"casefile/models"
)

// CursorGet liefert die zuletzt gespeicherte Zeilen-ID für einen Task,
// 0 wenn der Task noch nie gelaufen ist.
func (s *RecordStore) CursorGet(ctx context.Context, taskName string) (uint, error) {
	var cur models.ProgressCursor
	err := s.DB.WithContext(ctx).
		Where("task_name = ?", taskName).
		First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cursor get %s: %w", taskName, err)
	}
	return cur.LastID, nil
}

// CursorSet schreibt den Fortschritt eines Tasks (Upsert über task_name).
func (s *RecordStore) CursorSet(ctx context.Context, taskName string, lastID uint) error {
	cur := models.ProgressCursor{TaskName: taskName, LastID: lastID}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_id", "updated_at"}),
	}).Create(&cur).Error; err != nil {
		return fmt.Errorf("cursor set %s: %w", taskName, err)
	}
	return nil
}
