package models

import "time"

// ProgressCursor merkt sich pro Task die zuletzt verarbeitete Zeilen-ID,
// damit Volltabellen-Scans nach einem Neustart fortsetzbar sind.
type ProgressCursor struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UpdatedAt time.Time `json:"updated_at"`

	TaskName string `json:"task_name" gorm:"uniqueIndex;not null"`
	LastID   uint   `json:"last_id"`
}
