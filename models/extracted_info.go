package models

import (
	"time"

	"gorm.io/datatypes"
)

// ExtractedInfo speichert das validierte Extraktionsergebnis für einen Fall.
// Upsert über case_id, damit wiederholte Commits idempotent bleiben.
type ExtractedInfo struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CaseID string `json:"case_id" gorm:"column:case_id;uniqueIndex;not null"`

	FullName       string `json:"full_name,omitempty"`
	Classification string `json:"classification,omitempty" gorm:"index"`
	Sex            string `json:"sex,omitempty"`
	Race           string `json:"race,omitempty"`

	// Datumsfelder normalisiert auf YYYY-MM-DD; leer wenn unbekannt.
	MissingDate string `json:"missing_date,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`

	AgeAtMissing *int `json:"age_at_missing,omitempty"`

	MissingCity   string `json:"missing_city,omitempty" gorm:"index"`
	MissingCounty string `json:"missing_county,omitempty" gorm:"index"`
	MissingState  string `json:"missing_state,omitempty" gorm:"index"`

	Height string `json:"height,omitempty"`
	Weight string `json:"weight,omitempty"`
	Hair   string `json:"hair,omitempty"`
	Eyes   string `json:"eyes,omitempty"`

	Circumstances string `json:"circumstances,omitempty" gorm:"type:text"`

	// Geordnete Liste der hochgeladenen Bild-URLs als JSON-Array.
	Images    datatypes.JSON `json:"images,omitempty" gorm:"type:jsonb"`
	MainImage string         `json:"main_image,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (ExtractedInfo) TableName() string {
	return "extracted_infos"
}
