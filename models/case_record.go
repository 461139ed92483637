package models

import (
	"time"
)

// Status-Codes wie vom Ingestions-Prozess vorgegeben. Failed bzw. "nicht
// anwendbar" wird als NULL gespeichert, daher ist Status ein Pointer.
const (
	StatusPending = 0
	StatusDone    = 1
	StatusClaimed = 22
)

// CaseRecord repräsentiert einen rohen Vermisstenfall aus der Ingestion.
// Der fachliche Schlüssel ist CaseID, nicht die numerische Zeilen-ID.
type CaseRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CaseID     string `json:"case_id" gorm:"column:case_id;uniqueIndex;not null"`
	Title      string `json:"title"`
	SourceURL  string `json:"source_url"`
	RawContent string `json:"raw_content,omitempty" gorm:"type:text"`

	// Vom Ingestions-Prozess befüllte Strukturdaten, die downstream für
	// Speicherpfade gebraucht werden.
	State  string `json:"state" gorm:"index"`
	County string `json:"county" gorm:"index"`

	FetchedOK bool `json:"fetched_ok"`
	NoImages  bool `json:"no_images"`

	Status *int `json:"status" gorm:"index"`
}

// StatusPtr gibt einen Pointer auf einen Status-Code zurück.
func StatusPtr(s int) *int {
	return &s
}
