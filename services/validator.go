package services

import (
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Fehlerklassen der Validierung. Identität und Echo sind harte Abbrüche ohne
// Persistenz; Unvollständigkeit führt nur zum Release für einen neuen Versuch.
var (
	ErrIdentityMismatch = errors.New("declared case id does not match record")
	ErrExampleEcho      = errors.New("payload echoes the prompt example")
	ErrIncomplete       = errors.New("required field missing")
)

// echoDenylist sind die Feldwerte aus dem One-Shot-Beispiel im System-Prompt.
// Tauchen zwei oder mehr davon gleichzeitig auf, hat das Modell sein eigenes
// Beispiel wiedergekäut statt die Seite zu analysieren.
var echoDenylist = map[string]string{
	"case_id":      "robert-allen-camden-1998",
	"full_name":    "robert allen camden",
	"missing_city": "crescent falls",
	"missing_date": "1998-04-12",
}

// echoThreshold: ein einzelner Treffer kann echter Zufall sein, zwei nicht.
const echoThreshold = 2

// Validator prüft geparste Extraktionsergebnisse gegen den Fall.
type Validator struct {
	Logger *zap.Logger
}

// NewValidator erstellt einen Validator.
func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{Logger: logger}
}

// Validate prüft Identität, Beispiel-Echo und Vollständigkeit, in dieser
// Reihenfolge. Gibt nil zurück, wenn das Ergebnis committet werden darf.
func (v *Validator) Validate(caseID string, fields Fields) error {
	if declared := fields.Str("case_id"); declared != "" && declared != caseID {
		v.Logger.Warn("Identitätsprüfung fehlgeschlagen",
			zap.String("expected", caseID),
			zap.String("declared", declared))
		return ErrIdentityMismatch
	}

	hits := 0
	for field, example := range echoDenylist {
		if strings.EqualFold(strings.TrimSpace(fields.Str(field)), example) {
			hits++
		}
	}
	if hits >= echoThreshold {
		v.Logger.Warn("Beispiel-Echo erkannt, Ergebnis verworfen",
			zap.String("case_id", caseID),
			zap.Int("denylist_hits", hits))
		return ErrExampleEcho
	}

	if fields.Str("missing_state") == "" {
		return ErrIncomplete
	}
	return nil
}
