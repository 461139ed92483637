package services

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnparseable kennzeichnet eine Antwort, aus der sich gar nichts lesen
// ließ. Bewusst unterscheidbar von einem leeren, aber gültigen Ergebnis.
var ErrUnparseable = errors.New("response unparseable")

// Fields ist die typisierte Feld-Zuordnung aus einer Modellantwort.
type Fields map[string]any

// Str liest ein Feld als String; nil und fehlende Felder ergeben "".
func (f Fields) Str(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

// Int liest ein Feld als Integer-Pointer; nil wenn nicht lesbar.
func (f Fields) Int(key string) *int {
	v, ok := f[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case float64:
		i := int(t)
		return &i
	case int:
		return &t
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return &i
		}
	}
	return nil
}

// ResponseParser macht aus der rohen Modellantwort eine Feld-Zuordnung.
// Wirft nie; totales Scheitern wird als ErrUnparseable zurückgegeben.
type ResponseParser struct {
	Logger *zap.Logger
}

// NewResponseParser erstellt einen ResponseParser.
func NewResponseParser(logger *zap.Logger) *ResponseParser {
	return &ResponseParser{Logger: logger}
}

// Parse versucht die Strategien der Reihe nach; der erste Treffer gewinnt.
func (p *ResponseParser) Parse(raw string) (Fields, error) {
	cleaned := stripNoise(raw)

	// 1. Strikter JSON-Parse nach dem Entfernen von Fences und Steuerzeichen.
	if fields, ok := tryJSON(cleaned); ok {
		return fields, nil
	}

	// 2. Substring zwischen erster öffnender und letzter schließender Klammer.
	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			if fields, ok := tryJSON(cleaned[start : end+1]); ok {
				return fields, nil
			}
		}
	}

	// 3. Zeilenagnostische Ersatzgrammatik: key:value-Tokens, getrennt durch "|".
	if fields, ok := parseDelimited(cleaned); ok {
		return fields, nil
	}

	p.Logger.Warn("Antwort mit keiner Strategie lesbar", zap.Int("raw_len", len(raw)))
	return nil, ErrUnparseable
}

// stripNoise entfernt Markdown-Fences sowie Zero-Width- und Steuerzeichen.
func stripNoise(raw string) string {
	s := strings.TrimSpace(raw)
	for _, fence := range []string{"```json", "```JSON", "```"} {
		s = strings.ReplaceAll(s, fence, "")
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff':
			continue
		}
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func tryJSON(s string) (Fields, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return Fields(m), true
}

// parseDelimited zerlegt "key: value | key: value"-Antworten. Werte: "null"
// wird zu nil, reine Ziffernfolgen zu Integern, [..] rekursiv zu Arrays,
// alles andere bleibt String.
func parseDelimited(s string) (Fields, bool) {
	fields := Fields{}
	for _, token := range strings.Split(s, "|") {
		key, value, ok := strings.Cut(token, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" || strings.ContainsAny(key, " \n") {
			continue
		}
		fields[key] = parseScalar(strings.TrimSpace(value))
	}
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

func parseScalar(value string) any {
	if value == "null" || value == "" {
		return nil
	}
	if isDigits(value) {
		n, _ := strconv.Atoi(value)
		return n
	}
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		inner := strings.TrimSpace(value[1 : len(value)-1])
		if inner == "" {
			return []any{}
		}
		parts := strings.Split(inner, ",")
		arr := make([]any, 0, len(parts))
		for _, p := range parts {
			arr = append(arr, parseScalar(strings.TrimSpace(p)))
		}
		return arr
	}
	return value
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// dateLayouts sind die akzeptierten Eingabeformate, in Prüf-Reihenfolge.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
	"2006/01/02",
}

// NormalizeDate normalisiert ein Datum auf YYYY-MM-DD. Unlesbare Werte
// ergeben einen leeren String, nie einen Fehler.
func NormalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
