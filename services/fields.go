package services

import (
	"regexp"
	"strings"
)

// FieldRule ist eine deklarative Extraktionsregel: Feldname plus Muster mit
// genau einer Capture-Group. Die Regeln ersetzen die früher pro Skript
// duplizierten Einzel-Regexes und sind je Regel testbar.
type FieldRule struct {
	Field   string
	Pattern *regexp.Regexp
}

var fieldRules = []FieldRule{
	{"missing_city", regexp.MustCompile(`(?i)missing\s+from:?\s*([^,<\n]+),`)},
	{"missing_state", regexp.MustCompile(`(?i)missing\s+from:?\s*[^,<\n]+,\s*([A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+){0,2})`)},
	{"missing_date", regexp.MustCompile(`(?i)missing\s+since:?\s*([0-9][0-9/\-]+[0-9])`)},
	{"classification", regexp.MustCompile(`(?i)classification:?\s*([^<\n]+)`)},
	{"sex", regexp.MustCompile(`(?i)\bsex:?\s*(male|female)`)},
	{"race", regexp.MustCompile(`(?i)\brace:?\s*([^<\n,.]+)`)},
	{"height", regexp.MustCompile(`(?i)\bheight:?\s*([0-9]['′][0-9]{0,2}["″]?|[0-9]{2,3}\s*cm)`)},
	{"weight", regexp.MustCompile(`(?i)\bweight:?\s*([0-9]{2,3}\s*(?:lbs|pounds|kg))`)},
	{"hair", regexp.MustCompile(`(?i)\bhair:?\s*([^<\n,.]+)`)},
	{"eyes", regexp.MustCompile(`(?i)\beyes?:?\s*([^<\n,.]+)`)},
}

// ExtractFieldsFromContent wendet alle Regeln auf den rohen Seiteninhalt an.
// Ergebnis sind ausschließlich String-Werte; Datumsnormalisierung macht der
// Aufrufer. Nicht gefundene Felder fehlen in der Map.
func ExtractFieldsFromContent(content string) Fields {
	fields := Fields{}
	for _, rule := range fieldRules {
		m := rule.Pattern.FindStringSubmatch(content)
		if len(m) < 2 {
			continue
		}
		value := strings.TrimSpace(m[1])
		if value != "" {
			fields[rule.Field] = value
		}
	}
	return fields
}

// MergeMissingFields füllt leere Felder in dst aus src nach, überschreibt aber
// nie vorhandene Werte aus der generativen Extraktion.
func MergeMissingFields(dst, src Fields) Fields {
	if dst == nil {
		dst = Fields{}
	}
	for k, v := range src {
		if dst.Str(k) == "" {
			dst[k] = v
		}
	}
	return dst
}
