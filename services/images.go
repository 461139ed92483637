package services

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	cssURLRegex  = regexp.MustCompile(`(?i)background(?:-image)?\s*:\s*url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)
	bareURLRegex = regexp.MustCompile(`(?i)https?://[^\s"'<>()]+\.(?:jpe?g|png|gif|webp)`)
)

// imageExtensions für Anchor-Hrefs und den Catch-All-Scan.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// rejectFragments: alles, was einen dieser Teilstrings enthält, ist kein
// Inhaltsbild. Die Präzision kommt aus der Reject-Liste, nicht aus einer
// Allow-Liste.
var rejectFragments = []string{
	"favicon", "logo", "icon", "spinner", "loading",
	"pixel", "placeholder", "blank", "default", "transparent", "1x1",
}

// ExtractCandidateURLs sammelt Bild-Kandidaten aus dem Markup, in fester
// Reihenfolge der Quellen, aufgelöst gegen die Seiten-URL und dedupliziert.
func ExtractCandidateURLs(markup, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	var raw []string
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err == nil {
		// (a) img src
		doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
			if v, ok := sel.Attr("src"); ok {
				raw = append(raw, v)
			}
		})
		// (b) Lazy-Load-Attribute
		doc.Find("[data-src], [data-original], [data-lazy]").Each(func(_ int, sel *goquery.Selection) {
			for _, attr := range []string{"data-src", "data-original", "data-lazy"} {
				if v, ok := sel.Attr(attr); ok {
					raw = append(raw, v)
				}
			}
		})
	}

	// (c) CSS background-image
	for _, m := range cssURLRegex.FindAllStringSubmatch(markup, -1) {
		raw = append(raw, m[1])
	}

	if doc != nil {
		// (d) source srcset: kommagetrennte "url deskriptor"-Paare
		doc.Find("source").Each(func(_ int, sel *goquery.Selection) {
			if v, ok := sel.Attr("srcset"); ok {
				for _, entry := range strings.Split(v, ",") {
					parts := strings.Fields(strings.TrimSpace(entry))
					if len(parts) > 0 {
						raw = append(raw, parts[0])
					}
				}
			}
		})
		// (e) Anchor-Hrefs mit Bild-Endung
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			if v, ok := sel.Attr("href"); ok && hasImageExtension(v) {
				raw = append(raw, v)
			}
		})
	}

	// (f) Catch-All: nackte Bild-URLs irgendwo im Markup
	raw = append(raw, bareURLRegex.FindAllString(markup, -1)...)

	seen := make(map[string]struct{})
	var out []string
	for _, candidate := range raw {
		normalized := normalizeImageURL(candidate, base)
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

// normalizeImageURL löst schema-relative, wurzel-relative und dokument-
// relative Formen gegen die Seiten-URL auf.
func normalizeImageURL(raw string, base *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(strings.ToLower(raw), "data:") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// IsQualifyingImage entscheidet, ob eine URL ein Inhaltsbild sein kann.
// Reject-Liste zuerst; alles nicht Abgelehnte qualifiziert sich.
func IsQualifyingImage(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, fragment := range rejectFragments {
		if strings.Contains(lower, fragment) {
			return false
		}
	}
	return true
}

// QualifyingImageURLs kombiniert Extraktion und Filter.
func QualifyingImageURLs(markup, pageURL string) []string {
	var out []string
	for _, candidate := range ExtractCandidateURLs(markup, pageURL) {
		if IsQualifyingImage(candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

func hasImageExtension(href string) bool {
	lower := strings.ToLower(href)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
