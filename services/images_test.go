package services

import (
	"reflect"
	"testing"
)

// Präzisionstest: img src, data-src und CSS-Background qualifizieren, das
// Favicon nicht.
func TestQualifyingImageURLsPrecision(t *testing.T) {
	markup := `<html><head>
<link rel="icon" href="https://example.org/favicon.ico">
</head><body>
<img src="/photos/jane1.jpg">
<div data-src="//cdn.example.org/photos/jane2.jpg"></div>
<div style="background-image: url('images/jane3.png')"></div>
</body></html>`

	got := QualifyingImageURLs(markup, "https://example.org/cases/jane-doe-1")

	want := []string{
		"https://example.org/photos/jane1.jpg",
		"https://cdn.example.org/photos/jane2.jpg",
		"https://example.org/cases/images/jane3.png",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("QualifyingImageURLs = %v, want %v", got, want)
	}
}

func TestExtractCandidateURLsSourcesAndDedup(t *testing.T) {
	markup := `<body>
<img src="https://example.org/a.jpg">
<img data-src="https://example.org/a.jpg">
<picture><source srcset="https://example.org/b.jpg 1x, https://example.org/c.jpg 2x"></picture>
<a href="https://example.org/d.jpeg">full size</a>
see also https://example.org/e.png in the text
</body>`

	got := ExtractCandidateURLs(markup, "https://example.org/")

	want := []string{
		"https://example.org/a.jpg",
		"https://example.org/b.jpg",
		"https://example.org/c.jpg",
		"https://example.org/d.jpeg",
		"https://example.org/e.png",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractCandidateURLs = %v, want %v", got, want)
	}
}

func TestNormalizeRelativeForms(t *testing.T) {
	markup := `<img src="//host.example/x.jpg"><img src="/root.jpg"><img src="rel/doc.jpg">`
	got := ExtractCandidateURLs(markup, "https://example.org/cases/page.html")

	want := []string{
		"https://host.example/x.jpg",
		"https://example.org/root.jpg",
		"https://example.org/cases/rel/doc.jpg",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractCandidateURLs = %v, want %v", got, want)
	}
}

func TestIsQualifyingImageRejectList(t *testing.T) {
	rejected := []string{
		"https://example.org/favicon.ico",
		"https://example.org/assets/site-logo.png",
		"https://example.org/img/spinner.gif",
		"https://example.org/loading.gif",
		"https://example.org/track/pixel.png",
		"https://example.org/placeholder.jpg",
		"https://example.org/blank.png",
		"https://example.org/default.jpg",
		"https://example.org/transparent.gif",
		"https://example.org/spacer-1x1.gif",
		"https://example.org/icons/arrow.png",
	}
	for _, u := range rejected {
		if IsQualifyingImage(u) {
			t.Errorf("IsQualifyingImage(%q) = true, want false", u)
		}
	}

	accepted := []string{
		"https://example.org/photos/jane-doe.jpg",
		"https://cdn.example.org/uploads/2019/case-photo.png",
	}
	for _, u := range accepted {
		if !IsQualifyingImage(u) {
			t.Errorf("IsQualifyingImage(%q) = false, want true", u)
		}
	}
}
