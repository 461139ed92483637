package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"

	"casefile/config"
)

func mediaTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		JPEGQuality:      85,
		DownloadRetries:  0,
		AssetDelayMinMs:  0,
		AssetDelayMaxMs:  0,
		MediaTempDir:     t.TempDir(),
		MaxImagesPerCase: 8,
	}
}

type fakeObjectStore struct {
	keys []string
}

func (f *fakeObjectStore) Upload(_ context.Context, key string, _ []byte, _ string, _ map[string]string) (string, error) {
	f.keys = append(f.keys, key)
	return "https://cdn.test/" + key, nil
}

// guardTransport schlägt den Test fehl, sobald irgendein Request rausgeht.
type guardTransport struct {
	t *testing.T
}

func (g guardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	g.t.Errorf("unexpected network call to %s", req.URL)
	return nil, errors.New("network disabled")
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestConvertFailsBeforeNetworkOnMissingMetadata(t *testing.T) {
	m := NewMediaPipeline(mediaTestConfig(t), zap.NewNop(), &fakeObjectStore{})
	m.Client = &http.Client{Transport: guardTransport{t}}

	dest := Destination{CaseID: "jane-doe-1", State: "illinois", County: ""}
	_, err := m.Convert(context.Background(), "https://example.org/photo.jpg", dest)
	if !errors.Is(err, ErrStructuralMetadata) {
		t.Fatalf("Convert = %v, want ErrStructuralMetadata", err)
	}
}

func TestRunAbortsAllAssetsOnStructuralError(t *testing.T) {
	m := NewMediaPipeline(mediaTestConfig(t), zap.NewNop(), &fakeObjectStore{})
	m.Client = &http.Client{Transport: guardTransport{t}}

	dest := Destination{CaseID: "jane-doe-1", State: "", County: ""}
	remote, err := m.Run(context.Background(), []string{
		"https://example.org/a.jpg",
		"https://example.org/b.jpg",
	}, dest)
	if !errors.Is(err, ErrStructuralMetadata) {
		t.Fatalf("Run = %v, want ErrStructuralMetadata", err)
	}
	if len(remote) != 0 {
		t.Errorf("remote = %v, want none", remote)
	}
}

func TestConvertUploadCleanupRoundTrip(t *testing.T) {
	pngData := testPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(pngData)
	}))
	defer srv.Close()

	objects := &fakeObjectStore{}
	m := NewMediaPipeline(mediaTestConfig(t), zap.NewNop(), objects)

	dest := Destination{CaseID: "jane-doe-1", State: "Illinois", County: "Sangamon"}
	localPath, err := m.Convert(context.Background(), srv.URL+"/photo.png", dest)
	if err != nil {
		t.Fatalf("Convert = %v", err)
	}
	if _, err := os.Stat(localPath); err != nil {
		t.Fatalf("converted file missing: %v", err)
	}

	remoteURL, err := m.Upload(context.Background(), localPath, dest, "photo")
	if err != nil {
		t.Fatalf("Upload = %v", err)
	}
	if !strings.HasPrefix(remoteURL, "https://cdn.test/cases/illinois/sangamon/jane-doe-1/photo-") {
		t.Errorf("remote URL = %q, unexpected key derivation", remoteURL)
	}
	if !strings.HasSuffix(remoteURL, ".jpg") {
		t.Errorf("remote URL = %q, want .jpg suffix", remoteURL)
	}

	m.Cleanup(localPath)
	if _, err := os.Stat(localPath); !os.IsNotExist(err) {
		t.Errorf("cleanup left file behind: %v", err)
	}
}

func TestRunSkipsFailedAssetAndContinues(t *testing.T) {
	pngData := testPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			http.NotFound(w, r)
			return
		}
		w.Write(pngData)
	}))
	defer srv.Close()

	objects := &fakeObjectStore{}
	m := NewMediaPipeline(mediaTestConfig(t), zap.NewNop(), objects)

	dest := Destination{CaseID: "jane-doe-1", State: "Illinois", County: "Sangamon"}
	remote, err := m.Run(context.Background(), []string{
		srv.URL + "/bad.jpg",
		srv.URL + "/good.jpg",
	}, dest)
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if len(remote) != 1 {
		t.Fatalf("remote = %v, want exactly one upload", remote)
	}
	if len(objects.keys) != 1 {
		t.Errorf("object store keys = %v", objects.keys)
	}
}

func TestRunCapsImagesPerCase(t *testing.T) {
	pngData := testPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(pngData)
	}))
	defer srv.Close()

	cfg := mediaTestConfig(t)
	cfg.MaxImagesPerCase = 2
	m := NewMediaPipeline(cfg, zap.NewNop(), &fakeObjectStore{})

	var urls []string
	for i := 0; i < 5; i++ {
		urls = append(urls, fmt.Sprintf("%s/photo-%d.jpg", srv.URL, i))
	}
	dest := Destination{CaseID: "jane-doe-1", State: "Illinois", County: "Sangamon"}
	remote, err := m.Run(context.Background(), urls, dest)
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if len(remote) != 2 {
		t.Errorf("remote = %v, want cap of 2", remote)
	}
}
