package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"casefile/config"
	"casefile/storage"
)

// ErrStructuralMetadata: Pflicht-Pfadkontext fehlt. Lokale Vorbedingung, wird
// vor jeglichem Netzwerk-I/O geprüft und bricht alle restlichen Assets des
// Falls ab.
var ErrStructuralMetadata = errors.New("missing structural path metadata")

// Destination ist der Zielkontext eines Falls für abgeleitete Objekt-Keys.
type Destination struct {
	CaseID string
	State  string
	County string
}

func (d Destination) validate() error {
	if d.CaseID == "" || d.State == "" || d.County == "" {
		return fmt.Errorf("%w: case_id=%q state=%q county=%q",
			ErrStructuralMetadata, d.CaseID, d.State, d.County)
	}
	return nil
}

// MediaPipeline lädt Inhaltsbilder herunter, kodiert sie um und lädt sie in
// den Objektspeicher. Assets werden strikt sequenziell mit zufälliger Pause
// verarbeitet, als Rate-Limiter gegenüber dem Medien-Host.
type MediaPipeline struct {
	Config *config.Config
	Logger *zap.Logger
	Client *http.Client
	Store  storage.ObjectStore
}

// NewMediaPipeline erstellt eine MediaPipeline.
func NewMediaPipeline(cfg *config.Config, logger *zap.Logger, store storage.ObjectStore) *MediaPipeline {
	return &MediaPipeline{
		Config: cfg,
		Logger: logger,
		Client: &http.Client{Timeout: 60 * time.Second},
		Store:  store,
	}
}

// Run verarbeitet die qualifizierten Bild-URLs eines Falls der Reihe nach.
// Einzelfehler werden geloggt und übersprungen; fehlende Strukturdaten
// brechen sofort ab. Zurück kommen die hochgeladenen Remote-URLs.
func (m *MediaPipeline) Run(ctx context.Context, urls []string, dest Destination) ([]string, error) {
	var remote []string
	for i, imageURL := range urls {
		if m.Config.MaxImagesPerCase > 0 && len(remote) >= m.Config.MaxImagesPerCase {
			break
		}
		if i > 0 {
			m.assetDelay(ctx)
		}

		log := m.Logger.With(zap.String("case_id", dest.CaseID), zap.String("url", imageURL))

		localPath, err := m.Convert(ctx, imageURL, dest)
		if err != nil {
			if errors.Is(err, ErrStructuralMetadata) {
				return remote, err
			}
			log.Warn("Bild-Konvertierung fehlgeschlagen, nächstes Asset", zap.Error(err))
			continue
		}

		remoteURL, err := m.Upload(ctx, localPath, dest, "photo")
		m.Cleanup(localPath)
		if err != nil {
			if errors.Is(err, ErrStructuralMetadata) {
				return remote, err
			}
			log.Warn("Bild-Upload fehlgeschlagen, nächstes Asset", zap.Error(err))
			continue
		}

		log.Info("Bild hochgeladen", zap.String("remote_url", remoteURL))
		remote = append(remote, remoteURL)
	}
	return remote, nil
}

// Convert lädt ein Bild herunter und kodiert es als JPEG in fester Qualität
// nach MediaTempDir. Die Strukturdaten-Prüfung passiert VOR dem ersten
// Netzwerkzugriff.
func (m *MediaPipeline) Convert(ctx context.Context, imageURL string, dest Destination) (string, error) {
	if err := dest.validate(); err != nil {
		return "", err
	}

	data, err := m.download(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", imageURL, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", imageURL, err)
	}

	if err := os.MkdirAll(m.Config.MediaTempDir, 0o755); err != nil {
		return "", fmt.Errorf("temp dir: %w", err)
	}
	f, err := os.CreateTemp(m.Config.MediaTempDir, dest.CaseID+"-*.jpg")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: m.Config.JPEGQuality}); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("encode %s: %w", imageURL, err)
	}
	return f.Name(), nil
}

// download holt eine Ressource mit begrenzten Retries und wachsender Pause.
func (m *MediaPipeline) download(ctx context.Context, imageURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= m.Config.DownloadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := m.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("bad status: %s", resp.Status)
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	return nil, lastErr
}

// Upload lädt die lokale Datei unter einem abgeleiteten Key hoch.
func (m *MediaPipeline) Upload(ctx context.Context, localPath string, dest Destination, assetType string) (string, error) {
	if err := dest.validate(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", localPath, err)
	}
	key := storage.DeriveKey(dest.State, dest.County, dest.CaseID, assetType, ".jpg")
	return m.Store.Upload(ctx, key, data, "image/jpeg", map[string]string{
		"case-id":    dest.CaseID,
		"asset-type": assetType,
	})
}

// Cleanup löscht die lokale Zwischendatei. Scheitern wird nur geloggt.
func (m *MediaPipeline) Cleanup(localPath string) {
	if localPath == "" {
		return
	}
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		m.Logger.Warn("Konnte Zwischendatei nicht löschen",
			zap.String("path", localPath), zap.Error(err))
	}
}

// assetDelay wartet eine zufällige Spanne innerhalb des konfigurierten
// Fensters zwischen zwei Assets.
func (m *MediaPipeline) assetDelay(ctx context.Context) {
	minMs, maxMs := m.Config.AssetDelayMinMs, m.Config.AssetDelayMaxMs
	if maxMs <= minMs {
		return
	}
	delay := time.Duration(minMs+rand.Intn(maxMs-minMs)) * time.Millisecond
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
