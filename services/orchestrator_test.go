package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"casefile/config"
	"casefile/models"
	"casefile/store"
)

func workerTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		MinWaitSeconds:   0,
		MaxWaitSeconds:   0,
		ErrorWaitSeconds: 0,
		BatchSize:        1,
		JPEGQuality:      85,
		MediaTempDir:     t.TempDir(),
		MaxImagesPerCase: 8,
	}
}

func pendingRecord(id uint, caseID, content string) models.CaseRecord {
	return models.CaseRecord{
		ID:         id,
		CaseID:     caseID,
		SourceURL:  "https://example.org/cases/" + caseID,
		RawContent: content,
		State:      "Illinois",
		County:     "Sangamon",
		FetchedOK:  true,
		Status:     models.StatusPtr(models.StatusPending),
	}
}

// fakeStore bildet den RecordStore im Speicher nach. committed ist wie die
// echte Tabelle über case_id geschlüsselt, ein zweiter Commit ersetzt also
// die Zeile statt eine neue anzulegen.
type fakeStore struct {
	records      []models.CaseRecord
	committed    map[string]*models.ExtractedInfo
	commits      int
	releases     int
	fails        int
	failNoImages bool
}

func newFakeStore(recs ...models.CaseRecord) *fakeStore {
	return &fakeStore{records: recs, committed: map[string]*models.ExtractedInfo{}}
}

func (s *fakeStore) FetchNextUnclaimed(_ context.Context) (*models.CaseRecord, error) {
	for i := range s.records {
		r := s.records[i]
		if r.Status != nil && *r.Status == models.StatusPending && r.FetchedOK && r.RawContent != "" {
			return &r, nil
		}
	}
	return nil, store.ErrNoPendingRecords
}

func (s *fakeStore) FetchBatch(_ context.Context, n int) ([]models.CaseRecord, error) {
	var out []models.CaseRecord
	for i := range s.records {
		if len(out) >= n {
			break
		}
		r := s.records[i]
		if r.Status != nil && *r.Status == models.StatusPending && r.FetchedOK && r.RawContent != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) setStatus(id uint, status *int) {
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].Status = status
		}
	}
}

func (s *fakeStore) Claim(_ context.Context, rec *models.CaseRecord) error {
	s.setStatus(rec.ID, models.StatusPtr(models.StatusClaimed))
	rec.Status = models.StatusPtr(models.StatusClaimed)
	return nil
}

func (s *fakeStore) Commit(_ context.Context, caseID string, info *models.ExtractedInfo) error {
	s.commits++
	info.CaseID = caseID
	s.committed[caseID] = info
	for i := range s.records {
		if s.records[i].CaseID == caseID {
			s.records[i].Status = models.StatusPtr(models.StatusDone)
		}
	}
	return nil
}

func (s *fakeStore) Release(_ context.Context, rec *models.CaseRecord) error {
	s.releases++
	s.setStatus(rec.ID, models.StatusPtr(models.StatusPending))
	return nil
}

func (s *fakeStore) Fail(_ context.Context, rec *models.CaseRecord, noImages bool) error {
	s.fails++
	s.failNoImages = noImages
	s.setStatus(rec.ID, nil)
	return nil
}

func (s *fakeStore) GetRelated(_ context.Context, caseID string) (*store.Related, error) {
	for _, r := range s.records {
		if r.CaseID == caseID {
			return &store.Related{State: r.State, County: r.County}, nil
		}
	}
	return nil, fmt.Errorf("no record for %s", caseID)
}

func (s *fakeStore) statusOf(t *testing.T, id uint) *int {
	t.Helper()
	for _, r := range s.records {
		if r.ID == id {
			return r.Status
		}
	}
	t.Fatalf("record %d not in store", id)
	return nil
}

type fakeExtractor struct {
	resp  string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.resp, f.err
}

func (f *fakeExtractor) Name() string { return "fake" }

type fakeMedia struct {
	remote []string
	err    error
}

func (f *fakeMedia) Run(_ context.Context, _ []string, _ Destination) ([]string, error) {
	return f.remote, f.err
}

func TestRunLoopCommitsPendingQueue(t *testing.T) {
	content := `<p>Missing From: Springfield, Illinois</p><img src="https://example.org/photo.jpg">`
	st := newFakeStore(
		pendingRecord(1, "jane-doe-1", content),
		pendingRecord(2, "john-roe-2", content),
	)
	ex := &fakeExtractor{resp: `{"full_name":"Jane Doe","missing_state":"Illinois"}`}
	media := &fakeMedia{remote: []string{"https://cdn.test/cases/x/photo-1.jpg"}}

	o := NewOrchestrator(workerTestConfig(t), zap.NewNop(), st, ex, media)
	stats := o.RunLoop(context.Background())

	if stats.Committed != 2 || stats.Errors != 0 {
		t.Fatalf("stats = %+v, want 2 commits ohne Fehler", stats)
	}
	if stats.Images != 2 {
		t.Errorf("stats.Images = %d, want 2", stats.Images)
	}
	for _, id := range []uint{1, 2} {
		status := st.statusOf(t, id)
		if status == nil || *status != models.StatusDone {
			t.Errorf("record %d status = %v, want Done", id, status)
		}
	}
}

func TestRunLoopStopsAtCycleBudget(t *testing.T) {
	content := `<img src="https://example.org/photo.jpg">`
	st := newFakeStore(pendingRecord(1, "jane-doe-1", content))
	ex := &fakeExtractor{err: fmt.Errorf("model unavailable")}

	cfg := workerTestConfig(t)
	cfg.MaxCycles = 3
	o := NewOrchestrator(cfg, zap.NewNop(), st, ex, &fakeMedia{})
	stats := o.RunLoop(context.Background())

	if stats.Cycles != 3 {
		t.Fatalf("stats.Cycles = %d, want 3", stats.Cycles)
	}
	if stats.Errors != 3 || st.releases != 3 {
		t.Errorf("errors = %d, releases = %d, want je 3", stats.Errors, st.releases)
	}
	// Jeder Fehlerpfad endet im Release, der Fall bleibt also abholbar.
	status := st.statusOf(t, 1)
	if status == nil || *status != models.StatusPending {
		t.Errorf("record status = %v, want Pending", status)
	}
}

func TestProcessRecordNotApplicableWithoutImages(t *testing.T) {
	rec := pendingRecord(1, "jane-doe-1", "<p>Missing From: Springfield, Illinois</p>")
	st := newFakeStore(rec)
	ex := &fakeExtractor{resp: `{}`}

	o := NewOrchestrator(workerTestConfig(t), zap.NewNop(), st, ex, &fakeMedia{})
	outcome, images := o.ProcessRecord(context.Background(), &rec)

	if outcome != OutcomeNotApplicable || images != 0 {
		t.Fatalf("outcome = %v/%d, want NotApplicable", outcome, images)
	}
	if st.fails != 1 || !st.failNoImages {
		t.Errorf("fails = %d (noImages=%v), want terminale Markierung", st.fails, st.failNoImages)
	}
	if ex.calls != 0 {
		t.Errorf("extractor calls = %d, Schranke muss vor der Extraktion greifen", ex.calls)
	}
	if status := st.statusOf(t, 1); status != nil {
		t.Errorf("record status = %v, want NULL", *status)
	}
}

func TestProcessRecordIdentityMismatchReleases(t *testing.T) {
	rec := pendingRecord(1, "jane-doe-1", `<img src="https://example.org/photo.jpg">`)
	st := newFakeStore(rec)
	ex := &fakeExtractor{resp: `{"case_id":"someone-else-7","missing_state":"Illinois"}`}

	o := NewOrchestrator(workerTestConfig(t), zap.NewNop(), st, ex, &fakeMedia{})
	outcome, _ := o.ProcessRecord(context.Background(), &rec)

	if outcome != OutcomeError {
		t.Fatalf("outcome = %v, want OutcomeError", outcome)
	}
	if st.releases != 1 || st.commits != 0 {
		t.Errorf("releases = %d, commits = %d, want 1/0", st.releases, st.commits)
	}
}

func TestProcessRecordUnparseableReleases(t *testing.T) {
	rec := pendingRecord(1, "jane-doe-1", `<img src="https://example.org/photo.jpg">`)
	st := newFakeStore(rec)
	ex := &fakeExtractor{resp: "complete nonsense without structure"}

	o := NewOrchestrator(workerTestConfig(t), zap.NewNop(), st, ex, &fakeMedia{})
	outcome, _ := o.ProcessRecord(context.Background(), &rec)

	if outcome != OutcomeError || st.releases != 1 {
		t.Fatalf("outcome = %v, releases = %d, want Release", outcome, st.releases)
	}
}

func TestProcessRecordReleasesWhenNoAssetUploaded(t *testing.T) {
	rec := pendingRecord(1, "jane-doe-1", `<img src="https://example.org/photo.jpg">`)
	st := newFakeStore(rec)
	ex := &fakeExtractor{resp: `{"missing_state":"Illinois"}`}

	o := NewOrchestrator(workerTestConfig(t), zap.NewNop(), st, ex, &fakeMedia{remote: nil})
	outcome, _ := o.ProcessRecord(context.Background(), &rec)

	if outcome != OutcomeError || st.releases != 1 || st.commits != 0 {
		t.Fatalf("outcome = %v, releases = %d, commits = %d, want Release ohne Commit",
			outcome, st.releases, st.commits)
	}
}

func TestProcessRecordRecommitReplacesRow(t *testing.T) {
	rec := pendingRecord(1, "jane-doe-1", `<img src="https://example.org/photo.jpg">`)
	st := newFakeStore(rec)
	ex := &fakeExtractor{resp: `{"full_name":"Jane Doe","missing_state":"Illinois"}`}
	media := &fakeMedia{remote: []string{"https://cdn.test/photo-1.jpg"}}

	o := NewOrchestrator(workerTestConfig(t), zap.NewNop(), st, ex, media)

	if outcome, _ := o.ProcessRecord(context.Background(), &rec); outcome != OutcomeCommitted {
		t.Fatalf("first run outcome = %v", outcome)
	}
	// Absturz-Szenario: der Fall wurde manuell zurückgesetzt und erneut geholt.
	st.setStatus(1, models.StatusPtr(models.StatusPending))
	if outcome, _ := o.ProcessRecord(context.Background(), &rec); outcome != OutcomeCommitted {
		t.Fatalf("second run outcome = %v", outcome)
	}

	if st.commits != 2 {
		t.Errorf("commits = %d, want 2", st.commits)
	}
	if len(st.committed) != 1 {
		t.Errorf("committed rows = %d, want 1 (Upsert über case_id)", len(st.committed))
	}
}

// Voller Durchstich mit echter MediaPipeline: Fall jane-doe-1 mit zwei
// Inhaltsbildern endet als Done mit Stadt, Bundesstaat und zwei Remote-URLs.
func TestEndToEndCaseCycle(t *testing.T) {
	pngData := testPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(pngData)
	}))
	defer srv.Close()

	content := fmt.Sprintf(`<h1>Jane Doe</h1>
<p>Missing From: Springfield, Illinois</p>
<p>Missing Since: 04/12/1998</p>
<img src="%s/jane-front.jpg">
<img src="%s/jane-side.jpg">`, srv.URL, srv.URL)

	st := newFakeStore(pendingRecord(1, "jane-doe-1", content))
	ex := &fakeExtractor{resp: `{"case_id":"jane-doe-1","full_name":"Jane Doe","missing_city":null,"missing_state":null,"age_at_missing":34}`}

	cfg := workerTestConfig(t)
	objects := &fakeObjectStore{}
	media := NewMediaPipeline(cfg, zap.NewNop(), objects)

	o := NewOrchestrator(cfg, zap.NewNop(), st, ex, media)
	stats := o.RunLoop(context.Background())

	if stats.Committed != 1 || stats.Errors != 0 {
		t.Fatalf("stats = %+v, want genau einen Commit", stats)
	}
	status := st.statusOf(t, 1)
	if status == nil || *status != models.StatusDone {
		t.Fatalf("record status = %v, want Done", status)
	}

	info := st.committed["jane-doe-1"]
	if info == nil {
		t.Fatal("kein ExtractedInfo committet")
	}
	// Die Regel-Tabelle füllt die vom Modell leer gelassenen Ortsfelder.
	if info.MissingCity != "Springfield" || info.MissingState != "Illinois" {
		t.Errorf("location = %q/%q, want Springfield/Illinois", info.MissingCity, info.MissingState)
	}
	if info.MissingDate != "1998-04-12" {
		t.Errorf("MissingDate = %q, want 1998-04-12", info.MissingDate)
	}
	if info.AgeAtMissing == nil || *info.AgeAtMissing != 34 {
		t.Errorf("AgeAtMissing = %v, want 34", info.AgeAtMissing)
	}

	var images []string
	if err := json.Unmarshal(info.Images, &images); err != nil {
		t.Fatalf("Images nicht als JSON-Array lesbar: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("images = %v, want genau 2", images)
	}
	for _, u := range images {
		if !strings.HasPrefix(u, "https://cdn.test/cases/illinois/sangamon/jane-doe-1/photo-") {
			t.Errorf("image URL = %q, unexpected key derivation", u)
		}
	}
	if info.MainImage != images[0] {
		t.Errorf("MainImage = %q, want first image %q", info.MainImage, images[0])
	}
}
