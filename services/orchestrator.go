package services

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"casefile/config"
	"casefile/models"
	"casefile/providers"
	"casefile/store"
)

var (
	recordOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefile_records_processed_total",
			Help: "Processed case records by outcome.",
		},
		[]string{"outcome"},
	)
	imagesUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casefile_images_uploaded_total",
			Help: "Total number of case images uploaded to object storage.",
		},
	)
)

func init() {
	prometheus.MustRegister(recordOutcomes, imagesUploaded)
}

// Store ist der Ausschnitt des RecordStore, den der Orchestrator braucht.
type Store interface {
	FetchNextUnclaimed(ctx context.Context) (*models.CaseRecord, error)
	FetchBatch(ctx context.Context, n int) ([]models.CaseRecord, error)
	Claim(ctx context.Context, rec *models.CaseRecord) error
	Commit(ctx context.Context, caseID string, info *models.ExtractedInfo) error
	Release(ctx context.Context, rec *models.CaseRecord) error
	Fail(ctx context.Context, rec *models.CaseRecord, noImages bool) error
	GetRelated(ctx context.Context, caseID string) (*store.Related, error)
}

// Media ist die Asset-Schnittstelle der Pipeline.
type Media interface {
	Run(ctx context.Context, urls []string, dest Destination) ([]string, error)
}

// Outcome klassifiziert das Ergebnis eines Falls. Jeder Fehlerpfad endet in
// einem Release, nie in einem abgebrochenen Loop.
type Outcome int

const (
	OutcomeCommitted Outcome = iota
	OutcomeNotApplicable
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeNotApplicable:
		return "not_applicable"
	default:
		return "error"
	}
}

// RunStats sind die Laufstatistiken eines Worker-Durchgangs.
type RunStats struct {
	Cycles        int
	Committed     int
	NotApplicable int
	Errors        int
	Images        int
}

// Orchestrator fährt die Zyklus-Schleife: ein Fall wird vollständig
// verarbeitet, bevor der nächste geholt wird.
type Orchestrator struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     Store
	Extractor providers.Extractor
	Parser    *ResponseParser
	Validator *Validator
	Media     Media
}

// NewOrchestrator erstellt einen Orchestrator.
func NewOrchestrator(cfg *config.Config, logger *zap.Logger, st Store, ex providers.Extractor, media Media) *Orchestrator {
	return &Orchestrator{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Extractor: ex,
		Parser:    NewResponseParser(logger),
		Validator: NewValidator(logger),
		Media:     media,
	}
}

// RunLoop zieht Fälle bis zur leeren Queue oder bis zum Zyklus-Budget.
// Per-Record-Fehler werden eingesammelt; nur der Kontext beendet vorzeitig.
func (o *Orchestrator) RunLoop(ctx context.Context) RunStats {
	stats := RunStats{}
	for {
		if o.Config.MaxCycles > 0 && stats.Cycles >= o.Config.MaxCycles {
			o.Logger.Info("Zyklus-Budget erreicht, beende Lauf", zap.Int("cycles", stats.Cycles))
			break
		}
		if ctx.Err() != nil {
			break
		}
		stats.Cycles++

		records, err := o.fetchWork(ctx)
		if err != nil {
			o.Logger.Error("Konnte keine Arbeit holen", zap.Error(err))
			stats.Errors++
			o.errorDelay(ctx)
			continue
		}
		if len(records) == 0 {
			o.Logger.Info("Queue leer, beende Lauf freiwillig")
			break
		}

		cycleHadError := false
		for i := range records {
			outcome, uploaded := o.ProcessRecord(ctx, &records[i])
			recordOutcomes.WithLabelValues(outcome.String()).Inc()
			switch outcome {
			case OutcomeCommitted:
				stats.Committed++
				stats.Images += uploaded
				imagesUploaded.Add(float64(uploaded))
			case OutcomeNotApplicable:
				stats.NotApplicable++
			case OutcomeError:
				stats.Errors++
				cycleHadError = true
			}
		}

		if cycleHadError {
			o.errorDelay(ctx)
		} else {
			o.cycleDelay(ctx)
		}
	}

	o.Logger.Info("Lauf beendet",
		zap.Int("cycles", stats.Cycles),
		zap.Int("committed", stats.Committed),
		zap.Int("not_applicable", stats.NotApplicable),
		zap.Int("errors", stats.Errors),
		zap.Int("images", stats.Images))
	return stats
}

func (o *Orchestrator) fetchWork(ctx context.Context) ([]models.CaseRecord, error) {
	if o.Config.BatchSize <= 1 {
		rec, err := o.Store.FetchNextUnclaimed(ctx)
		if errors.Is(err, store.ErrNoPendingRecords) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []models.CaseRecord{*rec}, nil
	}
	return o.Store.FetchBatch(ctx, o.Config.BatchSize)
}

// ProcessRecord treibt einen Fall durch claim → extract → parse → validate →
// media → commit. Zweiter Rückgabewert ist die Zahl hochgeladener Bilder.
func (o *Orchestrator) ProcessRecord(ctx context.Context, rec *models.CaseRecord) (Outcome, int) {
	log := o.Logger.With(zap.String("case_id", rec.CaseID), zap.Uint("id", rec.ID))
	log.Info("Starte Verarbeitung")

	if err := o.Store.Claim(ctx, rec); err != nil {
		log.Error("Claim fehlgeschlagen", zap.Error(err))
		return OutcomeError, 0
	}

	// Anwendbarkeits-Schranke: ohne qualifizierte Bilder ist der Fall
	// strukturell unbrauchbar und wird terminal markiert, nicht retried.
	urls := QualifyingImageURLs(rec.RawContent, rec.SourceURL)
	if len(urls) == 0 {
		log.Info("Keine qualifizierten Bilder, Fall nicht anwendbar")
		if err := o.Store.Fail(ctx, rec, true); err != nil {
			log.Error("Konnte Fall nicht als nicht-anwendbar markieren", zap.Error(err))
			return OutcomeError, 0
		}
		return OutcomeNotApplicable, 0
	}

	related, err := o.Store.GetRelated(ctx, rec.CaseID)
	if err != nil {
		return o.release(ctx, rec, log, "Nachbarfelder nicht lesbar", err)
	}

	caseText := rec.RawContent
	if caseText == "" {
		caseText = rec.Title
	}
	raw, err := o.Extractor.Extract(ctx, caseText)
	if err != nil {
		return o.release(ctx, rec, log, "Extraktion fehlgeschlagen", err)
	}

	fields, err := o.Parser.Parse(raw)
	if err != nil {
		return o.release(ctx, rec, log, "Antwort unlesbar", err)
	}

	// Regel-Tabelle füllt Lücken der generativen Extraktion aus dem Markup.
	fields = MergeMissingFields(fields, ExtractFieldsFromContent(rec.RawContent))

	if err := o.Validator.Validate(rec.CaseID, fields); err != nil {
		return o.release(ctx, rec, log, "Validierung fehlgeschlagen", err)
	}

	dest := Destination{CaseID: rec.CaseID, State: related.State, County: related.County}
	remote, err := o.Media.Run(ctx, urls, dest)
	if err != nil {
		return o.release(ctx, rec, log, "Media-Pipeline abgebrochen", err)
	}
	if len(remote) == 0 {
		return o.release(ctx, rec, log, "Kein Asset hochgeladen", errors.New("all assets failed"))
	}

	info := o.buildInfo(rec.CaseID, fields, remote)
	if err := o.Store.Commit(ctx, rec.CaseID, info); err != nil {
		return o.release(ctx, rec, log, "Commit fehlgeschlagen", err)
	}

	log.Info("Fall committet", zap.Int("images", len(remote)))
	return OutcomeCommitted, len(remote)
}

// release ist der eine Trichter für alle Fehlerpfade: Status zurück auf
// Pending, damit ein späterer Zyklus den Fall erneut versucht.
func (o *Orchestrator) release(ctx context.Context, rec *models.CaseRecord, log *zap.Logger, msg string, cause error) (Outcome, int) {
	log.Warn(msg, zap.Error(cause))
	if err := o.Store.Release(ctx, rec); err != nil {
		log.Error("Release fehlgeschlagen, Fall bleibt Claimed", zap.Error(err))
	}
	return OutcomeError, 0
}

func (o *Orchestrator) buildInfo(caseID string, fields Fields, remote []string) *models.ExtractedInfo {
	imagesJSON, _ := json.Marshal(remote)
	return &models.ExtractedInfo{
		CaseID:         caseID,
		FullName:       fields.Str("full_name"),
		Classification: fields.Str("classification"),
		Sex:            fields.Str("sex"),
		Race:           fields.Str("race"),
		MissingDate:    NormalizeDate(fields.Str("missing_date")),
		DateOfBirth:    NormalizeDate(fields.Str("date_of_birth")),
		AgeAtMissing:   fields.Int("age_at_missing"),
		MissingCity:    fields.Str("missing_city"),
		MissingCounty:  fields.Str("missing_county"),
		MissingState:   fields.Str("missing_state"),
		Height:         fields.Str("height"),
		Weight:         fields.Str("weight"),
		Hair:           fields.Str("hair"),
		Eyes:           fields.Str("eyes"),
		Circumstances:  fields.Str("circumstances"),
		Images:         datatypes.JSON(imagesJSON),
		MainImage:      remote[0],
	}
}

// cycleDelay wartet eine zufällige Spanne im konfigurierten [min,max]-Fenster.
func (o *Orchestrator) cycleDelay(ctx context.Context) {
	minS, maxS := o.Config.MinWaitSeconds, o.Config.MaxWaitSeconds
	if maxS <= minS {
		o.sleep(ctx, time.Duration(minS)*time.Second)
		return
	}
	o.sleep(ctx, time.Duration(minS+rand.Intn(maxS-minS))*time.Second)
}

// errorDelay wartet die längere, feste Fehlerpause.
func (o *Orchestrator) errorDelay(ctx context.Context) {
	o.sleep(ctx, time.Duration(o.Config.ErrorWaitSeconds)*time.Second)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
