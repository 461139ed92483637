package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"casefile/config"
)

// systemPrompt enthält die Extraktionsanweisung samt One-Shot-Beispiel. Die
// Beispielwerte müssen mit der Denylist im Validator übereinstimmen, damit ein
// Echo des Beispiels erkannt wird.
const systemPrompt = `You extract structured data from missing person case pages.
Respond with a single JSON object and nothing else. Use exactly these keys:
case_id, full_name, classification, sex, race, missing_date, date_of_birth,
age_at_missing, missing_city, missing_county, missing_state, height, weight,
hair, eyes, circumstances.
Dates as YYYY-MM-DD. Use null for anything the page does not state.

Example input:
Case robert-allen-camden-1998: Robert Allen Camden, missing since April 12, 1998
from Crescent Falls, Montana. White male, born 1961-07-30.

Example output:
{"case_id":"robert-allen-camden-1998","full_name":"Robert Allen Camden","classification":"Endangered Missing","sex":"Male","race":"White","missing_date":"1998-04-12","date_of_birth":"1961-07-30","age_at_missing":36,"missing_city":"Crescent Falls","missing_county":null,"missing_state":"Montana","height":null,"weight":null,"hair":null,"eyes":null,"circumstances":null}`

// Extractor kapselt den langchaingo-Client samt Retry-Logik.
type Extractor struct {
	Config *config.Config
	Logger *zap.Logger
	model  llms.Model
}

// NewExtractor erstellt den Inferenz-Client anhand der Konfiguration.
func NewExtractor(cfg *config.Config, logger *zap.Logger) (*Extractor, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case "openai":
		if cfg.LLMAPIKey == "" {
			return nil, fmt.Errorf("LLM_API_KEY required for provider openai")
		}
		model, err = openai.New(
			openai.WithToken(cfg.LLMAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
	case "anthropic":
		if cfg.LLMAPIKey == "" {
			return nil, fmt.Errorf("LLM_API_KEY required for provider anthropic")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.LLMAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
	case "ollama":
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.LLMProvider, err)
	}

	return &Extractor{Config: cfg, Logger: logger, model: model}, nil
}

// Name gibt den Namen des konfigurierten Providers zurück.
func (e *Extractor) Name() string {
	return e.Config.LLMProvider
}

// Extract schickt den Falltext an das Modell. Fehler werden mit gedeckeltem
// exponentiellen Backoff wiederholt; nach Ausschöpfung ist der Fehler für den
// Aufrufer transient, der Fall wird released und nicht endgültig verworfen.
func (e *Extractor) Extract(ctx context.Context, caseText string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, caseText),
	}

	var lastErr error
	delay := 2 * time.Second
	for attempt := 1; attempt <= e.Config.LLMMaxRetries; attempt++ {
		resp, err := e.model.GenerateContent(ctx, messages,
			llms.WithMaxTokens(e.Config.LLMMaxTokens),
			llms.WithTemperature(e.Config.LLMTemperature),
		)
		if err == nil {
			if len(resp.Choices) == 0 {
				lastErr = fmt.Errorf("no response choices")
			} else {
				return resp.Choices[0].Content, nil
			}
		} else {
			lastErr = err
		}

		e.Logger.Warn("Inferenz-Aufruf fehlgeschlagen, versuche erneut",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	return "", fmt.Errorf("inference failed after %d attempts: %w", e.Config.LLMMaxRetries, lastErr)
}
