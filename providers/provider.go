package providers

import "context"

// Extractor ist das Interface für den generativen Inferenz-Endpunkt. Die
// Antwort ist Freitext und grundsätzlich nicht vertrauenswürdig.
type Extractor interface {
	// Extract schickt den Falltext an das Modell und gibt die rohe Antwort zurück.
	Extract(ctx context.Context, caseText string) (string, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "openai").
	Name() string
}
