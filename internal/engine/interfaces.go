package engine

import "context"

// Extractor is the learn/analyze contract shared by the local engine and the
// remote client.
type Extractor interface {
	// Learn synthesizes and reinforces patterns from corrected field values
	// and returns how many new patterns were created.
	Learn(ctx context.Context, text string, fieldValues map[string]string) (int, error)
	// Analyze applies the ranked patterns to text and returns field values.
	Analyze(ctx context.Context, text string) (map[string]string, error)
}

var _ Extractor = (*Engine)(nil)
