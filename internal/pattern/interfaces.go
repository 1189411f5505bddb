// Package pattern synthesizes context-anchored extraction rules and applies them to text.
package pattern

import (
	"github.com/Veraticus/iago/internal/model"
)

// Matcher applies ranked patterns to a document text.
type Matcher interface {
	// Match folds patterns, already ordered by priority, into at most one value per field.
	Match(text string, patterns []model.Pattern) Extraction
}

// Extraction is the result of matching ranked patterns against a text.
type Extraction struct {
	// Values holds the winning value per field.
	Values map[model.FieldName]string
	// Sources maps each field to the id of the pattern that produced its value.
	Sources map[model.FieldName]int64
	// Invalid lists the ids of patterns whose regex failed to compile.
	Invalid []int64
}

// StringValues returns the extracted values keyed by plain field names.
func (e Extraction) StringValues() map[string]string {
	out := make(map[string]string, len(e.Values))
	for field, value := range e.Values {
		out[string(field)] = value
	}
	return out
}
