package pattern

import (
	"log/slog"
	"strings"

	"github.com/Veraticus/iago/internal/common"
	"github.com/Veraticus/iago/internal/model"
)

// MatcherImpl implements Matcher with a shared compiled-regex cache.
type MatcherImpl struct {
	cache *common.RegexCache
}

// NewMatcher creates a new pattern matcher.
func NewMatcher() *MatcherImpl {
	return &MatcherImpl{cache: common.NewRegexCache()}
}

// Match folds the ranked patterns into a field map. A field keeps the first
// value found for it, even when that value trims to empty; later patterns for
// that field are not evaluated. Patterns that fail to compile are skipped.
// The cache never holds more expressions than patterns has entries.
func (m *MatcherImpl) Match(text string, patterns []model.Pattern) Extraction {
	if m.cache.Len() > len(patterns) {
		m.evictRetired(patterns)
	}

	result := Extraction{
		Values:  make(map[model.FieldName]string),
		Sources: make(map[model.FieldName]int64),
	}
	if text == "" {
		return result
	}

	for _, p := range patterns {
		if _, done := result.Values[p.FieldName]; done {
			continue
		}

		re, err := m.cache.Compile(p.RegexPattern)
		if err != nil {
			slog.Debug("skipping invalid pattern",
				"pattern_id", p.ID,
				"field", p.FieldName,
				"error", err)
			result.Invalid = append(result.Invalid, p.ID)
			continue
		}

		groups := re.FindStringSubmatch(text)
		if len(groups) < 2 {
			continue
		}

		result.Values[p.FieldName] = strings.TrimSpace(groups[1])
		result.Sources[p.FieldName] = p.ID
	}

	return result
}

// evictRetired forgets compiled expressions that left the pattern store.
func (m *MatcherImpl) evictRetired(patterns []model.Pattern) {
	keep := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		keep[p.RegexPattern] = struct{}{}
	}

	evicted := m.cache.Retain(keep)
	slog.Debug("evicted retired patterns from regex cache",
		"evicted", evicted,
		"cached", m.cache.Len())
}
