// Package engine implements the adaptive field-extraction engine: it learns
// context-anchored patterns from corrected records and applies them to new text.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/iago/internal/model"
	"github.com/Veraticus/iago/internal/pattern"
	"github.com/Veraticus/iago/internal/service"
)

// topFieldsLimit is how many fields Stats reports.
const topFieldsLimit = 5

// Engine owns the pattern store handle and the matcher.
type Engine struct {
	storage      service.Storage
	matcher      pattern.Matcher
	contextWords int
}

// Config holds configuration options for the engine.
type Config struct {
	ContextWords int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ContextWords: pattern.DefaultContextWords,
	}
}

// New creates an engine with the default configuration.
func New(storage service.Storage) *Engine {
	return NewWithConfig(storage, DefaultConfig())
}

// NewWithConfig creates an engine with a custom configuration.
func NewWithConfig(storage service.Storage, config Config) *Engine {
	if config.ContextWords <= 0 {
		config.ContextWords = pattern.DefaultContextWords
	}
	return &Engine{
		storage:      storage,
		matcher:      pattern.NewMatcher(),
		contextWords: config.ContextWords,
	}
}

// Learn synthesizes one pattern per known field whose value appears in text
// and reinforces it in the store. All writes of one call share a transaction.
func (e *Engine) Learn(ctx context.Context, text string, fieldValues map[string]string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}

	type candidate struct {
		field model.FieldName
		regex string
	}
	var candidates []candidate
	for _, field := range model.TargetFields {
		value := lookupValue(fieldValues, field)
		if value == "" {
			continue
		}
		regex, ok := pattern.Synthesize(text, value, e.contextWords)
		if !ok {
			slog.Debug("No pattern synthesized", "field", field)
			continue
		}
		candidates = append(candidates, candidate{field: field, regex: regex})
	}

	if len(candidates) == 0 {
		return 0, nil
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin learning transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	learned := 0
	for _, c := range candidates {
		p := &model.Pattern{
			FieldName:    c.field,
			RegexPattern: c.regex,
			ExampleMatch: c.field.PlaceholderExample(),
		}
		inserted, err := tx.ReinforcePattern(ctx, p)
		if err != nil {
			return 0, fmt.Errorf("failed to reinforce pattern for %s: %w", c.field, err)
		}
		if inserted {
			learned++
		}
		slog.Debug("Reinforced pattern",
			"field", c.field,
			"weight", p.Weight,
			"new", inserted)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit learned patterns: %w", err)
	}
	tx = nil

	slog.Info("Learned patterns", "candidates", len(candidates), "new", learned)
	return learned, nil
}

// Analyze returns the value of every field some stored pattern matches in text.
func (e *Engine) Analyze(ctx context.Context, text string) (map[string]string, error) {
	if strings.TrimSpace(text) == "" {
		return map[string]string{}, nil
	}

	patterns, err := e.storage.GetRankedPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}

	extraction := e.matcher.Match(text, patterns)
	if len(extraction.Invalid) > 0 {
		slog.Debug("Skipped invalid patterns", "count", len(extraction.Invalid))
	}

	return extraction.StringValues(), nil
}

// Stats summarizes the pattern store for the "about" view.
func (e *Engine) Stats(ctx context.Context) (*model.EngineStats, error) {
	count, err := e.storage.CountPatterns(ctx)
	if err != nil {
		return nil, err
	}

	completed, err := e.storage.CountCompletedRecords(ctx)
	if err != nil {
		return nil, err
	}

	top, err := e.storage.GetFieldWeights(ctx, topFieldsLimit)
	if err != nil {
		return nil, err
	}
	if top == nil {
		top = []model.FieldWeight{}
	}

	level, title := model.MaturityLevel(count)
	return &model.EngineStats{
		PatternCount:   count,
		CompletedCount: completed,
		Level:          level,
		LevelTitle:     title,
		TopFields:      top,
	}, nil
}

// Sanitize replaces every stored example with the anonymized placeholder.
func (e *Engine) Sanitize(ctx context.Context) (int64, error) {
	changed, err := e.storage.SanitizeExamples(ctx)
	if err != nil {
		return 0, err
	}
	slog.Info("Sanitized pattern examples", "changed", changed)
	return changed, nil
}

// lookupValue accepts both the canonical and the lower-case field key.
func lookupValue(values map[string]string, field model.FieldName) string {
	if v, ok := values[string(field)]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := values[strings.ToLower(string(field))]; ok {
		return strings.TrimSpace(v)
	}
	return ""
}
