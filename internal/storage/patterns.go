package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/iago/internal/model"
)

// reinforcePattern performs the existence check and the weight increment as
// one statement, so concurrent learners never lose an increment. A new row
// always starts at weight 1 and an update always yields at least 2, which is
// how the caller tells the two apart.
func reinforcePattern(ctx context.Context, q querier, pattern *model.Pattern) (bool, error) {
	if err := validatePattern(pattern); err != nil {
		return false, err
	}

	example := pattern.ExampleMatch
	if example == "" {
		example = pattern.FieldName.PlaceholderExample()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO patterns (field_name, regex_pattern, example_match, weight, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(field_name, regex_pattern)
		DO UPDATE SET weight = patterns.weight + 1
		RETURNING id, weight
	`

	var id int64
	var weight int
	err := q.QueryRowContext(ctx, query,
		string(pattern.FieldName), pattern.RegexPattern, example, now,
	).Scan(&id, &weight)
	if err != nil {
		return false, fmt.Errorf("failed to reinforce pattern: %w", err)
	}

	inserted := weight == 1
	pattern.ID = id
	pattern.Weight = weight
	if inserted {
		pattern.ExampleMatch = example
		pattern.CreatedAt = now
	}

	return inserted, nil
}

func getRankedPatterns(ctx context.Context, q querier) ([]model.Pattern, error) {
	query := `
		SELECT id, field_name, regex_pattern, COALESCE(example_match, ''), weight, created_at
		FROM patterns
		ORDER BY weight DESC, regex_pattern ASC, id ASC
	`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get ranked patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []model.Pattern
	for rows.Next() {
		var p model.Pattern
		var field string
		if err := rows.Scan(&p.ID, &field, &p.RegexPattern, &p.ExampleMatch, &p.Weight, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		p.FieldName = model.FieldName(field)
		patterns = append(patterns, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patterns: %w", err)
	}

	return patterns, nil
}

func getPattern(ctx context.Context, q querier, field model.FieldName, regex string) (*model.Pattern, error) {
	query := `
		SELECT id, field_name, regex_pattern, COALESCE(example_match, ''), weight, created_at
		FROM patterns
		WHERE field_name = ? AND regex_pattern = ?
	`

	var p model.Pattern
	var name string
	err := q.QueryRowContext(ctx, query, string(field), regex).Scan(
		&p.ID, &name, &p.RegexPattern, &p.ExampleMatch, &p.Weight, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPatternNotFound
		}
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	p.FieldName = model.FieldName(name)

	return &p, nil
}

func countPatterns(ctx context.Context, q querier) (int, error) {
	var count int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM patterns").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count patterns: %w", err)
	}
	return count, nil
}

func getFieldWeights(ctx context.Context, q querier, limit int) ([]model.FieldWeight, error) {
	if limit <= 0 {
		limit = len(model.TargetFields)
	}

	query := `
		SELECT field_name, SUM(weight) AS total, COALESCE(MAX(example_match), '')
		FROM patterns
		GROUP BY field_name
		ORDER BY total DESC, field_name ASC
		LIMIT ?
	`

	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get field weights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var weights []model.FieldWeight
	for rows.Next() {
		var fw model.FieldWeight
		var field string
		if err := rows.Scan(&field, &fw.Weight, &fw.Example); err != nil {
			return nil, fmt.Errorf("failed to scan field weight: %w", err)
		}
		fw.Field = model.FieldName(field)
		weights = append(weights, fw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field weights: %w", err)
	}

	return weights, nil
}

func sanitizeExamples(ctx context.Context, q querier) (int64, error) {
	result, err := q.ExecContext(ctx,
		"UPDATE patterns SET example_match = ? WHERE example_match IS NULL OR example_match != ?",
		model.AnonymizedExample, model.AnonymizedExample)
	if err != nil {
		return 0, fmt.Errorf("failed to sanitize pattern examples: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

func deletePattern(ctx context.Context, q querier, id int64) error {
	result, err := q.ExecContext(ctx, "DELETE FROM patterns WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete pattern: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPatternNotFound
	}

	return nil
}
