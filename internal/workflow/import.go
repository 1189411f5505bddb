package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Veraticus/iago/internal/common"
	"github.com/Veraticus/iago/internal/model"
)

var digitRun = regexp.MustCompile(`\d+`)

// ImportRequest is a newly recognized document.
type ImportRequest struct {
	// Fields holds heuristic guesses; analyzer suggestions override them.
	Fields         map[model.FieldName]string
	RecognizedText string
	SourceFile     string
	// Overwrite replaces an existing record with the same registration number.
	Overwrite bool
}

// ImportResult reports the stored record.
type ImportResult struct {
	Record *model.Record
	// ReplacedID is the id of the record removed by an overwrite, or zero.
	ReplacedID int64
}

// RegistrationFromFilename derives a registration number from the first run
// of digits in a file's base name, without leading zeros. Numbers below 2
// are rejected.
func RegistrationFromFilename(name string) (string, bool) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	raw := digitRun.FindString(base)
	if raw == "" {
		return "", false
	}

	trimmed := strings.TrimLeft(raw, "0")
	if trimmed == "" {
		return "", false
	}
	// Values too large for uint64 are still valid registration numbers.
	if n, err := strconv.ParseUint(trimmed, 10, 64); err == nil && n <= 1 {
		return "", false
	}
	return trimmed, true
}

// ImportDocument creates a pending record from recognized text. Extraction
// failures degrade to no suggestions; duplicates by registration number are
// rejected unless Overwrite is set.
func (m *Manager) ImportDocument(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	fields := make(map[model.FieldName]string, len(model.TargetFields))
	for name, value := range req.Fields {
		if value = strings.TrimSpace(value); value != "" {
			fields[name] = value
		}
	}

	if strings.TrimSpace(req.RecognizedText) != "" {
		suggestions, err := m.extractor.Analyze(ctx, req.RecognizedText)
		if err != nil {
			slog.Warn("Extraction unavailable during import",
				"source_file", req.SourceFile,
				"error", err)
		}
		for name, value := range suggestions {
			field, ok := model.ParseFieldName(name)
			if !ok {
				continue
			}
			if value = strings.TrimSpace(value); value != "" {
				fields[field] = value
			}
		}
	}

	if registration, ok := RegistrationFromFilename(req.SourceFile); ok {
		fields[model.FieldRegistrationNumber] = registration
	}
	registration := fields[model.FieldRegistrationNumber]

	record := &model.Record{
		RegistrationNumber: registration,
		RecognizedText:     req.RecognizedText,
		SourceFile:         req.SourceFile,
		Status:             model.StatusPending,
		Fields:             fields,
	}

	tx, err := m.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	result := &ImportResult{Record: record}
	if registration != "" {
		existing, err := tx.GetRecordByRegistration(ctx, registration)
		switch {
		case err == nil:
			if !req.Overwrite {
				return nil, fmt.Errorf("%w: registration %s (record %d)",
					common.ErrDuplicateRecord, registration, existing.ID)
			}
			if err := tx.DeleteRecord(ctx, existing.ID); err != nil {
				return nil, err
			}
			result.ReplacedID = existing.ID
		case !errors.Is(err, common.ErrNotFound):
			return nil, err
		}
	}

	if err := tx.CreateRecord(ctx, record); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}
	tx = nil

	slog.Info("Imported document",
		"record_id", record.ID,
		"registration", registration,
		"source_file", req.SourceFile,
		"replaced", result.ReplacedID)
	return result, nil
}
