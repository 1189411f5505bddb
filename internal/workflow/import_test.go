package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/Veraticus/iago/internal/common"
	"github.com/Veraticus/iago/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationFromFilename(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		want   string
		wantOK bool
	}{
		{name: "leading zeros", file: "0004521.tif", want: "4521", wantOK: true},
		{name: "with directory", file: "/scans/lote3/00050.pdf", want: "50", wantOK: true},
		{name: "digits inside name", file: "matricula_0123_final.tif", want: "123", wantOK: true},
		{name: "one is rejected", file: "0001.tif", wantOK: false},
		{name: "zero is rejected", file: "0000.tif", wantOK: false},
		{name: "no digits", file: "scan.tif", wantOK: false},
		{name: "empty", file: "", wantOK: false},
		{name: "huge number", file: "123456789012345678901234.tif", want: "123456789012345678901234", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RegistrationFromFilename(tt.file)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImportDocument_MergesSuggestions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Learn(ctx, deedText, map[string]string{
		"BAIRRO": "ALEIXO",
		"CIDADE": "MANAUS",
	})
	require.NoError(t, err)

	result, err := env.manager.ImportDocument(ctx, ImportRequest{
		RecognizedText: "CARTÓRIO DO 1º OFÍCIO\nLocalização do imóvel BAIRRO: CENTRO\nMunicípio de CIDADE: PARINTINS",
		SourceFile:     "000812.tif",
		Fields: map[model.FieldName]string{
			model.FieldNeighborhood: "CENTR0",
			model.FieldLot:          "12",
			model.FieldSector:       "  ",
		},
	})
	require.NoError(t, err)
	assert.Zero(t, result.ReplacedID)

	got, err := env.store.GetRecord(ctx, result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, "812", got.RegistrationNumber)
	assert.Equal(t, "000812.tif", got.SourceFile)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, map[model.FieldName]string{
		model.FieldRegistrationNumber: "812",
		model.FieldNeighborhood:       "CENTRO",
		model.FieldCity:               "PARINTINS",
		model.FieldLot:                "12",
	}, got.Fields)
}

func TestImportDocument_Duplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.manager.ImportDocument(ctx, ImportRequest{RecognizedText: deedText, SourceFile: "0099.tif"})
	require.NoError(t, err)

	_, err = env.manager.ImportDocument(ctx, ImportRequest{RecognizedText: deedText, SourceFile: "99.pdf"})
	require.ErrorIs(t, err, common.ErrDuplicateRecord)

	second, err := env.manager.ImportDocument(ctx, ImportRequest{
		RecognizedText: deedText,
		SourceFile:     "99.pdf",
		Overwrite:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Record.ID, second.ReplacedID)

	_, err = env.store.GetRecord(ctx, first.Record.ID)
	require.ErrorIs(t, err, common.ErrNotFound)

	views, err := env.manager.ListRecords(ctx, model.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "99.pdf", views[0].SourceFile)
}

func TestImportDocument_ExtractionFailureDegrades(t *testing.T) {
	env := newTestEnv(t)
	manager := NewManager(env.store, failingExtractor{err: errors.New("connection refused")}, nil, Options{})

	result, err := manager.ImportDocument(context.Background(), ImportRequest{
		RecognizedText: deedText,
		SourceFile:     "scan.tif",
		Fields:         map[model.FieldName]string{model.FieldCity: "MANAUS"},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Record.RegistrationNumber)
	assert.Equal(t, map[model.FieldName]string{model.FieldCity: "MANAUS"}, result.Record.Fields)
}
