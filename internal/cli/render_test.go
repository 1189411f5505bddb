package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/iago/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTable_AlignsColumns(t *testing.T) {
	out := RenderTable([]string{"ID", "NAME"}, [][]string{
		{"1", "ALEIXO"},
		{"100", "CENTRO"},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Index(lines[1], "ALEIXO"), strings.Index(lines[2], "CENTRO"))
}

func TestRenderRecords(t *testing.T) {
	assert.Contains(t, RenderRecords(nil), "No records found.")

	out := RenderRecords([]model.RecordView{
		{
			Record: model.Record{
				ID:                 7,
				RegistrationNumber: "4521",
				Status:             model.StatusPending,
				Fields:             map[model.FieldName]string{model.FieldCity: "MANAUS"},
			},
			Lock: &model.EditLock{RecordID: 7, EditingBy: "ana", EditingSince: time.Now()},
		},
		{
			Record: model.Record{ID: 3, Status: model.StatusCompleted, CompletedBy: "bia"},
		},
	})

	assert.Contains(t, out, "EDITING")
	assert.Contains(t, out, "ana")
	assert.Contains(t, out, "MANAUS")
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "bia")
}

func TestRenderFields_CanonicalOrder(t *testing.T) {
	out := RenderFields(map[string]string{"LOTE": "15", "NUMERO_REGISTRO": "4521"})
	assert.Less(t, strings.Index(out, "NUMERO_REGISTRO"), strings.Index(out, "LOTE"))
	assert.Contains(t, RenderFields(nil), "No fields extracted.")
}

func TestRenderStats(t *testing.T) {
	out := RenderStats(&model.EngineStats{
		PatternCount:   12,
		CompletedCount: 4,
		Level:          2,
		LevelTitle:     "junior",
		TopFields:      []model.FieldWeight{{Field: model.FieldNeighborhood, Weight: 9}},
	})
	assert.Contains(t, out, "Level 2 (junior)")
	assert.Contains(t, out, "Patterns learned:  12")
	assert.Contains(t, out, "BAIRRO")
}

func TestRenderPatterns(t *testing.T) {
	assert.Contains(t, RenderPatterns(nil), "No patterns learned yet.")
	out := RenderPatterns([]model.Pattern{{ID: 1, FieldName: model.FieldLot, Weight: 3, RegexPattern: `(?i)LOTE:\s*(\d+)`}})
	assert.Contains(t, out, "LOTE")
	assert.Contains(t, out, `(?i)LOTE:\s*(\d+)`)
}

func TestNewProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, 2, "Importing documents...")
	require.NoError(t, bar.Add(2))
	assert.Contains(t, buf.String(), "Importing documents...")
}
