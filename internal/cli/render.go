package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Veraticus/iago/internal/model"
	"github.com/charmbracelet/lipgloss"
)

// RenderTable lays out rows in left-aligned columns under a bold header.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := range headers {
			if i < len(row) && lipgloss.Width(row[i]) > widths[i] {
				widths[i] = lipgloss.Width(row[i])
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		b.WriteString(TableHeaderStyle.Width(widths[i] + 2).Render(h))
	}
	b.WriteString("\n")
	for _, row := range rows {
		for i := range headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString(TableCellStyle.Width(widths[i] + 2).Render(cell))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderRecords renders a record listing.
func RenderRecords(views []model.RecordView) string {
	if len(views) == 0 {
		return SubtleStyle.Render("No records found.") + "\n"
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		holder := ""
		if v.Lock != nil {
			holder = LockIcon + " " + v.Lock.EditingBy
		}
		rows = append(rows, []string{
			strconv.FormatInt(v.ID, 10),
			v.RegistrationNumber,
			string(v.EffectiveStatus()),
			holder,
			v.CompletedBy,
			v.Fields[model.FieldNeighborhood],
			v.Fields[model.FieldCity],
		})
	}
	return RenderTable([]string{"ID", "REGISTRATION", "STATUS", "EDITING", "COMPLETED BY", "NEIGHBORHOOD", "CITY"}, rows)
}

// RenderFields renders field values in the canonical field order.
func RenderFields(fields map[string]string) string {
	rows := make([][]string, 0, len(model.TargetFields))
	for _, field := range model.TargetFields {
		value, ok := fields[string(field)]
		if !ok {
			continue
		}
		rows = append(rows, []string{string(field), value})
	}
	if len(rows) == 0 {
		return SubtleStyle.Render("No fields extracted.") + "\n"
	}
	return RenderTable([]string{"FIELD", "VALUE"}, rows)
}

// RenderPatterns renders stored patterns by rank.
func RenderPatterns(patterns []model.Pattern) string {
	if len(patterns) == 0 {
		return SubtleStyle.Render("No patterns learned yet.") + "\n"
	}

	rows := make([][]string, 0, len(patterns))
	for _, p := range patterns {
		rows = append(rows, []string{
			strconv.FormatInt(p.ID, 10),
			string(p.FieldName),
			strconv.Itoa(p.Weight),
			p.RegexPattern,
		})
	}
	return RenderTable([]string{"ID", "FIELD", "WEIGHT", "REGEX"}, rows)
}

// RenderStats renders the engine maturity summary.
func RenderStats(stats *model.EngineStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Level %d (%s)\n", stats.Level, stats.LevelTitle)
	fmt.Fprintf(&b, "Patterns learned:  %d\n", stats.PatternCount)
	fmt.Fprintf(&b, "Records completed: %d\n", stats.CompletedCount)

	if len(stats.TopFields) > 0 {
		rows := make([][]string, 0, len(stats.TopFields))
		for _, fw := range stats.TopFields {
			rows = append(rows, []string{string(fw.Field), strconv.Itoa(fw.Weight)})
		}
		b.WriteString("\n")
		b.WriteString(RenderTable([]string{"FIELD", "WEIGHT"}, rows))
	}

	return RenderBox(ChartIcon+" Engine", strings.TrimRight(b.String(), "\n"))
}
