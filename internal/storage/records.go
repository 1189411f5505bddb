package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/iago/internal/model"
)

const recordColumns = `r.id, COALESCE(r.registration_number, ''), COALESCE(r.recognized_text, ''),
	r.status, COALESCE(r.completed_by, ''), COALESCE(r.source_file, ''), r.created_at, r.updated_at`

func scanRecord(scanner interface{ Scan(...any) error }, r *model.Record) error {
	var status string
	if err := scanner.Scan(
		&r.ID, &r.RegistrationNumber, &r.RecognizedText,
		&status, &r.CompletedBy, &r.SourceFile, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return err
	}
	r.Status = model.RecordStatus(status)
	return nil
}

func createRecord(ctx context.Context, q querier, record *model.Record) error {
	now := time.Now().UTC()
	if record.Status == "" {
		record.Status = model.StatusPending
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO records (
			registration_number, recognized_text, status, completed_by, source_file, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		nullIfEmpty(record.RegistrationNumber), record.RecognizedText, string(record.Status),
		nullIfEmpty(record.CompletedBy), nullIfEmpty(record.SourceFile), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get record ID: %w", err)
	}

	if err := upsertFields(ctx, q, id, record.Fields); err != nil {
		return err
	}

	record.ID = id
	record.CreatedAt = now
	record.UpdatedAt = now
	return nil
}

func getRecord(ctx context.Context, q querier, id int64) (*model.Record, error) {
	var record model.Record
	err := scanRecord(q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records r WHERE r.id = ?`, id), &record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	fields, err := loadFields(ctx, q, []int64{id})
	if err != nil {
		return nil, err
	}
	record.Fields = fields[id]
	if record.Fields == nil {
		record.Fields = make(map[model.FieldName]string)
	}

	return &record, nil
}

func getRecordByRegistration(ctx context.Context, q querier, registrationNumber string) (*model.Record, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		"SELECT id FROM records WHERE registration_number = ? ORDER BY id ASC LIMIT 1",
		registrationNumber).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: registration %s", ErrRecordNotFound, registrationNumber)
		}
		return nil, fmt.Errorf("failed to find record by registration: %w", err)
	}
	return getRecord(ctx, q, id)
}

func listRecords(ctx context.Context, q querier, filter model.RecordFilter) ([]model.RecordView, error) {
	var where []string
	var args []any

	switch filter.Status {
	case "":
	case model.StatusEditing:
		where = append(where, "l.record_id IS NOT NULL")
	default:
		where = append(where, "r.status = ?")
		args = append(args, string(filter.Status))
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + search + "%"
		where = append(where, `(r.registration_number LIKE ? OR EXISTS (
			SELECT 1 FROM record_fields f WHERE f.record_id = r.id AND f.value LIKE ?))`)
		args = append(args, like, like)
	}

	query := `SELECT ` + recordColumns + `, l.editing_by, l.editing_since
		FROM records r
		LEFT JOIN edit_locks l ON l.record_id = r.id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY CASE WHEN r.status = 'COMPLETED' THEN 1 ELSE 0 END ASC, r.id DESC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	var views []model.RecordView
	var ids []int64
	for rows.Next() {
		var view model.RecordView
		var status string
		var editingBy sql.NullString
		var editingSince sql.NullTime
		if err := rows.Scan(
			&view.ID, &view.RegistrationNumber, &view.RecognizedText,
			&status, &view.CompletedBy, &view.SourceFile, &view.CreatedAt, &view.UpdatedAt,
			&editingBy, &editingSince,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		view.Status = model.RecordStatus(status)
		if editingBy.Valid {
			view.Lock = &model.EditLock{
				RecordID:     view.ID,
				EditingBy:    editingBy.String,
				EditingSince: editingSince.Time,
			}
		}
		views = append(views, view)
		ids = append(ids, view.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	// Rows must be closed before the next query on a single-connection pool.
	_ = rows.Close()

	fields, err := loadFields(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range views {
		views[i].Fields = fields[views[i].ID]
		if views[i].Fields == nil {
			views[i].Fields = make(map[model.FieldName]string)
		}
	}

	return views, nil
}

func updateRecordFields(ctx context.Context, q querier, id int64, fields map[model.FieldName]string) error {
	result, err := q.ExecContext(ctx, "UPDATE records SET updated_at = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if err := requireAffected(result, id); err != nil {
		return err
	}
	return upsertFields(ctx, q, id, fields)
}

func completeRecord(ctx context.Context, q querier, id int64, completedBy string) error {
	result, err := q.ExecContext(ctx,
		"UPDATE records SET status = ?, completed_by = ?, updated_at = ? WHERE id = ?",
		string(model.StatusCompleted), completedBy, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete record: %w", err)
	}
	return requireAffected(result, id)
}

func reopenRecord(ctx context.Context, q querier, id int64) error {
	result, err := q.ExecContext(ctx,
		"UPDATE records SET status = ?, completed_by = NULL, updated_at = ? WHERE id = ?",
		string(model.StatusPending), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to reopen record: %w", err)
	}
	return requireAffected(result, id)
}

func deleteRecord(ctx context.Context, q querier, id int64) error {
	result, err := q.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return requireAffected(result, id)
}

func countCompletedRecords(ctx context.Context, q querier) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE status = ?", string(model.StatusCompleted)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed records: %w", err)
	}
	return count, nil
}

func upsertFields(ctx context.Context, q querier, id int64, fields map[model.FieldName]string) error {
	if len(fields) == 0 {
		return nil
	}

	// Deterministic write order keeps statement traces readable.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, string(name))
	}
	sort.Strings(names)

	for _, name := range names {
		_, err := q.ExecContext(ctx, `
			INSERT INTO record_fields (record_id, field_name, value) VALUES (?, ?, ?)
			ON CONFLICT(record_id, field_name) DO UPDATE SET value = excluded.value
		`, id, name, strings.TrimSpace(fields[model.FieldName(name)]))
		if err != nil {
			return fmt.Errorf("failed to save field %s: %w", name, err)
		}
	}
	return nil
}

func loadFields(ctx context.Context, q querier, ids []int64) (map[int64]map[model.FieldName]string, error) {
	result := make(map[int64]map[model.FieldName]string, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT record_id, field_name, value FROM record_fields WHERE record_id IN (" +
		makePlaceholders(len(ids)) + ")"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load record fields: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		var name, value string
		if err := rows.Scan(&id, &name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan record field: %w", err)
		}
		if result[id] == nil {
			result[id] = make(map[model.FieldName]string)
		}
		result[id][model.FieldName(name)] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record fields: %w", err)
	}
	return result, nil
}

func requireAffected(result sql.Result, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrRecordNotFound, id)
	}
	return nil
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
