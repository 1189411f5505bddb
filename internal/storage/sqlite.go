package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/iago/internal/model"
	"github.com/Veraticus/iago/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers; every transaction below must
	// only use its own *sql.Tx or it will wait on itself.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{tx: tx}, nil
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx *sql.Tx
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Pattern operations

func (s *SQLiteStorage) ReinforcePattern(ctx context.Context, pattern *model.Pattern) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	return reinforcePattern(ctx, s.db, pattern)
}

func (t *sqliteTransaction) ReinforcePattern(ctx context.Context, pattern *model.Pattern) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	return reinforcePattern(ctx, t.tx, pattern)
}

func (s *SQLiteStorage) GetRankedPatterns(ctx context.Context) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getRankedPatterns(ctx, s.db)
}

func (t *sqliteTransaction) GetRankedPatterns(ctx context.Context) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getRankedPatterns(ctx, t.tx)
}

func (s *SQLiteStorage) GetPattern(ctx context.Context, field model.FieldName, regex string) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getPattern(ctx, s.db, field, regex)
}

func (t *sqliteTransaction) GetPattern(ctx context.Context, field model.FieldName, regex string) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getPattern(ctx, t.tx, field, regex)
}

func (s *SQLiteStorage) CountPatterns(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return countPatterns(ctx, s.db)
}

func (t *sqliteTransaction) CountPatterns(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return countPatterns(ctx, t.tx)
}

func (s *SQLiteStorage) GetFieldWeights(ctx context.Context, limit int) ([]model.FieldWeight, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getFieldWeights(ctx, s.db, limit)
}

func (t *sqliteTransaction) GetFieldWeights(ctx context.Context, limit int) ([]model.FieldWeight, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getFieldWeights(ctx, t.tx, limit)
}

func (s *SQLiteStorage) SanitizeExamples(ctx context.Context) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return sanitizeExamples(ctx, s.db)
}

func (t *sqliteTransaction) SanitizeExamples(ctx context.Context) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return sanitizeExamples(ctx, t.tx)
}

func (s *SQLiteStorage) DeletePattern(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return deletePattern(ctx, s.db, id)
}

func (t *sqliteTransaction) DeletePattern(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return deletePattern(ctx, t.tx, id)
}

// Record operations

func (s *SQLiteStorage) CreateRecord(ctx context.Context, record *model.Record) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecord(record); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := createRecord(ctx, tx, record); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record: %w", err)
	}
	return nil
}

func (t *sqliteTransaction) CreateRecord(ctx context.Context, record *model.Record) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecord(record); err != nil {
		return err
	}
	return createRecord(ctx, t.tx, record)
}

func (s *SQLiteStorage) GetRecord(ctx context.Context, id int64) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getRecord(ctx, s.db, id)
}

func (t *sqliteTransaction) GetRecord(ctx context.Context, id int64) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getRecord(ctx, t.tx, id)
}

func (s *SQLiteStorage) GetRecordByRegistration(ctx context.Context, registrationNumber string) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(registrationNumber, "registrationNumber"); err != nil {
		return nil, err
	}
	return getRecordByRegistration(ctx, s.db, registrationNumber)
}

func (t *sqliteTransaction) GetRecordByRegistration(ctx context.Context, registrationNumber string) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(registrationNumber, "registrationNumber"); err != nil {
		return nil, err
	}
	return getRecordByRegistration(ctx, t.tx, registrationNumber)
}

func (s *SQLiteStorage) ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.RecordView, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return listRecords(ctx, s.db, filter)
}

func (t *sqliteTransaction) ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.RecordView, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return listRecords(ctx, t.tx, filter)
}

func (s *SQLiteStorage) UpdateRecordFields(ctx context.Context, id int64, fields map[model.FieldName]string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateFields(fields); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := updateRecordFields(ctx, tx, id, fields); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record fields: %w", err)
	}
	return nil
}

func (t *sqliteTransaction) UpdateRecordFields(ctx context.Context, id int64, fields map[model.FieldName]string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateFields(fields); err != nil {
		return err
	}
	return updateRecordFields(ctx, t.tx, id, fields)
}

func (s *SQLiteStorage) CompleteRecord(ctx context.Context, id int64, completedBy string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(completedBy, "completedBy"); err != nil {
		return err
	}
	return completeRecord(ctx, s.db, id, completedBy)
}

func (t *sqliteTransaction) CompleteRecord(ctx context.Context, id int64, completedBy string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(completedBy, "completedBy"); err != nil {
		return err
	}
	return completeRecord(ctx, t.tx, id, completedBy)
}

func (s *SQLiteStorage) ReopenRecord(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return reopenRecord(ctx, s.db, id)
}

func (t *sqliteTransaction) ReopenRecord(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return reopenRecord(ctx, t.tx, id)
}

func (s *SQLiteStorage) DeleteRecord(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return deleteRecord(ctx, s.db, id)
}

func (t *sqliteTransaction) DeleteRecord(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return deleteRecord(ctx, t.tx, id)
}

func (s *SQLiteStorage) CountCompletedRecords(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return countCompletedRecords(ctx, s.db)
}

func (t *sqliteTransaction) CountCompletedRecords(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return countCompletedRecords(ctx, t.tx)
}

// Lock operations

func (s *SQLiteStorage) AcquireLock(ctx context.Context, req service.LockRequest) (*model.EditLock, bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, false, err
	}
	if err := validateLockRequest(req); err != nil {
		return nil, false, err
	}
	return acquireLock(ctx, s.db, req)
}

func (t *sqliteTransaction) AcquireLock(ctx context.Context, req service.LockRequest) (*model.EditLock, bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, false, err
	}
	if err := validateLockRequest(req); err != nil {
		return nil, false, err
	}
	return acquireLock(ctx, t.tx, req)
}

func (s *SQLiteStorage) GetLock(ctx context.Context, recordID int64) (*model.EditLock, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getLock(ctx, s.db, recordID)
}

func (t *sqliteTransaction) GetLock(ctx context.Context, recordID int64) (*model.EditLock, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getLock(ctx, t.tx, recordID)
}

func (s *SQLiteStorage) ReleaseLock(ctx context.Context, recordID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return releaseLock(ctx, s.db, recordID)
}

func (t *sqliteTransaction) ReleaseLock(ctx context.Context, recordID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return releaseLock(ctx, t.tx, recordID)
}

func (s *SQLiteStorage) DeleteLocksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return deleteLocksBefore(ctx, s.db, cutoff)
}

func (t *sqliteTransaction) DeleteLocksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return deleteLocksBefore(ctx, t.tx, cutoff)
}
