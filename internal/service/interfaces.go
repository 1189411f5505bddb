// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/iago/internal/model"
)

// PatternStore persists learned extraction patterns.
type PatternStore interface {
	// ReinforcePattern inserts the pattern with weight 1 or, when the
	// (field, regex) pair already exists, increments its weight in place.
	// It reports whether a new row was inserted.
	ReinforcePattern(ctx context.Context, pattern *model.Pattern) (bool, error)
	// GetRankedPatterns returns all patterns by weight descending, ties broken by regex then id.
	GetRankedPatterns(ctx context.Context) ([]model.Pattern, error)
	GetPattern(ctx context.Context, field model.FieldName, regex string) (*model.Pattern, error)
	CountPatterns(ctx context.Context) (int, error)
	GetFieldWeights(ctx context.Context, limit int) ([]model.FieldWeight, error)
	SanitizeExamples(ctx context.Context) (int64, error)
	DeletePattern(ctx context.Context, id int64) error
}

// RecordStore persists documents under review.
type RecordStore interface {
	CreateRecord(ctx context.Context, record *model.Record) error
	GetRecord(ctx context.Context, id int64) (*model.Record, error)
	GetRecordByRegistration(ctx context.Context, registrationNumber string) (*model.Record, error)
	ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.RecordView, error)
	UpdateRecordFields(ctx context.Context, id int64, fields map[model.FieldName]string) error
	CompleteRecord(ctx context.Context, id int64, completedBy string) error
	ReopenRecord(ctx context.Context, id int64) error
	DeleteRecord(ctx context.Context, id int64) error
	CountCompletedRecords(ctx context.Context) (int, error)
}

// LockStore persists advisory edit locks.
type LockStore interface {
	// AcquireLock writes the lock in a single conditional upsert. The write
	// succeeds when no lock exists, the lock already belongs to user, force
	// is set, or the existing lock started before staleBefore. The returned
	// lock is the one in effect afterwards; acquired reports whether it is user's.
	AcquireLock(ctx context.Context, req LockRequest) (lock *model.EditLock, acquired bool, err error)
	GetLock(ctx context.Context, recordID int64) (*model.EditLock, error)
	ReleaseLock(ctx context.Context, recordID int64) error
	DeleteLocksBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockRequest describes a lock acquisition attempt.
type LockRequest struct {
	Now         time.Time
	StaleBefore time.Time
	User        string
	RecordID    int64
	Force       bool
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	PatternStore
	RecordStore
	LockStore

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	PatternStore
	RecordStore
	LockStore
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
