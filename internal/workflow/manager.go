// Package workflow drives records through review: advisory edit locks,
// saving, concluding (which triggers learning), reopening and import.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/iago/internal/common"
	"github.com/Veraticus/iago/internal/engine"
	"github.com/Veraticus/iago/internal/model"
	"github.com/Veraticus/iago/internal/notify"
	"github.com/Veraticus/iago/internal/service"
)

// DefaultLockTTL is how long an untouched edit lock blocks other reviewers.
const DefaultLockTTL = 2 * time.Hour

// DefaultNotifyTimeout bounds one takeover notification, retries included.
const DefaultNotifyTimeout = 30 * time.Second

// Options configures a Manager.
type Options struct {
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// LockTTL makes older locks acquirable by anyone. Zero disables expiry.
	LockTTL time.Duration
	// NotifyTimeout bounds background takeover notifications. Defaults to DefaultNotifyTimeout.
	NotifyTimeout time.Duration
}

// Manager coordinates record review across concurrent reviewers.
type Manager struct {
	storage   service.Storage
	extractor engine.Extractor
	notifier  notify.Notifier
	clock         func() time.Time
	pending       sync.WaitGroup
	lockTTL       time.Duration
	notifyTimeout time.Duration
}

// NewManager creates a workflow manager.
func NewManager(storage service.Storage, extractor engine.Extractor, notifier notify.Notifier, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	if notifier == nil {
		notifier = notify.New(notify.Config{})
	}
	return &Manager{
		storage:       storage,
		extractor:     extractor,
		notifier:      notifier,
		clock:         opts.Clock,
		lockTTL:       opts.LockTTL,
		notifyTimeout: opts.NotifyTimeout,
	}
}

// Wait blocks until every takeover notification sent so far has finished.
func (m *Manager) Wait() {
	m.pending.Wait()
}

// OpenResult is the outcome of an attempt to open a record for editing.
type OpenResult struct {
	Record         *model.Record
	LockedBy       string
	PreviousHolder string
	Granted        bool
	Completed      bool
	Stolen         bool
}

// Err returns a LockDeniedError when the open was denied, nil otherwise.
func (r *OpenResult) Err() error {
	if r == nil || r.Granted {
		return nil
	}
	recordID := int64(0)
	if r.Record != nil {
		recordID = r.Record.ID
	}
	return &common.LockDeniedError{
		RecordID:  recordID,
		LockedBy:  r.LockedBy,
		Completed: r.Completed,
	}
}

// OpenForEdit grants the requester the edit lock of a record.
//
// Reviewers are denied completed records and records locked by someone else.
// Privileged roles are always granted and take over any existing lock; the
// previous holder is notified in the background.
func (m *Manager) OpenForEdit(ctx context.Context, recordID int64, requester string, role model.Role) (*OpenResult, error) {
	if err := validateActor(requester, role); err != nil {
		return nil, err
	}

	now := m.clock().UTC()
	privileged := role.IsPrivileged()

	tx, err := m.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	record, err := tx.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	if record.IsCompleted() && !privileged {
		slog.Info("Open denied on completed record", "record_id", recordID, "user", requester)
		return &OpenResult{Record: record, Completed: true}, nil
	}

	previous, err := tx.GetLock(ctx, recordID)
	if err != nil {
		return nil, err
	}

	lock, acquired, err := tx.AcquireLock(ctx, service.LockRequest{
		RecordID:    recordID,
		User:        requester,
		Now:         now,
		StaleBefore: m.staleBefore(now),
		Force:       privileged,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lock: %w", err)
	}
	tx = nil

	if !acquired {
		slog.Info("Open denied on locked record",
			"record_id", recordID,
			"user", requester,
			"locked_by", lock.EditingBy)
		return &OpenResult{Record: record, LockedBy: lock.EditingBy}, nil
	}

	result := &OpenResult{Record: record, Granted: true, LockedBy: requester}
	if previous != nil && previous.EditingBy != requester {
		result.PreviousHolder = previous.EditingBy
		if m.isStale(previous, now) {
			slog.Info("Took over expired lock",
				"record_id", recordID,
				"user", requester,
				"previous_holder", previous.EditingBy)
		} else {
			result.Stolen = true
			m.notifySteal(ctx, recordID, previous.EditingBy, requester, now)
		}
	}

	return result, nil
}

// SaveRecord persists field edits and releases the lock. Status is unchanged.
func (m *Manager) SaveRecord(ctx context.Context, recordID int64, fields map[model.FieldName]string) error {
	tx, err := m.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	if err := tx.UpdateRecordFields(ctx, recordID, fields); err != nil {
		return err
	}
	if err := tx.ReleaseLock(ctx, recordID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record: %w", err)
	}
	tx = nil

	slog.Info("Saved record", "record_id", recordID, "fields", len(fields))
	return nil
}

// ConcludeResult reports the learning outcome of a conclusion.
type ConcludeResult struct {
	// LearnErr is set when learning failed; the record is completed regardless.
	LearnErr     error
	LearnedCount int
}

// ConcludeRecord persists the final field values, marks the record completed
// and releases its lock, then teaches the engine from the corrected values.
func (m *Manager) ConcludeRecord(ctx context.Context, recordID int64, requester string, fields map[model.FieldName]string) (*ConcludeResult, error) {
	if strings.TrimSpace(requester) == "" {
		return nil, common.NewUserError("a reviewer name is required", common.ErrInvalidRole)
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

	if err := tx.UpdateRecordFields(ctx, recordID, fields); err != nil {
		return nil, err
	}
	if err := tx.CompleteRecord(ctx, recordID, requester); err != nil {
		return nil, err
	}
	if err := tx.ReleaseLock(ctx, recordID); err != nil {
		return nil, err
	}
	record, err := tx.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit conclusion: %w", err)
	}
	tx = nil

	slog.Info("Concluded record", "record_id", recordID, "completed_by", requester)

	result := &ConcludeResult{}
	learned, err := m.extractor.Learn(ctx, record.RecognizedText, record.FieldValues())
	if err != nil {
		slog.Warn("Learning failed after conclusion",
			"record_id", recordID,
			"error", err)
		result.LearnErr = err
		return result, nil
	}
	result.LearnedCount = learned

	return result, nil
}

// ReopenRecord returns a completed record to pending. Privileged roles only.
func (m *Manager) ReopenRecord(ctx context.Context, recordID int64, requester string, role model.Role) error {
	if err := validateActor(requester, role); err != nil {
		return err
	}
	if !role.IsPrivileged() {
		return fmt.Errorf("%w: %s cannot reopen record %d", common.ErrNotPrivileged, requester, recordID)
	}

	if err := m.storage.ReopenRecord(ctx, recordID); err != nil {
		return err
	}

	slog.Info("Reopened record", "record_id", recordID, "user", requester)
	return nil
}

// ReleaseLock drops the edit lock of a record unconditionally.
func (m *Manager) ReleaseLock(ctx context.Context, recordID int64) error {
	if err := m.storage.ReleaseLock(ctx, recordID); err != nil {
		return err
	}
	slog.Debug("Released lock", "record_id", recordID)
	return nil
}

// FieldChange is one field updated by re-analysis.
type FieldChange struct {
	Field    model.FieldName `json:"field"`
	OldValue string          `json:"old_value"`
	NewValue string          `json:"new_value"`
}

// Reanalyze re-runs extraction over the stored text and overwrites every
// field whose suggested value differs. Status and lock are not touched.
func (m *Manager) Reanalyze(ctx context.Context, recordID int64) ([]FieldChange, error) {
	record, err := m.storage.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(record.RecognizedText) == "" {
		return nil, fmt.Errorf("%w: record %d", common.ErrNoRecognizedText, recordID)
	}

	suggestions, err := m.extractor.Analyze(ctx, record.RecognizedText)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze record %d: %w", recordID, err)
	}

	var changes []FieldChange
	updates := make(map[model.FieldName]string)
	for _, field := range model.TargetFields {
		suggested := strings.TrimSpace(suggestions[string(field)])
		if suggested == "" || suggested == record.Fields[field] {
			continue
		}
		changes = append(changes, FieldChange{
			Field:    field,
			OldValue: record.Fields[field],
			NewValue: suggested,
		})
		updates[field] = suggested
	}

	if len(updates) == 0 {
		return changes, nil
	}

	if err := m.storage.UpdateRecordFields(ctx, recordID, updates); err != nil {
		return nil, err
	}

	slog.Info("Reanalyzed record", "record_id", recordID, "changed", len(changes))
	return changes, nil
}

// GetRecord returns a record with its current lock.
func (m *Manager) GetRecord(ctx context.Context, recordID int64) (*model.RecordView, error) {
	record, err := m.storage.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	lock, err := m.storage.GetLock(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return &model.RecordView{Record: *record, Lock: lock}, nil
}

// ListRecords returns records with their derived editing state.
func (m *Manager) ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.RecordView, error) {
	return m.storage.ListRecords(ctx, filter)
}

// SweepExpiredLocks deletes locks older than the lock TTL.
func (m *Manager) SweepExpiredLocks(ctx context.Context) (int64, error) {
	if m.lockTTL <= 0 {
		return 0, nil
	}

	removed, err := m.storage.DeleteLocksBefore(ctx, m.clock().UTC().Add(-m.lockTTL))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.Info("Swept expired locks", "removed", removed)
	}
	return removed, nil
}

// RunLockSweeper sweeps expired locks every interval until ctx is done.
func (m *Manager) RunLockSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || m.lockTTL <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.SweepExpiredLocks(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("Lock sweep failed", "error", err)
			}
		}
	}
}

func (m *Manager) staleBefore(now time.Time) time.Time {
	if m.lockTTL <= 0 {
		return time.Time{}
	}
	return now.Add(-m.lockTTL)
}

func (m *Manager) isStale(lock *model.EditLock, now time.Time) bool {
	return m.lockTTL > 0 && lock.EditingSince.Before(now.Add(-m.lockTTL))
}

// notifySteal sends the takeover notification without holding up the caller.
// The send outlives a canceled request but not NotifyTimeout.
func (m *Manager) notifySteal(ctx context.Context, recordID int64, previous, requester string, now time.Time) {
	slog.Warn("Edit lock overridden",
		"record_id", recordID,
		"previous_holder", previous,
		"new_holder", requester)

	event := notify.LockStolenEvent{
		At:             now,
		PreviousHolder: previous,
		NewHolder:      requester,
		RecordID:       recordID,
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.notifyTimeout)

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		defer cancel()

		if err := m.notifier.NotifyLockStolen(notifyCtx, event); err != nil {
			slog.Warn("Failed to notify previous lock holder",
				"record_id", recordID,
				"previous_holder", previous,
				"error", err)
		}
	}()
}

func validateActor(requester string, role model.Role) error {
	if strings.TrimSpace(requester) == "" {
		return common.NewUserError("a reviewer name is required", common.ErrInvalidRole)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", common.ErrInvalidRole, role)
	}
	return nil
}
