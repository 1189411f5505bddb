package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/iago/internal/model"
	"github.com/Veraticus/iago/internal/service"
)

// acquireLock writes the lock only when it is free, already owned by the
// requester, stale, or forced. The check and the write are one statement.
func acquireLock(ctx context.Context, q querier, req service.LockRequest) (*model.EditLock, bool, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	_, err := q.ExecContext(ctx, `
		INSERT INTO edit_locks (record_id, editing_by, editing_since)
		VALUES (?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			editing_by = excluded.editing_by,
			editing_since = excluded.editing_since
		WHERE edit_locks.editing_by = excluded.editing_by
			OR ?
			OR edit_locks.editing_since < ?
	`, req.RecordID, req.User, now, req.Force, req.StaleBefore.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	lock, err := getLock(ctx, q, req.RecordID)
	if err != nil {
		return nil, false, err
	}
	if lock == nil {
		return nil, false, fmt.Errorf("lock for record %d vanished after acquisition", req.RecordID)
	}

	return lock, lock.EditingBy == req.User, nil
}

// getLock returns the active lock for a record, or nil when the record is free.
func getLock(ctx context.Context, q querier, recordID int64) (*model.EditLock, error) {
	var lock model.EditLock
	err := q.QueryRowContext(ctx,
		"SELECT record_id, editing_by, editing_since FROM edit_locks WHERE record_id = ?",
		recordID,
	).Scan(&lock.RecordID, &lock.EditingBy, &lock.EditingSince)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil // No lock is a normal state
		}
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}
	return &lock, nil
}

func releaseLock(ctx context.Context, q querier, recordID int64) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM edit_locks WHERE record_id = ?", recordID); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func deleteLocksBefore(ctx context.Context, q querier, cutoff time.Time) (int64, error) {
	result, err := q.ExecContext(ctx, "DELETE FROM edit_locks WHERE editing_since < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale locks: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}
