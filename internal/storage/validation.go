// Package storage provides the data persistence layer for the iago engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/iago/internal/common"
	"github.com/Veraticus/iago/internal/model"
	"github.com/Veraticus/iago/internal/service"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrNilParameter    = errors.New("parameter cannot be nil")
	ErrInvalidPattern  = errors.New("invalid pattern")
	ErrInvalidRecord   = errors.New("invalid record")
	ErrInvalidLock     = errors.New("invalid lock request")
	ErrRecordNotFound  = fmt.Errorf("record %w", common.ErrNotFound)
	ErrPatternNotFound = fmt.Errorf("pattern %w", common.ErrNotFound)
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validatePattern validates a pattern before it is written.
func validatePattern(pattern *model.Pattern) error {
	if pattern == nil {
		return fmt.Errorf("%w: pattern", ErrNilParameter)
	}
	if !pattern.FieldName.IsTarget() {
		return fmt.Errorf("%w: unknown field %q", ErrInvalidPattern, pattern.FieldName)
	}
	if strings.TrimSpace(pattern.RegexPattern) == "" {
		return fmt.Errorf("%w: missing regex", ErrInvalidPattern)
	}
	return nil
}

// validateRecord validates a record before it is created.
func validateRecord(record *model.Record) error {
	if record == nil {
		return fmt.Errorf("%w: record", ErrNilParameter)
	}
	switch record.Status {
	case "", model.StatusPending, model.StatusCompleted:
	default:
		return fmt.Errorf("%w: status %s cannot be persisted", ErrInvalidRecord, record.Status)
	}
	if record.Status == model.StatusCompleted && strings.TrimSpace(record.CompletedBy) == "" {
		return fmt.Errorf("%w: completed record without completed_by", ErrInvalidRecord)
	}
	return validateFields(record.Fields)
}

// validateFields rejects blank field names.
func validateFields(fields map[model.FieldName]string) error {
	for name := range fields {
		if strings.TrimSpace(string(name)) == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidRecord)
		}
	}
	return nil
}

// validateLockRequest validates a lock acquisition.
func validateLockRequest(req service.LockRequest) error {
	if req.RecordID <= 0 {
		return fmt.Errorf("%w: record id %d", ErrInvalidLock, req.RecordID)
	}
	return validateString(req.User, "user")
}
