package model

import "time"

// RecordStatus is the persisted lifecycle status of a record.
type RecordStatus string

// Persisted record statuses.
const (
	StatusPending   RecordStatus = "PENDING"
	StatusCompleted RecordStatus = "COMPLETED"
	// StatusEditing is never persisted; it is derived from an active edit lock.
	StatusEditing RecordStatus = "EDITING"
)

// Role is the reviewer tier of the user acting on a record.
type Role string

// Reviewer roles.
const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleReviewer   Role = "reviewer"
)

// IsPrivileged reports whether the role may override locks and reopen records.
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleSupervisor
}

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleReviewer:
		return true
	}
	return false
}

// Record is a scanned document under review.
type Record struct {
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	Fields             map[FieldName]string `json:"fields"`
	RegistrationNumber string               `json:"registration_number"`
	RecognizedText     string               `json:"recognized_text"`
	Status             RecordStatus         `json:"status"`
	CompletedBy        string               `json:"completed_by,omitempty"`
	SourceFile         string               `json:"source_file,omitempty"`
	ID                 int64                `json:"id"`
}

// IsCompleted reports whether the record has been concluded.
func (r *Record) IsCompleted() bool {
	return r.Status == StatusCompleted
}

// FieldValues returns the record fields keyed by plain strings, the shape the engine learns from.
func (r *Record) FieldValues() map[string]string {
	values := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		values[string(k)] = v
	}
	return values
}

// EditLock is the advisory "currently editing" marker of a record.
type EditLock struct {
	EditingSince time.Time `json:"editing_since"`
	EditingBy    string    `json:"editing_by"`
	RecordID     int64     `json:"record_id"`
}

// RecordView combines a record with its lock for listings.
type RecordView struct {
	Lock *EditLock
	Record
}

// EffectiveStatus returns EDITING when a lock is held, the persisted status otherwise.
func (v RecordView) EffectiveStatus() RecordStatus {
	if v.Lock != nil {
		return StatusEditing
	}
	return v.Status
}

// RecordFilter narrows record listings.
type RecordFilter struct {
	Status RecordStatus
	Search string
	Limit  int
}
