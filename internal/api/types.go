package api

import (
	"github.com/Veraticus/iago/internal/model"
	"github.com/Veraticus/iago/internal/workflow"
)

// LearnRequest is the request body for POST /api/iago/learn.
type LearnRequest struct {
	CurrentData map[string]string `json:"current_data"`
	FullText    string            `json:"full_text"`
}

// LearnResponse is the response body for POST /api/iago/learn.
type LearnResponse struct {
	LearnedCount int `json:"learned_count"`
}

// AnalyzeRequest is the request body for POST /api/iago/analyze.
type AnalyzeRequest struct {
	FullText string `json:"full_text"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ActorRequest identifies who performs a record operation.
type ActorRequest struct {
	User string     `json:"user"`
	Role model.Role `json:"role"`
}

// FieldsRequest carries field values for save and conclude.
type FieldsRequest struct {
	Fields map[string]string `json:"fields"`
	User   string            `json:"user"`
}

// OpenResponse is the response body for POST /api/records/:id/open.
type OpenResponse struct {
	Record         *model.Record `json:"record,omitempty"`
	LockedBy       string        `json:"locked_by,omitempty"`
	PreviousHolder string        `json:"previous_holder,omitempty"`
	Error          string        `json:"error,omitempty"`
	Granted        bool          `json:"granted"`
	Completed      bool          `json:"completed"`
	Stolen         bool          `json:"stolen"`
}

// ConcludeResponse is the response body for POST /api/records/:id/conclude.
type ConcludeResponse struct {
	LearnError   string `json:"learn_error,omitempty"`
	LearnedCount int    `json:"learned_count"`
}

// ReanalyzeResponse is the response body for POST /api/records/:id/reanalyze.
type ReanalyzeResponse struct {
	Changes []workflow.FieldChange `json:"changes"`
}

// ImportRequestBody is the request body for POST /api/records.
type ImportRequestBody struct {
	Fields         map[string]string `json:"fields"`
	RecognizedText string            `json:"recognized_text"`
	SourceFile     string            `json:"source_file"`
	Overwrite      bool              `json:"overwrite"`
}

// RecordListItem is one row of GET /api/records.
type RecordListItem struct {
	Lock *model.EditLock `json:"lock,omitempty"`
	model.Record
	EffectiveStatus model.RecordStatus `json:"effective_status"`
}
