package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Analysis is one submitted fundus image and, once processed, its result.
type Analysis struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	UserID      uuid.UUID  `json:"user_id,omitempty" db:"user_id"`
	ImageName   string     `json:"image_name" db:"image_name"`
	ImageKey    string     `json:"image_key" db:"image_key"`
	ContentType string     `json:"content_type,omitempty" db:"content_type"`
	ImageSize   int64      `json:"image_size,omitempty" db:"image_size"`
	Preset      string     `json:"preset" db:"preset"`
	Status      string     `json:"status" db:"status"`
	Error       string     `json:"error,omitempty" db:"error"`
	JobID       *uuid.UUID `json:"job_id,omitempty" db:"job_id"`

	RiskScore     *float64 `json:"risk_score,omitempty" db:"risk_score"`
	RiskLevel     string   `json:"risk_level,omitempty" db:"risk_level"`
	DarkCount     int      `json:"dark_count" db:"dark_count"`
	BrightCount   int      `json:"bright_count" db:"bright_count"`
	DarkMaskKey   string   `json:"dark_mask_key,omitempty" db:"dark_mask_key"`
	BrightMaskKey string   `json:"bright_mask_key,omitempty" db:"bright_mask_key"`
	ReportKey     string   `json:"report_key,omitempty" db:"report_key"`

	// Report is the JSON document produced by report.Assemble.
	Report json.RawMessage `json:"report,omitempty" db:"report"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Outcome is what a worker writes back when an analysis finishes.
type Outcome struct {
	RiskScore     float64
	RiskLevel     string
	DarkCount     int
	BrightCount   int
	DarkMaskKey   string
	BrightMaskKey string
	ReportKey     string
	Report        json.RawMessage
}

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Finished reports whether the analysis reached a terminal status.
func (a *Analysis) Finished() bool {
	return a.Status == StatusCompleted || a.Status == StatusFailed
}
