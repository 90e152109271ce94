package job

import (
	"encoding/json"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
)

type Type string

const (
	TypeFundusAnalyze Type = "fundus_analyze"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Job struct {
	ID       uuid.UUID       `json:"id"`
	Type     Type            `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Status   Status          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Enqueued time.Time       `json:"enqueued_at"`
	Started  *time.Time      `json:"started_at,omitempty"`
	Finished *time.Time      `json:"finished_at,omitempty"`
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// Clone returns a copy safe to hand out while workers keep mutating the original.
func (j *Job) Clone() *Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	if j.Started != nil {
		t := *j.Started
		c.Started = &t
	}
	if j.Finished != nil {
		t := *j.Finished
		c.Finished = &t
	}
	return &c
}

// AnalyzePayload asks a worker to run the fundus pipeline on a stored image.
type AnalyzePayload struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
	UserID     uuid.UUID `json:"user_id"`
	ImageKey   string    `json:"image_key"`
	ImageName  string    `json:"image_name"`
	Preset     string    `json:"preset"`
}

func NewAnalyzeJob(p AnalyzePayload) (*Job, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyze payload: %w", err)
	}
	return &Job{Type: TypeFundusAnalyze, Payload: data}, nil
}

// DecodeAnalyze reads the payload of a fundus_analyze job.
func DecodeAnalyze(j *Job) (AnalyzePayload, error) {
	var p AnalyzePayload
	if j.Type != TypeFundusAnalyze {
		return p, fmt.Errorf("job %s has type %q, want %q", j.ID, j.Type, TypeFundusAnalyze)
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal analyze payload: %w", err)
	}
	if p.AnalysisID == uuid.Nil || p.ImageKey == "" {
		return p, fmt.Errorf("analyze payload missing analysis_id or image_key")
	}
	return p, nil
}
