package models

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Done reports whether the job reached a terminal state.
func (s JobStatus) Done() bool {
	return s == JobCompleted || s == JobFailed
}

type JobSource string

const (
	SourceCapture JobSource = "capture"
	SourceVideo   JobSource = "video"
)

type AnalysisJob struct {
	ID         string          `json:"job_id"`
	Exercise   string          `json:"exercise"`
	Source     JobSource       `json:"source"`
	Filename   string          `json:"filename,omitempty"`
	Athlete    map[string]any  `json:"athlete,omitempty"`
	Status     JobStatus       `json:"status"`
	Progress   float64         `json:"progress"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Result     *AnalysisResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// JobSummary is the row shape used by result listings. Like AnalysisResult,
// it carries no integrity_score or cheat_flag when Status is
// StatusInsufficientData.
type JobSummary struct {
	ID             string    `json:"job_id"`
	Exercise       string    `json:"exercise"`
	Filename       string    `json:"filename,omitempty"`
	Status         RunStatus `json:"status"`
	TotalReps      int       `json:"total_reps"`
	ValidReps      int       `json:"valid_reps"`
	IntegrityScore float64   `json:"integrity_score"`
	CheatFlag      bool      `json:"cheat_flag"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s JobSummary) MarshalJSON() ([]byte, error) {
	type plain JobSummary
	if s.Status != StatusInsufficientData {
		return json.Marshal(plain(s))
	}
	return json.Marshal(struct {
		plain
		IntegrityScore *float64 `json:"integrity_score,omitempty"`
		CheatFlag      *bool    `json:"cheat_flag,omitempty"`
	}{plain: plain(s)})
}

// JobEvent is pushed to progress subscribers on every job state change.
type JobEvent struct {
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`
	Error    string    `json:"error,omitempty"`
}
