package models

import "encoding/json"

// RepState is the phase of the two-state repetition cycle.
type RepState string

const (
	StateUp   RepState = "UP"
	StateDown RepState = "DOWN"
)

// Repetition is one completed DOWN->UP cycle.
type Repetition struct {
	Index      int     `json:"rep_index"`
	StartFrame int     `json:"start_frame"`
	EndFrame   int     `json:"end_frame"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Extremum   float64 `json:"extremum"`
	Coverage   float64 `json:"coverage"`
	FormScore  float64 `json:"form_score"`
	Valid      bool    `json:"valid"`
}

type EvidenceKind string

const (
	EvidenceFrameDuplication  EvidenceKind = "frame_duplication"
	EvidenceFaceInconsistency EvidenceKind = "face_inconsistency"
	EvidenceRepRateViolation  EvidenceKind = "rep_rate_violation"
)

// EvidenceKinds lists every kind in reporting order.
var EvidenceKinds = []EvidenceKind{
	EvidenceFrameDuplication,
	EvidenceFaceInconsistency,
	EvidenceRepRateViolation,
}

type FrameRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// EvidenceItem is a localized anomaly signal. Items are never mutated after
// a collector emits them.
type EvidenceItem struct {
	Kind       EvidenceKind `json:"kind"`
	FrameRange FrameRange   `json:"frame_range"`
	Magnitude  float64      `json:"magnitude"`
	Message    string       `json:"message"`
}

type CheatPolicy string

const (
	// PolicyAnyEvidence flags a run as soon as any evidence item exists.
	PolicyAnyEvidence CheatPolicy = "any_evidence"
	// PolicyScoreBelow flags a run when its score is strictly below a threshold.
	PolicyScoreBelow CheatPolicy = "score_below"
)

// Verdict is the integrity scorer's output.
type Verdict struct {
	Score     float64        `json:"score"`
	CheatFlag bool           `json:"cheat_flag"`
	Policy    CheatPolicy    `json:"policy"`
	Threshold float64        `json:"threshold"`
	Evidence  []EvidenceItem `json:"evidence"`
	Reasons   []string       `json:"reasons"`
}

type RunStatus string

const (
	StatusCompleted        RunStatus = "completed"
	StatusInsufficientData RunStatus = "insufficient_data"
)

type RunMetadata struct {
	FrameCount      int       `json:"frame_count"`
	DefinedFrames   int       `json:"defined_frames"`
	RawFrames       int       `json:"raw_frames"`
	Duration        float64   `json:"duration"`
	SampleStride    int       `json:"sample_stride"`
	Downscale       float64   `json:"downscale"`
	DuplicateFrames int       `json:"duplicate_frames"`
	FaceDetections  int       `json:"face_detections"`
	RepTimestamps   []float64 `json:"rep_timestamps"`
}

// AnalysisResult is the terminal record of one engine run.
//
// Integrity is nil when Status is StatusInsufficientData. No verdict exists
// for such a run, so integrity_score and cheat_flag are left out of its JSON
// encoding and the in-memory IntegrityScore and CheatFlag hold zero values
// that must not be read as a verdict.
type AnalysisResult struct {
	Exercise       string         `json:"exercise"`
	Status         RunStatus      `json:"status"`
	Reason         string         `json:"reason,omitempty"`
	TotalReps      int            `json:"total_reps"`
	ValidReps      int            `json:"valid_reps"`
	FormScores     []float64      `json:"form_scores"`
	MeanFormScore  float64        `json:"mean_form_score"`
	Repetitions    []Repetition   `json:"repetitions"`
	SignalCoverage float64        `json:"signal_coverage"`
	IntegrityScore float64        `json:"integrity_score"`
	CheatFlag      bool           `json:"cheat_flag"`
	Evidence       []EvidenceItem `json:"evidence"`
	Integrity      *Verdict       `json:"integrity,omitempty"`
	Metadata       RunMetadata    `json:"metadata"`
}

// MarshalJSON drops the flat verdict fields from insufficient-data results.
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	type plain AnalysisResult
	if r.Status != StatusInsufficientData {
		return json.Marshal(plain(r))
	}
	return json.Marshal(struct {
		plain
		IntegrityScore *float64 `json:"integrity_score,omitempty"`
		CheatFlag      *bool    `json:"cheat_flag,omitempty"`
	}{plain: plain(r)})
}
