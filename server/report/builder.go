// Package report assembles the terminal analysis record. It makes no
// decisions and performs no I/O.
package report

import (
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/rep-integrity/server/models"
)

// Input is everything a completed run produced.
type Input struct {
	Exercise       string
	Repetitions    []models.Repetition
	Verdict        models.Verdict
	SignalCoverage float64
	Metadata       models.RunMetadata
}

// Build assembles a completed result. Slices are copied so the result
// shares no memory with its inputs.
func Build(in Input) models.AnalysisResult {
	reps := append([]models.Repetition{}, in.Repetitions...)

	scores := make([]float64, len(reps))
	timestamps := make([]float64, len(reps))
	valid := 0
	for i, r := range reps {
		scores[i] = r.FormScore
		timestamps[i] = r.EndTime
		if r.Valid {
			valid++
		}
	}

	mean := 0.0
	if len(scores) > 0 {
		mean = stat.Mean(scores, nil)
	}

	verdict := in.Verdict
	verdict.Evidence = append([]models.EvidenceItem{}, in.Verdict.Evidence...)
	verdict.Reasons = append([]string{}, in.Verdict.Reasons...)

	meta := in.Metadata
	meta.RepTimestamps = timestamps

	return models.AnalysisResult{
		Exercise:       in.Exercise,
		Status:         models.StatusCompleted,
		TotalReps:      len(reps),
		ValidReps:      valid,
		FormScores:     scores,
		MeanFormScore:  mean,
		Repetitions:    reps,
		SignalCoverage: in.SignalCoverage,
		IntegrityScore: verdict.Score,
		CheatFlag:      verdict.CheatFlag,
		Evidence:       append([]models.EvidenceItem{}, verdict.Evidence...),
		Integrity:      &verdict,
		Metadata:       meta,
	}
}

// InsufficientData records a run that had too little signal to judge. No
// verdict is attached.
func InsufficientData(exercise, reason string, coverage float64, meta models.RunMetadata) models.AnalysisResult {
	meta.RepTimestamps = []float64{}
	return models.AnalysisResult{
		Exercise:       exercise,
		Status:         models.StatusInsufficientData,
		Reason:         reason,
		FormScores:     []float64{},
		Repetitions:    []models.Repetition{},
		SignalCoverage: coverage,
		Evidence:       []models.EvidenceItem{},
		Metadata:       meta,
	}
}

// Summarize reduces a job to its listing row.
func Summarize(job *models.AnalysisJob) models.JobSummary {
	s := models.JobSummary{
		ID:        job.ID,
		Exercise:  job.Exercise,
		Filename:  job.Filename,
		CreatedAt: job.CreatedAt,
	}
	if job.Result != nil {
		s.Status = job.Result.Status
		s.TotalReps = job.Result.TotalReps
		s.ValidReps = job.Result.ValidReps
		s.IntegrityScore = job.Result.IntegrityScore
		s.CheatFlag = job.Result.CheatFlag
	}
	return s
}
