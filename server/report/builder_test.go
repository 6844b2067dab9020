package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/rep-integrity/server/models"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	reps := []models.Repetition{
		{Index: 1, EndTime: 1.0, FormScore: 1.0, Valid: true},
		{Index: 2, EndTime: 2.0, FormScore: 0.5, Valid: false},
		{Index: 3, EndTime: 3.0, FormScore: 0.9, Valid: true},
	}
	verdict := models.Verdict{
		Score:     0.6,
		CheatFlag: true,
		Policy:    models.PolicyAnyEvidence,
		Threshold: 1,
		Evidence:  []models.EvidenceItem{{Kind: models.EvidenceFrameDuplication, Magnitude: 2}},
		Reasons:   []string{"frame duplication"},
	}

	res := Build(Input{
		Exercise:       "pushup",
		Repetitions:    reps,
		Verdict:        verdict,
		SignalCoverage: 0.95,
		Metadata:       models.RunMetadata{FrameCount: 90, SampleStride: 2, Downscale: 0.75},
	})

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.TotalReps)
	assert.Equal(t, 2, res.ValidReps)
	assert.LessOrEqual(t, res.ValidReps, res.TotalReps)
	assert.Equal(t, []float64{1.0, 0.5, 0.9}, res.FormScores)
	assert.InDelta(t, 0.8, res.MeanFormScore, 1e-9)
	assert.Equal(t, []float64{1, 2, 3}, res.Metadata.RepTimestamps)
	assert.Equal(t, 0.6, res.IntegrityScore)
	assert.True(t, res.CheatFlag)
	require.NotNil(t, res.Integrity)
	assert.Equal(t, res.CheatFlag, res.Integrity.CheatFlag)
	assert.Equal(t, res.Evidence, res.Integrity.Evidence)

	// The result must not alias its inputs.
	reps[0].FormScore = 0
	verdict.Evidence[0].Magnitude = 99
	assert.Equal(t, 1.0, res.Repetitions[0].FormScore)
	assert.Equal(t, 2.0, res.Evidence[0].Magnitude)
	assert.Equal(t, 2.0, res.Integrity.Evidence[0].Magnitude)
}

func TestBuildWithoutRepetitions(t *testing.T) {
	t.Parallel()

	res := Build(Input{Exercise: "situp", Verdict: models.Verdict{Score: 1}})
	assert.Zero(t, res.TotalReps)
	assert.Zero(t, res.MeanFormScore)
	assert.NotNil(t, res.FormScores)
	assert.NotNil(t, res.Repetitions)
}

func TestInsufficientData(t *testing.T) {
	t.Parallel()

	res := InsufficientData("pushup", "only 4 defined samples", 0.1, models.RunMetadata{FrameCount: 40})
	assert.Equal(t, models.StatusInsufficientData, res.Status)
	assert.Nil(t, res.Integrity)
	assert.Zero(t, res.TotalReps)
	assert.False(t, res.CheatFlag)
	assert.Equal(t, "only 4 defined samples", res.Reason)
	assert.Equal(t, 40, res.Metadata.FrameCount)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &models.AnalysisJob{ID: "j1", Exercise: "pushup", Filename: "a.mp4", CreatedAt: created}
	assert.Equal(t, models.JobSummary{ID: "j1", Exercise: "pushup", Filename: "a.mp4", CreatedAt: created}, Summarize(job))

	job.Result = &models.AnalysisResult{Status: models.StatusCompleted, TotalReps: 5, ValidReps: 4, IntegrityScore: 1}
	s := Summarize(job)
	assert.Equal(t, 5, s.TotalReps)
	assert.Equal(t, models.StatusCompleted, s.Status)
}
