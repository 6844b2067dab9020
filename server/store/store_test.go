package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/san-kum/rep-integrity/server/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"), 1, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func completedJob(id string, created time.Time) *models.AnalysisJob {
	finished := created.Add(3 * time.Second)
	return &models.AnalysisJob{
		ID:         id,
		Exercise:   "pushup",
		Source:     models.SourceVideo,
		Filename:   id + ".mp4",
		Athlete:    map[string]any{"name": "Asha", "age": float64(17)},
		Status:     models.JobCompleted,
		Progress:   1,
		CreatedAt:  created,
		FinishedAt: &finished,
		Result: &models.AnalysisResult{
			Exercise:       "pushup",
			Status:         models.StatusCompleted,
			TotalReps:      4,
			ValidReps:      3,
			FormScores:     []float64{0.97, 0.97, 0.5, 0.97},
			MeanFormScore:  0.8525,
			Repetitions:    []models.Repetition{{Index: 1, StartFrame: 8, EndFrame: 22, Valid: true}},
			SignalCoverage: 1,
			IntegrityScore: 0.6,
			CheatFlag:      true,
			Evidence: []models.EvidenceItem{{
				Kind: models.EvidenceFrameDuplication, FrameRange: models.FrameRange{First: 60, Last: 78}, Magnitude: 10,
			}},
			Integrity: &models.Verdict{Score: 0.6, CheatFlag: true, Policy: models.PolicyAnyEvidence, Threshold: 1},
			Metadata:  models.RunMetadata{FrameCount: 61, SampleStride: 2, Downscale: 0.75},
		},
	}
}

func TestMigrations(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestSaveAndGetRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	job := completedJob("job-1", time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveRun(ctx, job))

	got, err := s.GetRun(ctx, "job-1")
	require.NoError(t, err)
	if diff := cmp.Diff(job, got); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRunUpserts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	job := &models.AnalysisJob{
		ID:        "job-2",
		Exercise:  "situp",
		Source:    models.SourceCapture,
		Status:    models.JobProcessing,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveRun(ctx, job))

	job.Status = models.JobFailed
	job.Error = "pose service unavailable"
	require.NoError(t, s.SaveRun(ctx, job))

	got, err := s.GetRun(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "pose service unavailable", got.Error)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Athlete)

	n, err := s.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveRun(ctx, completedJob(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	all, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "job-4", all[0].ID)
	assert.Equal(t, "job-0", all[4].ID)
	assert.Equal(t, models.StatusCompleted, all[0].Status)
	assert.Equal(t, 4, all[0].TotalReps)
	assert.True(t, all[0].CheatFlag)
	assert.Equal(t, base.Add(4*time.Minute), all[0].CreatedAt)

	two, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}
