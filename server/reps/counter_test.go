package reps

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/rep-integrity/server/models"
)

var gap = math.NaN()

// seq builds samples at 30 fps; NaN values become gaps.
func seq(values ...float64) []Sample {
	out := make([]Sample, len(values))
	for i, v := range values {
		out[i] = Sample{FrameIndex: i, Time: float64(i) / 30, Confidence: 1}
		if !math.IsNaN(v) {
			out[i].Value = v
			out[i].Defined = true
		}
	}
	return out
}

var pushupCycle = []float64{160, 120, 100, 80, 70, 80, 100, 120, 160}

func repeatCycle(cycle []float64, n int) []float64 {
	var out []float64
	for i := 0; i < n; i++ {
		out = append(out, cycle...)
	}
	return out
}

func TestCountsEveryCompletedCycle(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 3, 7, 12} {
		reps := Count(seq(repeatCycle(pushupCycle, n)...), PushUp(), DefaultScoringConfig())
		assert.Len(t, reps, n, "cycles=%d", n)
		for i, r := range reps {
			assert.Equal(t, i+1, r.Index)
			assert.True(t, r.Valid)
			assert.InDelta(t, 1.0, r.FormScore, 1e-9)
		}
	}
}

func TestHysteresisSuppressesOscillation(t *testing.T) {
	t.Parallel()

	var values []float64
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			values = append(values, 95)
		} else {
			values = append(values, 105)
		}
	}
	assert.Empty(t, Count(seq(values...), PushUp(), DefaultScoringConfig()))

	// Entering DOWN once and bouncing inside the gap is still one rep at most.
	values = append([]float64{160, 85}, values...)
	values = append(values, 150)
	assert.Len(t, Count(seq(values...), PushUp(), DefaultScoringConfig()), 1)
}

func TestDanglingDownIsNotCounted(t *testing.T) {
	t.Parallel()

	c := NewCounter(PushUp(), DefaultScoringConfig())
	for _, s := range seq(160, 120, 80, 70, 75) {
		c.Update(s)
	}
	assert.Equal(t, models.StateDown, c.State())
	assert.Empty(t, c.Repetitions())
}

func TestGapsHoldState(t *testing.T) {
	t.Parallel()

	reps := Count(seq(160, 80, gap, gap, gap, 70, gap, 150), PushUp(), DefaultScoringConfig())
	require.Len(t, reps, 1)

	r := reps[0]
	assert.Equal(t, 1, r.StartFrame)
	assert.Equal(t, 7, r.EndFrame)
	assert.Equal(t, 70.0, r.Extremum)
	assert.InDelta(t, 3.0/7.0, r.Coverage, 1e-9)
	assert.InDelta(t, 0.6+0.4*3.0/7.0, r.FormScore, 1e-9)
}

func TestGapHeavyPushupSequence(t *testing.T) {
	t.Parallel()

	var values []float64
	for rep := 0; rep < 10; rep++ {
		for k := 0; k < 20; k++ {
			values = append(values, 125+55*math.Cos(2*math.Pi*float64(k)/20))
		}
	}
	for i := range values {
		if m := i % 10; m == 1 || m == 4 || m == 7 {
			values[i] = gap
		}
	}

	reps := Count(seq(values...), PushUp(), DefaultScoringConfig())
	require.Len(t, reps, 10)
	for _, r := range reps {
		assert.Less(t, r.Coverage, 1.0)
		assert.Less(t, r.FormScore, 1.0)
	}
}

func TestFormScoring(t *testing.T) {
	t.Parallel()

	shallow := Count(seq(160, 88, 86, 88, 150), PushUp(), DefaultScoringConfig())
	require.Len(t, shallow, 1)
	assert.InDelta(t, 0.6*0.2+0.4, shallow[0].FormScore, 1e-9)
	assert.False(t, shallow[0].Valid)

	deep := Count(seq(160, 60, 150), PushUp(), DefaultScoringConfig())
	require.Len(t, deep, 1)
	assert.Equal(t, 1.0, deep[0].FormScore)
	assert.True(t, deep[0].Valid)

	strict := ScoringConfig{FormPassThreshold: 1.0, DepthWeight: 0.6}
	assert.False(t, Count(seq(160, 60, 150), PushUp(), strict)[0].Valid, "score must exceed the threshold")
}

func TestSitUpIncreasingSignal(t *testing.T) {
	t.Parallel()

	cycle := []float64{0, 0.1, 0.3, 0.5, 0.3, 0.1, 0}
	reps := Count(seq(repeatCycle(cycle, 4)...), SitUp(), DefaultScoringConfig())
	require.Len(t, reps, 4)
	assert.Equal(t, 0.5, reps[0].Extremum)
	assert.True(t, reps[0].Valid)

	// 0.17 sits inside the 0.15/0.20 gap.
	assert.Empty(t, Count(seq(0, 0.17, 0.19, 0.16, 0.18, 0), SitUp(), DefaultScoringConfig()))
}

func TestInvariantsOnRandomSequences(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := 50 + rng.Intn(400)
		values := make([]float64, n)
		v := 150.0
		for i := range values {
			v = math.Max(40, math.Min(180, v+rng.NormFloat64()*15))
			values[i] = v
			if rng.Float64() < 0.2 {
				values[i] = gap
			}
		}

		reps := Count(seq(values...), PushUp(), DefaultScoringConfig())
		valid := 0
		for i, r := range reps {
			if r.Valid {
				valid++
			}
			assert.GreaterOrEqual(t, r.FormScore, 0.0)
			assert.LessOrEqual(t, r.FormScore, 1.0)
			assert.Less(t, r.StartFrame, r.EndFrame)
			if i > 0 {
				assert.Greater(t, r.StartFrame, reps[i-1].EndFrame)
			}
		}
		assert.LessOrEqual(t, valid, len(reps))
	}
}
