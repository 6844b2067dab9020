package integrity

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/rep-integrity/server/models"
)

func frame(idx int, fill func(i int) byte) *models.RawFrame {
	px := make([]byte, 8*6*3)
	for i := range px {
		px[i] = fill(i)
	}
	return &models.RawFrame{FrameIndex: idx, Width: 8, Height: 6, Channels: 3, Pixels: px}
}

// noisy returns independent pseudo-random pixels per seed.
func noisy(seed int) func(int) byte {
	rng := rand.New(rand.NewSource(int64(seed) + 1))
	return func(int) byte { return byte(rng.Intn(256)) }
}

func diffsOf(frames []*models.RawFrame) []FrameDiff {
	out := make([]FrameDiff, len(frames))
	for i, f := range frames {
		idx := i
		if f != nil {
			idx = f.FrameIndex
		}
		if i == 0 {
			out[i] = FrameDiff{FrameIndex: idx}
			continue
		}
		out[i] = Diff(frames[i-1], f, idx)
	}
	return out
}

func TestMSE(t *testing.T) {
	t.Parallel()

	a := frame(0, func(int) byte { return 10 })
	b := frame(1, func(int) byte { return 20 })
	assert.Equal(t, 0.0, MSE(a, a))
	assert.Equal(t, 100.0, MSE(a, b))

	small := &models.RawFrame{Width: 4, Height: 6, Channels: 3, Pixels: make([]byte, 72)}
	assert.True(t, math.IsInf(MSE(a, small), 1))
}

func TestDiffSkipsMissingFrames(t *testing.T) {
	t.Parallel()

	d := Diff(nil, frame(3, noisy(3)), 3)
	assert.False(t, d.Compared)
	assert.Equal(t, 3, d.FrameIndex)
}

func TestDetectDuplicationSingleRun(t *testing.T) {
	t.Parallel()

	var frames []*models.RawFrame
	for i := 0; i < 10; i++ {
		frames = append(frames, frame(i, noisy(i)))
	}
	last := frames[9]
	for i := 10; i < 20; i++ {
		frames = append(frames, &models.RawFrame{
			FrameIndex: i, Width: last.Width, Height: last.Height, Channels: last.Channels,
			Pixels: append([]byte(nil), last.Pixels...),
		})
	}

	cfg := DefaultConfig()
	diffs := diffsOf(frames)
	items := DetectDuplication(diffs, cfg)
	require.Len(t, items, 1)
	assert.Equal(t, models.EvidenceFrameDuplication, items[0].Kind)
	assert.Equal(t, models.FrameRange{First: 10, Last: 19}, items[0].FrameRange)
	assert.Equal(t, 10.0, items[0].Magnitude)
	assert.Equal(t, 10, DuplicateFrames(diffs, cfg))
}

func TestDetectDuplicationBrokenByMissingFrame(t *testing.T) {
	t.Parallel()

	still := func(int) byte { return 42 }
	frames := []*models.RawFrame{
		frame(0, noisy(1)),
		frame(1, still),
		frame(2, still),
		nil,
		frame(4, still),
		frame(5, still),
		frame(6, noisy(9)),
	}
	items := DetectDuplication(diffsOf(frames), DefaultConfig())
	require.Len(t, items, 2)
	assert.Equal(t, models.FrameRange{First: 2, Last: 2}, items[0].FrameRange)
	assert.Equal(t, models.FrameRange{First: 5, Last: 5}, items[1].FrameRange)
}

func TestDetectDuplicationMinRun(t *testing.T) {
	t.Parallel()

	still := func(int) byte { return 7 }
	frames := []*models.RawFrame{frame(0, still), frame(1, still), frame(2, noisy(2))}
	cfg := DefaultConfig()
	cfg.DuplicationMinRun = 2
	assert.Empty(t, DetectDuplication(diffsOf(frames), cfg))
}

func TestDetectDuplicationCleanStream(t *testing.T) {
	t.Parallel()

	var frames []*models.RawFrame
	for i := 0; i < 30; i++ {
		frames = append(frames, frame(i, noisy(i)))
	}
	assert.Empty(t, DetectDuplication(diffsOf(frames), DefaultConfig()))
}

func TestFaceInconsistency(t *testing.T) {
	t.Parallel()

	span := models.FrameRange{First: 0, Last: 58}
	cfg := DefaultConfig()

	var steady, jumpy []FaceSample
	for i := 0; i < 30; i++ {
		steady = append(steady, FaceSample{FrameIndex: i * 2, X: 0.5 + 0.001*float64(i%3), Y: 0.3})
		x := 0.2
		if i >= 15 {
			x = 0.8
		}
		jumpy = append(jumpy, FaceSample{FrameIndex: i * 2, X: x, Y: 0.3})
	}

	assert.Empty(t, DetectFaceInconsistency(steady, span, cfg))

	items := DetectFaceInconsistency(jumpy, span, cfg)
	require.Len(t, items, 1)
	assert.Equal(t, span, items[0].FrameRange)
	// var(X) = 0.09, var(Y) = 0
	assert.InDelta(t, 0.045, items[0].Magnitude, 1e-9)
}

func TestFaceInconsistencyNeedsEnoughSamples(t *testing.T) {
	t.Parallel()

	samples := []FaceSample{{X: 0}, {X: 1}, {X: 0}, {X: 1}, {X: 0}}
	assert.Empty(t, DetectFaceInconsistency(samples, models.FrameRange{Last: 4}, DefaultConfig()))
	samples = append(samples, FaceSample{X: 1})
	assert.Len(t, DetectFaceInconsistency(samples, models.FrameRange{Last: 5}, DefaultConfig()), 1)
}

func TestRateViolations(t *testing.T) {
	t.Parallel()

	var fast []models.Repetition
	for i := 1; i <= 5; i++ {
		end := 0.2 * float64(i)
		fast = append(fast, models.Repetition{Index: i, EndFrame: i * 6, EndTime: end})
	}
	items := DetectRateViolations(fast, DefaultConfig())
	require.Len(t, items, 4)
	for i, it := range items {
		assert.Equal(t, models.EvidenceRepRateViolation, it.Kind)
		assert.Equal(t, models.FrameRange{First: (i + 1) * 6, Last: (i + 2) * 6}, it.FrameRange)
		assert.InDelta(t, 5.0, it.Magnitude, 1e-9)
	}

	slow := []models.Repetition{{Index: 1, EndTime: 1}, {Index: 2, EndTime: 2}, {Index: 3, EndTime: 2.5}}
	assert.Empty(t, DetectRateViolations(slow, DefaultConfig()))
}

func TestScoreAppliesEachPenaltyOnce(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	dup := models.EvidenceItem{Kind: models.EvidenceFrameDuplication, Magnitude: 3}
	rate := models.EvidenceItem{Kind: models.EvidenceRepRateViolation, Magnitude: 5}
	face := models.EvidenceItem{Kind: models.EvidenceFaceInconsistency, Magnitude: 0.05}

	tests := []struct {
		name     string
		evidence []models.EvidenceItem
		score    float64
	}{
		{"clean", nil, 1.0},
		{"one duplication run", []models.EvidenceItem{dup}, 0.6},
		{"many duplication runs", []models.EvidenceItem{dup, dup, dup, dup}, 0.6},
		{"duplication and face", []models.EvidenceItem{dup, face}, 0.3},
		{"everything", []models.EvidenceItem{dup, face, rate, rate}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Score(tt.evidence, cfg)
			assert.InDelta(t, tt.score, v.Score, 1e-9)
			assert.GreaterOrEqual(t, v.Score, 0.0)
			assert.LessOrEqual(t, v.Score, 1.0)
			assert.Equal(t, len(tt.evidence) > 0, v.CheatFlag)
			assert.Equal(t, v.Score < v.Threshold, v.CheatFlag)
			assert.Equal(t, models.PolicyAnyEvidence, v.Policy)
			if diff := cmp.Diff(append([]models.EvidenceItem{}, tt.evidence...), v.Evidence); diff != "" {
				t.Errorf("evidence mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScoreBelowPolicy(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Policy = models.PolicyScoreBelow
	cfg.PassThreshold = 0.5

	dup := models.EvidenceItem{Kind: models.EvidenceFrameDuplication, Magnitude: 1}
	face := models.EvidenceItem{Kind: models.EvidenceFaceInconsistency, Magnitude: 0.05}

	v := Score([]models.EvidenceItem{dup}, cfg)
	assert.InDelta(t, 0.6, v.Score, 1e-9)
	assert.False(t, v.CheatFlag)
	assert.Equal(t, 0.5, v.Threshold)

	v = Score([]models.EvidenceItem{dup, face}, cfg)
	assert.True(t, v.CheatFlag)
	assert.Len(t, v.Reasons, 2)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig().Clone()
	delete(cfg.Penalties, models.EvidenceFaceInconsistency)
	cfg.Policy = "sometimes"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing penalty for face_inconsistency")
	assert.Contains(t, err.Error(), `unknown cheat policy "sometimes"`)

	// Clone must not share the penalty map.
	assert.Contains(t, DefaultConfig().Penalties, models.EvidenceFaceInconsistency)

	for _, p := range []float64{0, -0.1, 1.5} {
		cfg := DefaultConfig().Clone()
		cfg.Penalties[models.EvidenceFrameDuplication] = p
		err := cfg.Validate()
		require.Error(t, err, "penalty %v", p)
		assert.Contains(t, err.Error(), "penalty for frame_duplication must be within (0,1]")
	}

	cfg = DefaultConfig().Clone()
	cfg.Penalties["frame_dup"] = 0.9
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown evidence kind "frame_dup" in penalties`)
}

func TestSmallestPenaltyStillFlagsBelowThreshold(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig().Clone()
	cfg.Penalties[models.EvidenceFrameDuplication] = 0.01
	require.NoError(t, cfg.Validate())

	v := Score([]models.EvidenceItem{{Kind: models.EvidenceFrameDuplication, Magnitude: 1}}, cfg)
	assert.True(t, v.CheatFlag)
	assert.Less(t, v.Score, v.Threshold)
}
