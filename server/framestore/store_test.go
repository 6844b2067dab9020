package framestore

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/rep-integrity/server/models"
)

func frames(n int) []models.LandmarkFrame {
	out := make([]models.LandmarkFrame, n)
	for i := range out {
		out[i] = models.LandmarkFrame{
			FrameIndex: i * 2,
			Timestamp:  float64(i) / 15,
			Present:    true,
			Landmarks: map[string]models.Landmark{
				models.Nose: {X: 0.5, Y: 0.2, Confidence: 0.9},
			},
		}
	}
	return out
}

func raws(fs []models.LandmarkFrame) []models.RawFrame {
	out := make([]models.RawFrame, len(fs))
	for i, f := range fs {
		out[i] = models.RawFrame{FrameIndex: f.FrameIndex, Width: 2, Height: 2, Channels: 1, Pixels: []byte{1, 2, 3, byte(i)}}
	}
	return out
}

func TestNew(t *testing.T) {
	t.Parallel()

	fs := frames(5)
	s, err := New(fs, raws(fs), models.Sampling{})
	require.NoError(t, err)

	assert.Equal(t, 5, s.Len())
	assert.Equal(t, 5, s.RawCount())
	assert.Equal(t, DefaultSampling, s.Sampling())
	assert.InDelta(t, 4.0/15, s.Duration(), 1e-12)
	assert.Equal(t, 6, s.Frame(3).FrameIndex)
	assert.Equal(t, 6, s.Raw(3).FrameIndex)

	pos, ok := s.IndexOf(4)
	require.True(t, ok)
	assert.Equal(t, 2, pos)
	_, ok = s.IndexOf(5)
	assert.False(t, ok)
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	fs := frames(3)

	_, err := New(nil, raws(fs), models.Sampling{})
	assert.ErrorIs(t, err, ErrNoFrames)

	_, err = New(fs, nil, models.Sampling{})
	assert.ErrorIs(t, err, ErrNoRawFrames)

	unordered := frames(3)
	unordered[2].FrameIndex = 1
	_, err = New(unordered, raws(fs), models.Sampling{})
	assert.ErrorIs(t, err, ErrInvalidCapture)

	stalled := frames(3)
	stalled[2].Timestamp = stalled[1].Timestamp
	_, err = New(stalled, raws(fs), models.Sampling{})
	assert.ErrorIs(t, err, ErrInvalidCapture)

	orphan := raws(fs)
	orphan[0].FrameIndex = 99
	_, err = New(fs, orphan, models.Sampling{})
	assert.ErrorIs(t, err, ErrInvalidCapture)

	dup := raws(fs)
	dup[1].FrameIndex = dup[0].FrameIndex
	_, err = New(fs, dup, models.Sampling{})
	assert.ErrorIs(t, err, ErrInvalidCapture)

	short := raws(fs)
	short[0].Pixels = short[0].Pixels[:3]
	_, err = New(fs, short, models.Sampling{})
	assert.ErrorIs(t, err, ErrInvalidCapture)
}

func TestMissingRawFrameIsGap(t *testing.T) {
	t.Parallel()

	fs := frames(4)
	rs := raws(fs)
	s, err := New(fs, append(rs[:1], rs[2:]...), models.Sampling{Stride: 3, Downscale: 0.5})
	require.NoError(t, err)

	assert.Nil(t, s.Raw(1))
	assert.Equal(t, 3, s.RawCount())
	assert.Equal(t, models.Sampling{Stride: 3, Downscale: 0.5}, s.Sampling())
}

func TestShards(t *testing.T) {
	t.Parallel()

	fs := frames(10)
	s, err := New(fs, raws(fs), models.Sampling{})
	require.NoError(t, err)

	shards := s.Shards(3)
	require.Len(t, shards, 3)
	assert.Equal(t, []Shard{{0, 4}, {4, 7}, {7, 10}}, shards)

	assert.Len(t, s.Shards(50), 10)
	assert.Equal(t, []Shard{{0, 10}}, s.Shards(0))
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	fs := frames(3)
	capture := &models.Capture{
		Exercise:  "pushup",
		Sampling:  models.Sampling{Stride: 2, Downscale: 0.75},
		Frames:    fs,
		RawFrames: raws(fs),
	}

	for _, format := range []Format{FormatJSON, FormatMsgpack} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, capture, format))

			got, err := Decode(&buf, format)
			require.NoError(t, err)
			if diff := cmp.Diff(capture, got); diff != "" {
				t.Errorf("capture mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatDetection(t *testing.T) {
	t.Parallel()

	f, err := FormatFromContentType("application/msgpack")
	require.NoError(t, err)
	assert.Equal(t, FormatMsgpack, f)

	f, err = FormatFromContentType("application/json; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = FormatFromContentType("text/plain")
	assert.Error(t, err)

	f, err = FormatFromPath("run/capture.MSGPACK")
	require.NoError(t, err)
	assert.Equal(t, FormatMsgpack, f)

	_, err = FormatFromPath("capture.mp4")
	assert.Error(t, err)
}
