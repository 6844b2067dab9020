// Package framestore holds the ordered landmark stream of one run together
// with the raw frames it is paired with.
package framestore

import (
	"errors"
	"fmt"
	"sort"

	"github.com/san-kum/rep-integrity/server/models"
)

var (
	// ErrNoFrames means the pose collaborator produced no frames at all.
	ErrNoFrames = errors.New("capture has no landmark frames")
	// ErrNoRawFrames means the decoder produced no raw frames at all.
	ErrNoRawFrames = errors.New("capture has no raw frames")
	// ErrInvalidCapture covers ordering and pairing violations.
	ErrInvalidCapture = errors.New("invalid capture")
)

// DefaultSampling mirrors the decoder defaults: every 2nd frame, downscaled
// to 75%.
var DefaultSampling = models.Sampling{Stride: 2, Downscale: 0.75}

// Store is an immutable, frame-index ordered view over a capture.
type Store struct {
	frames   []models.LandmarkFrame
	raw      []*models.RawFrame
	sampling models.Sampling
}

// Shard is a half-open range [Start, End) of store positions.
type Shard struct {
	Start int
	End   int
}

// New validates the streams and pairs raw frames with landmark frames.
// Landmark frames must be strictly increasing in both FrameIndex and
// Timestamp. A landmark frame without a raw frame is allowed and is treated
// as a gap by duplication detection.
func New(frames []models.LandmarkFrame, raw []models.RawFrame, sampling models.Sampling) (*Store, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	if len(raw) == 0 {
		return nil, ErrNoRawFrames
	}

	if sampling.Stride <= 0 {
		sampling.Stride = DefaultSampling.Stride
	}
	if sampling.Downscale <= 0 {
		sampling.Downscale = DefaultSampling.Downscale
	}

	s := &Store{
		frames:   make([]models.LandmarkFrame, len(frames)),
		raw:      make([]*models.RawFrame, len(frames)),
		sampling: sampling,
	}
	copy(s.frames, frames)

	for i := 1; i < len(s.frames); i++ {
		prev, cur := s.frames[i-1], s.frames[i]
		if cur.FrameIndex <= prev.FrameIndex {
			return nil, fmt.Errorf("%w: frame_index %d follows %d", ErrInvalidCapture, cur.FrameIndex, prev.FrameIndex)
		}
		if cur.Timestamp <= prev.Timestamp {
			return nil, fmt.Errorf("%w: timestamp %.4f at frame %d does not increase", ErrInvalidCapture, cur.Timestamp, cur.FrameIndex)
		}
	}

	paired := make([]models.RawFrame, len(raw))
	copy(paired, raw)
	for i := range paired {
		rf := &paired[i]
		pos, ok := s.IndexOf(rf.FrameIndex)
		if !ok {
			return nil, fmt.Errorf("%w: raw frame %d has no landmark frame", ErrInvalidCapture, rf.FrameIndex)
		}
		if s.raw[pos] != nil {
			return nil, fmt.Errorf("%w: duplicate raw frame %d", ErrInvalidCapture, rf.FrameIndex)
		}
		if rf.Width <= 0 || rf.Height <= 0 || rf.Channels <= 0 || len(rf.Pixels) != rf.Width*rf.Height*rf.Channels {
			return nil, fmt.Errorf("%w: raw frame %d is %dx%dx%d with %d bytes",
				ErrInvalidCapture, rf.FrameIndex, rf.Width, rf.Height, rf.Channels, len(rf.Pixels))
		}
		s.raw[pos] = rf
	}

	return s, nil
}

// FromCapture builds a store from a decoded capture bundle.
func FromCapture(c *models.Capture) (*Store, error) {
	if c == nil {
		return nil, ErrNoFrames
	}
	return New(c.Frames, c.RawFrames, c.Sampling)
}

func (s *Store) Len() int {
	return len(s.frames)
}

func (s *Store) Sampling() models.Sampling {
	return s.sampling
}

// Frame returns the landmark frame at position i.
func (s *Store) Frame(i int) *models.LandmarkFrame {
	return &s.frames[i]
}

// Raw returns the raw frame paired with position i, or nil.
func (s *Store) Raw(i int) *models.RawFrame {
	return s.raw[i]
}

// RawCount is the number of landmark frames with a paired raw frame.
func (s *Store) RawCount() int {
	n := 0
	for _, r := range s.raw {
		if r != nil {
			n++
		}
	}
	return n
}

// Duration is the wall-clock span between the first and last sampled frame.
func (s *Store) Duration() float64 {
	return s.frames[len(s.frames)-1].Timestamp - s.frames[0].Timestamp
}

// IndexOf finds the store position of a frame index.
func (s *Store) IndexOf(frameIndex int) (int, bool) {
	i := sort.Search(len(s.frames), func(i int) bool {
		return s.frames[i].FrameIndex >= frameIndex
	})
	if i < len(s.frames) && s.frames[i].FrameIndex == frameIndex {
		return i, true
	}
	return 0, false
}

// Shards splits the store into at most n contiguous, non-empty ranges of
// near-equal size, in order.
func (s *Store) Shards(n int) []Shard {
	total := len(s.frames)
	if n <= 0 {
		n = 1
	}
	if n > total {
		n = total
	}

	shards := make([]Shard, 0, n)
	size := total / n
	rem := total % n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		shards = append(shards, Shard{Start: start, End: end})
		start = end
	}
	return shards
}
