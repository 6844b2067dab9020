package integrity

import (
	"fmt"
	"math"

	"github.com/san-kum/rep-integrity/server/models"
)

// FrameDiff is the difference between a sampled raw frame and its
// predecessor. Compared is false when either frame is missing.
type FrameDiff struct {
	FrameIndex int
	MSE        float64
	Compared   bool
}

// MSE is the mean squared per-byte difference of two raw frames. Frames of
// different geometry never count as similar and yield +Inf.
func MSE(a, b *models.RawFrame) float64 {
	if a.Width != b.Width || a.Height != b.Height || a.Channels != b.Channels || len(a.Pixels) != len(b.Pixels) {
		return math.Inf(1)
	}
	if len(a.Pixels) == 0 {
		return 0
	}

	var sum float64
	for i := range a.Pixels {
		d := float64(a.Pixels[i]) - float64(b.Pixels[i])
		sum += d * d
	}
	return sum / float64(len(a.Pixels))
}

// Diff compares cur against prev; nil frames leave the pair uncompared.
func Diff(prev, cur *models.RawFrame, frameIndex int) FrameDiff {
	if prev == nil || cur == nil {
		return FrameDiff{FrameIndex: frameIndex}
	}
	return FrameDiff{FrameIndex: frameIndex, MSE: MSE(prev, cur), Compared: true}
}

// DetectDuplication emits one item per contiguous run of frames that are
// near-identical to their predecessor. An uncompared pair ends a run.
func DetectDuplication(diffs []FrameDiff, cfg Config) []models.EvidenceItem {
	var items []models.EvidenceItem

	runStart, runLen := -1, 0
	flush := func(last int) {
		if runLen >= cfg.DuplicationMinRun && runLen > 0 {
			items = append(items, models.EvidenceItem{
				Kind:       models.EvidenceFrameDuplication,
				FrameRange: models.FrameRange{First: runStart, Last: last},
				Magnitude:  float64(runLen),
				Message: fmt.Sprintf("%d frame(s) %d-%d repeat the previous frame (MSE below %.1f)",
					runLen, runStart, last, cfg.DuplicationThreshold),
			})
		}
		runStart, runLen = -1, 0
	}

	lastDup := -1
	for _, d := range diffs {
		if d.Compared && d.MSE < cfg.DuplicationThreshold {
			if runLen == 0 {
				runStart = d.FrameIndex
			}
			runLen++
			lastDup = d.FrameIndex
			continue
		}
		if runLen > 0 {
			flush(lastDup)
		}
	}
	if runLen > 0 {
		flush(lastDup)
	}
	return items
}

// DuplicateFrames counts frames flagged as near-identical to their predecessor.
func DuplicateFrames(diffs []FrameDiff, cfg Config) int {
	n := 0
	for _, d := range diffs {
		if d.Compared && d.MSE < cfg.DuplicationThreshold {
			n++
		}
	}
	return n
}
