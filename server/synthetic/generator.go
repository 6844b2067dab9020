// Package synthetic generates deterministic exercise captures for tests,
// demos and the synth command.
package synthetic

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/san-kum/rep-integrity/server/models"
)

var ErrInvalidOptions = errors.New("invalid synthetic options")

// Options describes the capture to generate. Durations are in seconds and
// frame counts refer to sampled frames.
type Options struct {
	Exercise  string
	Reps      int
	Seconds   float64
	FPS       float64
	Stride    int
	Downscale float64
	// Width and Height are the source video dimensions before downscaling.
	Width  int
	Height int

	// Duplicate freezes this many sampled frames starting at DuplicateAt,
	// repeating the frame before them as a replayed segment would.
	Duplicate   int
	DuplicateAt int
	// GapRatio is the share of sampled frames where no person is detected.
	GapRatio float64
	// FaceShift moves the face sideways from FaceShiftAt onwards, as a
	// splice of two recordings would.
	FaceShift   float64
	FaceShiftAt int

	Seed int64
}

func DefaultOptions() Options {
	return Options{
		Exercise:    "pushup",
		Reps:        4,
		Seconds:     4,
		FPS:         30,
		Stride:      2,
		Downscale:   0.75,
		Width:       64,
		Height:      48,
		DuplicateAt: -1,
		FaceShiftAt: -1,
		Seed:        1,
	}
}

func (o Options) validate() error {
	switch {
	case o.Exercise != "pushup" && o.Exercise != "situp":
		return fmt.Errorf("%w: exercise %q has no generator", ErrInvalidOptions, o.Exercise)
	case o.Reps < 0:
		return fmt.Errorf("%w: reps must not be negative", ErrInvalidOptions)
	case o.Seconds <= 0 || o.FPS <= 0 || o.Stride <= 0:
		return fmt.Errorf("%w: seconds, fps and stride must be positive", ErrInvalidOptions)
	case o.Downscale <= 0 || o.Downscale > 1:
		return fmt.Errorf("%w: downscale must be within (0,1]", ErrInvalidOptions)
	case o.Width <= 0 || o.Height <= 0:
		return fmt.Errorf("%w: frame size must be positive", ErrInvalidOptions)
	case o.GapRatio < 0 || o.GapRatio >= 1:
		return fmt.Errorf("%w: gap ratio must be within [0,1)", ErrInvalidOptions)
	case o.Duplicate < 0:
		return fmt.Errorf("%w: duplicate must not be negative", ErrInvalidOptions)
	}
	return nil
}

// SampledFrames is the number of frames Generate produces: every Stride-th
// source frame from 0 to Seconds inclusive.
func (o Options) SampledFrames() int {
	return int(math.Floor(o.Seconds*o.FPS/float64(o.Stride))) + 1
}

// Generate builds a capture whose motion completes exactly Reps cycles.
// Equal options always produce an identical capture.
func Generate(opts Options) (*models.Capture, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	n := opts.SampledFrames()
	w := int(math.Round(float64(opts.Width) * opts.Downscale))
	h := int(math.Round(float64(opts.Height) * opts.Downscale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dupStart := opts.DuplicateAt
	if dupStart < 1 {
		dupStart = n / 2
	}
	faceShiftAt := opts.FaceShiftAt
	if faceShiftAt < 0 {
		faceShiftAt = n / 2
	}

	pose := pushUpPose
	if opts.Exercise == "situp" {
		pose = sitUpPose
	}

	gaps := rand.New(rand.NewSource(opts.Seed))
	capture := &models.Capture{
		Exercise:  opts.Exercise,
		Sampling:  models.Sampling{Stride: opts.Stride, Downscale: opts.Downscale},
		Frames:    make([]models.LandmarkFrame, 0, n),
		RawFrames: make([]models.RawFrame, 0, n),
	}

	for k := 0; k < n; k++ {
		frameIndex := k * opts.Stride
		t := float64(frameIndex) / opts.FPS

		if opts.Duplicate > 0 && k >= dupStart && k < dupStart+opts.Duplicate {
			prevLm := capture.Frames[k-1]
			prevRaw := capture.RawFrames[k-1]
			capture.Frames = append(capture.Frames, models.LandmarkFrame{
				FrameIndex: frameIndex,
				Timestamp:  t,
				Present:    prevLm.Present,
				Landmarks:  copyLandmarks(prevLm.Landmarks),
			})
			capture.RawFrames = append(capture.RawFrames, models.RawFrame{
				FrameIndex: frameIndex,
				Width:      prevRaw.Width,
				Height:     prevRaw.Height,
				Channels:   prevRaw.Channels,
				Pixels:     append([]byte(nil), prevRaw.Pixels...),
			})
			continue
		}

		frame := models.LandmarkFrame{FrameIndex: frameIndex, Timestamp: t}
		gap := k > 0 && gaps.Float64() < opts.GapRatio
		if !gap {
			phase := float64(opts.Reps) * t / opts.Seconds
			frame.Present = true
			frame.Landmarks = pose(phase)
			if opts.FaceShift != 0 && k >= faceShiftAt {
				shiftFace(frame.Landmarks, opts.FaceShift)
			}
		}
		capture.Frames = append(capture.Frames, frame)
		capture.RawFrames = append(capture.RawFrames, noiseFrame(frameIndex, w, h, opts.Seed))
	}
	return capture, nil
}

// cycle maps a phase to [0,1]: 0 at rest, 1 at the deepest point of a rep.
func cycle(phase float64) float64 {
	return (1 - math.Cos(2*math.Pi*phase)) / 2
}

const confidence = 0.95

func lm(x, y float64) models.Landmark {
	return models.Landmark{X: x, Y: y, Confidence: confidence}
}

// pushUpPose bends both elbows from 160 to 70 degrees and back.
func pushUpPose(phase float64) map[string]models.Landmark {
	depth := cycle(phase)
	theta := (160 - 90*depth) * math.Pi / 180
	drop := 0.05 * depth
	const arm = 0.15

	out := map[string]models.Landmark{}
	for _, side := range []struct {
		shoulder, elbow, wrist, hip, knee, ankle string
		x, dir                                   float64
	}{
		{models.LeftShoulder, models.LeftElbow, models.LeftWrist, models.LeftHip, models.LeftKnee, models.LeftAnkle, 0.4, 1},
		{models.RightShoulder, models.RightElbow, models.RightWrist, models.RightHip, models.RightKnee, models.RightAnkle, 0.6, -1},
	} {
		ex, ey := side.x, 0.5+drop
		out[side.elbow] = lm(ex, ey)
		out[side.shoulder] = lm(ex, ey-arm)
		out[side.wrist] = lm(ex+side.dir*arm*math.Sin(theta), ey-arm*math.Cos(theta))
		out[side.hip] = lm(side.x, 0.55+drop)
		out[side.knee] = lm(side.x, 0.7+drop/2)
		out[side.ankle] = lm(side.x, 0.85)
	}
	addFace(out, 0.5, 0.25+drop)
	return out
}

// sitUpPose raises the shoulder line by half the shoulder-to-hip distance.
func sitUpPose(phase float64) map[string]models.Landmark {
	rise := 0.15 * cycle(phase)

	out := map[string]models.Landmark{
		models.LeftShoulder:  lm(0.45, 0.4-rise),
		models.RightShoulder: lm(0.55, 0.4-rise),
		models.LeftElbow:     lm(0.4, 0.5-rise),
		models.RightElbow:    lm(0.6, 0.5-rise),
		models.LeftWrist:     lm(0.42, 0.45-rise),
		models.RightWrist:    lm(0.58, 0.45-rise),
		models.LeftHip:       lm(0.45, 0.7),
		models.RightHip:      lm(0.55, 0.7),
		models.LeftKnee:      lm(0.45, 0.6),
		models.RightKnee:     lm(0.55, 0.6),
		models.LeftAnkle:     lm(0.45, 0.85),
		models.RightAnkle:    lm(0.55, 0.85),
	}
	addFace(out, 0.5, 0.3-rise)
	return out
}

func addFace(out map[string]models.Landmark, cx, cy float64) {
	out[models.Nose] = lm(cx, cy)
	out[models.LeftEye] = lm(cx-0.02, cy-0.02)
	out[models.RightEye] = lm(cx+0.02, cy-0.02)
	out[models.LeftEar] = lm(cx-0.04, cy-0.01)
	out[models.RightEar] = lm(cx+0.04, cy-0.01)
	out[models.MouthLeft] = lm(cx-0.015, cy+0.02)
	out[models.MouthRight] = lm(cx+0.015, cy+0.02)
}

func shiftFace(out map[string]models.Landmark, dx float64) {
	for _, name := range models.FaceLandmarks {
		p := out[name]
		p.X += dx
		out[name] = p
	}
}

func copyLandmarks(in map[string]models.Landmark) map[string]models.Landmark {
	if in == nil {
		return nil
	}
	out := make(map[string]models.Landmark, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// noiseFrame is sensor noise seeded by frame index, so no two distinct
// frames are near-identical.
func noiseFrame(frameIndex, w, h int, seed int64) models.RawFrame {
	rng := rand.New(rand.NewSource(seed*1_000_003 + int64(frameIndex)))
	px := make([]byte, w*h*3)
	rng.Read(px)
	return models.RawFrame{FrameIndex: frameIndex, Width: w, Height: h, Channels: 3, Pixels: px}
}
