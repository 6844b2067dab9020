package reps

import (
	"math"

	"github.com/san-kum/rep-integrity/server/geometry"
	"github.com/san-kum/rep-integrity/server/models"
)

// Sample is one value of the driving signal. Undefined samples are gaps.
type Sample struct {
	FrameIndex int
	Time       float64
	Value      float64
	Confidence float64
	Defined    bool
}

// Observation is the per-frame measurement an Extractor takes without
// looking at any other frame, so observations can be produced concurrently.
type Observation struct {
	FrameIndex int
	Time       float64
	Defined    bool
	Value      float64
	Confidence float64
	Track      geometry.Point
	Reference  float64
}

// Extractor converts landmark frames into the exercise's driving signal in
// two steps: Observe per frame (order independent) and Resolve over the
// ordered observations.
type Extractor interface {
	Observe(frame *models.LandmarkFrame) Observation
	Resolve(obs []Observation) []Sample
}

// NewExtractor returns the extractor for the exercise's signal kind.
func NewExtractor(ex Exercise, calc geometry.Calculator) Extractor {
	if ex.Signal == SignalDisplacement {
		return displacementExtractor{ex: ex, calc: calc}
	}
	return angleExtractor{ex: ex, calc: calc}
}

type angleExtractor struct {
	ex   Exercise
	calc geometry.Calculator
}

func (a angleExtractor) Observe(frame *models.LandmarkFrame) Observation {
	obs := Observation{FrameIndex: frame.FrameIndex, Time: frame.Timestamp}

	var sum float64
	conf := math.Inf(1)
	n := 0
	for _, j := range a.ex.Joints {
		m, ok := a.calc.JointAngle(frame, j.A, j.B, j.C)
		if !ok {
			continue
		}
		sum += m.Value
		conf = math.Min(conf, m.Confidence)
		n++
	}
	if n == 0 {
		return obs
	}

	obs.Defined = true
	obs.Value = sum / float64(n)
	obs.Confidence = conf
	return obs
}

func (a angleExtractor) Resolve(obs []Observation) []Sample {
	out := make([]Sample, len(obs))
	for i, o := range obs {
		out[i] = Sample{
			FrameIndex: o.FrameIndex,
			Time:       o.Time,
			Value:      o.Value,
			Confidence: o.Confidence,
			Defined:    o.Defined,
		}
	}
	return out
}

type displacementExtractor struct {
	ex   Exercise
	calc geometry.Calculator
}

func (d displacementExtractor) Observe(frame *models.LandmarkFrame) Observation {
	obs := Observation{FrameIndex: frame.FrameIndex, Time: frame.Timestamp}

	track, ok := d.calc.MidpointOf(frame, d.ex.Track.Left, d.ex.Track.Right)
	if !ok {
		return obs
	}
	ref, ok := d.calc.MidpointOf(frame, d.ex.Reference.Left, d.ex.Reference.Right)
	if !ok {
		return obs
	}

	obs.Defined = true
	obs.Track = track
	obs.Reference = geometry.Distance(track, ref)
	obs.Confidence = math.Min(track.Confidence, ref.Confidence)
	return obs
}

// Resolve measures every frame against the first defined frame, which is
// taken as the rest position.
func (d displacementExtractor) Resolve(obs []Observation) []Sample {
	out := make([]Sample, len(obs))

	baseline := -1
	for i, o := range obs {
		if o.Defined {
			baseline = i
			break
		}
	}

	for i, o := range obs {
		out[i] = Sample{FrameIndex: o.FrameIndex, Time: o.Time}
		if baseline < 0 || !o.Defined {
			continue
		}
		b := obs[baseline]
		m, ok := d.calc.Displacement(b.Track, o.Track, b.Reference)
		if !ok {
			continue
		}
		out[i].Value = m.Value
		out[i].Confidence = math.Min(m.Confidence, o.Confidence)
		out[i].Defined = true
	}
	return out
}
