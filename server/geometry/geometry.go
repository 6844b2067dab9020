// Package geometry turns landmark coordinates into the scalar signals the
// repetition counter consumes: joint angles and scale-invariant vertical
// displacements. Every function reports undefined instead of failing when a
// contributing landmark is too uncertain; callers treat that as a gap.
package geometry

import (
	"math"

	"github.com/san-kum/rep-integrity/server/models"
)

// DefaultVisibilityFloor is the minimum landmark confidence for a point to
// contribute to a measurement.
const DefaultVisibilityFloor = 0.5

// minLength guards against degenerate vectors and reference lengths.
const minLength = 1e-9

type Point struct {
	X          float64
	Y          float64
	Confidence float64
}

// Measure is a derived scalar and the confidence of its weakest input.
type Measure struct {
	Value      float64
	Confidence float64
}

type Calculator struct {
	floor float64
}

func NewCalculator(visibilityFloor float64) Calculator {
	return Calculator{floor: visibilityFloor}
}

func (c Calculator) VisibilityFloor() float64 {
	return c.floor
}

func (c Calculator) visible(points ...Point) bool {
	for _, p := range points {
		if p.Confidence < c.floor {
			return false
		}
	}
	return true
}

// Angle returns the angle at b formed by a-b-c in degrees, in [0, 180].
func (c Calculator) Angle(a, b, cc Point) (Measure, bool) {
	if !c.visible(a, b, cc) {
		return Measure{}, false
	}

	v1x, v1y := a.X-b.X, a.Y-b.Y
	v2x, v2y := cc.X-b.X, cc.Y-b.Y
	n1 := math.Hypot(v1x, v1y)
	n2 := math.Hypot(v2x, v2y)
	if n1 < minLength || n2 < minLength {
		return Measure{}, false
	}

	cos := (v1x*v2x + v1y*v2y) / (n1 * n2)
	cos = math.Max(-1, math.Min(1, cos))

	return Measure{
		Value:      math.Acos(cos) * 180 / math.Pi,
		Confidence: minConfidence(a, b, cc),
	}, true
}

// Displacement returns how far current rose above baseline, in units of the
// reference body length. Image Y grows downward, so upward motion is positive.
func (c Calculator) Displacement(baseline, current Point, reference float64) (Measure, bool) {
	if !c.visible(baseline, current) || reference < minLength {
		return Measure{}, false
	}
	return Measure{
		Value:      (baseline.Y - current.Y) / reference,
		Confidence: minConfidence(baseline, current),
	}, true
}

// Centroid averages the visible points. It is undefined when none are visible.
func (c Calculator) Centroid(points []Point) (Point, bool) {
	var sx, sy float64
	n := 0
	conf := 1.0
	for _, p := range points {
		if p.Confidence < c.floor {
			continue
		}
		sx += p.X
		sy += p.Y
		conf = math.Min(conf, p.Confidence)
		n++
	}
	if n == 0 {
		return Point{}, false
	}
	return Point{X: sx / float64(n), Y: sy / float64(n), Confidence: conf}, true
}

func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func Midpoint(a, b Point) Point {
	return Point{
		X:          (a.X + b.X) / 2,
		Y:          (a.Y + b.Y) / 2,
		Confidence: math.Min(a.Confidence, b.Confidence),
	}
}

func minConfidence(points ...Point) float64 {
	m := math.Inf(1)
	for _, p := range points {
		m = math.Min(m, p.Confidence)
	}
	return m
}

// Point looks up a named landmark. Frames without a detected person yield
// nothing.
func (c Calculator) Point(frame *models.LandmarkFrame, name string) (Point, bool) {
	if frame == nil || !frame.Present {
		return Point{}, false
	}
	lm, ok := frame.Landmarks[name]
	if !ok {
		return Point{}, false
	}
	return Point{X: lm.X, Y: lm.Y, Confidence: lm.Confidence}, true
}

// JointAngle measures the angle at the middle of three named landmarks.
func (c Calculator) JointAngle(frame *models.LandmarkFrame, a, b, cc string) (Measure, bool) {
	pa, ok := c.Point(frame, a)
	if !ok {
		return Measure{}, false
	}
	pb, ok := c.Point(frame, b)
	if !ok {
		return Measure{}, false
	}
	pc, ok := c.Point(frame, cc)
	if !ok {
		return Measure{}, false
	}
	return c.Angle(pa, pb, pc)
}

// MidpointOf resolves two named landmarks and returns their midpoint. Both
// must be visible.
func (c Calculator) MidpointOf(frame *models.LandmarkFrame, left, right string) (Point, bool) {
	l, ok := c.Point(frame, left)
	if !ok {
		return Point{}, false
	}
	r, ok := c.Point(frame, right)
	if !ok {
		return Point{}, false
	}
	if !c.visible(l, r) {
		return Point{}, false
	}
	return Midpoint(l, r), true
}
