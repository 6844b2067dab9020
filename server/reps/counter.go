package reps

import (
	"math"

	"github.com/san-kum/rep-integrity/server/models"
)

const (
	DefaultFormPassThreshold = 0.7
	DefaultDepthWeight       = 0.6
)

// ScoringConfig controls how completed repetitions are scored.
type ScoringConfig struct {
	// FormPassThreshold is the form score a repetition must exceed to be valid.
	FormPassThreshold float64 `yaml:"form_pass_threshold" json:"form_pass_threshold"`
	// DepthWeight splits the form score between depth and signal coverage.
	DepthWeight float64 `yaml:"depth_weight" json:"depth_weight"`
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		FormPassThreshold: DefaultFormPassThreshold,
		DepthWeight:       DefaultDepthWeight,
	}
}

// Counter is the repetition state machine. It must see samples in frame
// order, gaps included; it holds its state across gaps and only moves on a
// defined sample that crosses a threshold.
type Counter struct {
	ex      Exercise
	scoring ScoringConfig
	state   models.RepState
	reps    []models.Repetition

	start    Sample
	extremum float64
	frames   int
	defined  int
}

func NewCounter(ex Exercise, scoring ScoringConfig) *Counter {
	return &Counter{
		ex:      ex,
		scoring: scoring,
		state:   models.StateUp,
	}
}

func (c *Counter) State() models.RepState {
	return c.state
}

// Repetitions returns the repetitions completed so far.
func (c *Counter) Repetitions() []models.Repetition {
	out := make([]models.Repetition, len(c.reps))
	copy(out, c.reps)
	return out
}

// Update feeds the next sample and reports a repetition when this sample
// completed one.
func (c *Counter) Update(s Sample) (models.Repetition, bool) {
	if c.state == models.StateDown {
		c.frames++
		if s.Defined {
			c.defined++
			c.extremum = c.deeper(c.extremum, s.Value)
		}
	}

	if !s.Defined {
		return models.Repetition{}, false
	}

	switch c.state {
	case models.StateUp:
		if c.entersDown(s.Value) {
			c.state = models.StateDown
			c.start = s
			c.extremum = s.Value
			c.frames = 1
			c.defined = 1
		}
	case models.StateDown:
		if c.leavesDown(s.Value) {
			c.state = models.StateUp
			rep := c.complete(s)
			c.reps = append(c.reps, rep)
			return rep, true
		}
	}
	return models.Repetition{}, false
}

func (c *Counter) entersDown(v float64) bool {
	if c.ex.Direction == Increasing {
		return v > c.ex.DownThreshold
	}
	return v < c.ex.DownThreshold
}

func (c *Counter) leavesDown(v float64) bool {
	if c.ex.Direction == Increasing {
		return v < c.ex.UpThreshold
	}
	return v > c.ex.UpThreshold
}

func (c *Counter) deeper(a, b float64) float64 {
	if c.ex.Direction == Increasing {
		return math.Max(a, b)
	}
	return math.Min(a, b)
}

func (c *Counter) complete(end Sample) models.Repetition {
	excess := c.ex.DownThreshold - c.extremum
	if c.ex.Direction == Increasing {
		excess = c.extremum - c.ex.DownThreshold
	}
	depth := clamp01(excess / c.ex.DepthMargin)
	coverage := float64(c.defined) / float64(c.frames)

	w := c.scoring.DepthWeight
	form := clamp01(w*depth + (1-w)*coverage)

	return models.Repetition{
		Index:      len(c.reps) + 1,
		StartFrame: c.start.FrameIndex,
		EndFrame:   end.FrameIndex,
		StartTime:  c.start.Time,
		EndTime:    end.Time,
		Extremum:   c.extremum,
		Coverage:   coverage,
		FormScore:  form,
		Valid:      form > c.scoring.FormPassThreshold,
	}
}

// Count runs a fresh counter over an ordered sample sequence.
func Count(samples []Sample, ex Exercise, scoring ScoringConfig) []models.Repetition {
	c := NewCounter(ex, scoring)
	for _, s := range samples {
		c.Update(s)
	}
	return c.Repetitions()
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
