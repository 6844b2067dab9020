// Package reps counts exercise repetitions from a per-frame signal using a
// two-state hysteresis machine, and scores the form of each repetition.
package reps

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/san-kum/rep-integrity/server/models"
)

var (
	ErrUnknownExercise = errors.New("unknown exercise")
	ErrInvalidExercise = errors.New("invalid exercise")
)

// Signal selects which derived quantity drives the state machine.
type Signal string

const (
	SignalAngle        Signal = "angle"
	SignalDisplacement Signal = "displacement"
)

// Direction says which way the signal moves when the athlete enters the
// DOWN phase.
type Direction string

const (
	Decreasing Direction = "decreasing"
	Increasing Direction = "increasing"
)

// Joint is an a-b-c landmark triple; the angle is measured at B.
type Joint struct {
	A string `yaml:"a" json:"a"`
	B string `yaml:"b" json:"b"`
	C string `yaml:"c" json:"c"`
}

// Pair names a left/right landmark pair whose midpoint is tracked.
type Pair struct {
	Left  string `yaml:"left" json:"left"`
	Right string `yaml:"right" json:"right"`
}

// Exercise is one registry entry. DownThreshold is crossed to enter DOWN,
// UpThreshold to return to UP and complete a repetition; the distance
// between them is the hysteresis gap.
type Exercise struct {
	Name          string    `yaml:"name" json:"name"`
	Signal        Signal    `yaml:"signal" json:"signal"`
	Direction     Direction `yaml:"direction" json:"direction"`
	DownThreshold float64   `yaml:"down_threshold" json:"down_threshold"`
	UpThreshold   float64   `yaml:"up_threshold" json:"up_threshold"`
	// DepthMargin is how far past DownThreshold a repetition must reach
	// for full depth credit.
	DepthMargin float64 `yaml:"depth_margin" json:"depth_margin"`

	// Angle exercises average every defined joint.
	Joints []Joint `yaml:"joints,omitempty" json:"joints,omitempty"`

	// Displacement exercises track the midpoint of Track, scaled by the
	// Track-to-Reference midpoint distance on the baseline frame.
	Track     Pair `yaml:"track,omitempty" json:"track,omitempty"`
	Reference Pair `yaml:"reference,omitempty" json:"reference,omitempty"`
}

func PushUp() Exercise {
	return Exercise{
		Name:          "pushup",
		Signal:        SignalAngle,
		Direction:     Decreasing,
		DownThreshold: 90,
		UpThreshold:   110,
		DepthMargin:   20,
		Joints: []Joint{
			{A: models.LeftShoulder, B: models.LeftElbow, C: models.LeftWrist},
			{A: models.RightShoulder, B: models.RightElbow, C: models.RightWrist},
		},
	}
}

func SitUp() Exercise {
	return Exercise{
		Name:          "situp",
		Signal:        SignalDisplacement,
		Direction:     Increasing,
		DownThreshold: 0.20,
		UpThreshold:   0.15,
		DepthMargin:   0.30,
		Track:         Pair{Left: models.LeftShoulder, Right: models.RightShoulder},
		Reference:     Pair{Left: models.LeftHip, Right: models.RightHip},
	}
}

func (e Exercise) Validate() error {
	var problems []string

	if strings.TrimSpace(e.Name) == "" {
		problems = append(problems, "name is required")
	}
	switch e.Direction {
	case Decreasing:
		if e.DownThreshold >= e.UpThreshold {
			problems = append(problems, "decreasing exercise needs down_threshold < up_threshold")
		}
	case Increasing:
		if e.DownThreshold <= e.UpThreshold {
			problems = append(problems, "increasing exercise needs down_threshold > up_threshold")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown direction %q", e.Direction))
	}
	if e.DepthMargin <= 0 {
		problems = append(problems, "depth_margin must be positive")
	}
	switch e.Signal {
	case SignalAngle:
		if len(e.Joints) == 0 {
			problems = append(problems, "angle exercise needs at least one joint")
		}
	case SignalDisplacement:
		if e.Track.Left == "" || e.Track.Right == "" || e.Reference.Left == "" || e.Reference.Right == "" {
			problems = append(problems, "displacement exercise needs track and reference pairs")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown signal %q", e.Signal))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidExercise, e.Name, strings.Join(problems, ", "))
	}
	return nil
}

// WithThresholds returns a copy with the given thresholds replaced.
func (e Exercise) WithThresholds(down, up *float64) Exercise {
	out := e
	out.Joints = append([]Joint(nil), e.Joints...)
	if down != nil {
		out.DownThreshold = *down
	}
	if up != nil {
		out.UpThreshold = *up
	}
	return out
}

// Registry maps exercise names to their configuration. It is never mutated
// after construction; With returns an extended copy.
type Registry struct {
	byName map[string]Exercise
}

func NewRegistry(exercises ...Exercise) (*Registry, error) {
	r := &Registry{byName: make(map[string]Exercise, len(exercises))}
	for _, ex := range exercises {
		if err := ex.Validate(); err != nil {
			return nil, err
		}
		r.byName[normalize(ex.Name)] = ex
	}
	return r, nil
}

// DefaultRegistry holds the built-in push-up and sit-up configurations.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(PushUp(), SitUp())
	if err != nil {
		panic(err)
	}
	return r
}

// With returns a copy of r that also contains ex, replacing any entry of the
// same name.
func (r *Registry) With(ex Exercise) (*Registry, error) {
	if err := ex.Validate(); err != nil {
		return nil, err
	}
	out := &Registry{byName: make(map[string]Exercise, len(r.byName)+1)}
	for k, v := range r.byName {
		out.byName[k] = v
	}
	out.byName[normalize(ex.Name)] = ex
	return out, nil
}

func (r *Registry) Lookup(name string) (Exercise, error) {
	ex, ok := r.byName[normalize(name)]
	if !ok {
		return Exercise{}, fmt.Errorf("%w: %q", ErrUnknownExercise, name)
	}
	return ex, nil
}

// All returns every registered exercise sorted by name.
func (r *Registry) All() []Exercise {
	out := make([]Exercise, 0, len(r.byName))
	for _, ex := range r.byName {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
