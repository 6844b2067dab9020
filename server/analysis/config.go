// Package analysis runs the repetition and integrity pipeline over one
// capture.
package analysis

import (
	"fmt"
	"strings"

	"github.com/san-kum/rep-integrity/server/geometry"
	"github.com/san-kum/rep-integrity/server/integrity"
	"github.com/san-kum/rep-integrity/server/models"
	"github.com/san-kum/rep-integrity/server/reps"
)

const (
	DefaultMinDefinedFrames = 10
	DefaultWorkers          = 4
)

// Config is the complete engine configuration for one run.
type Config struct {
	VisibilityFloor  float64            `yaml:"visibility_floor" json:"visibility_floor"`
	Scoring          reps.ScoringConfig `yaml:"scoring" json:"scoring"`
	Integrity        integrity.Config   `yaml:"integrity" json:"integrity"`
	MinDefinedFrames int                `yaml:"min_defined_frames" json:"min_defined_frames"`
	Workers          int                `yaml:"workers" json:"workers"`

	// Threshold overrides for the selected exercise; nil keeps the
	// registry value.
	DownThreshold *float64 `yaml:"-" json:"down_threshold,omitempty"`
	UpThreshold   *float64 `yaml:"-" json:"up_threshold,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		VisibilityFloor:  geometry.DefaultVisibilityFloor,
		Scoring:          reps.DefaultScoringConfig(),
		Integrity:        integrity.DefaultConfig(),
		MinDefinedFrames: DefaultMinDefinedFrames,
		Workers:          DefaultWorkers,
	}
}

func (c Config) Clone() Config {
	out := c
	out.Integrity = c.Integrity.Clone()
	if c.DownThreshold != nil {
		v := *c.DownThreshold
		out.DownThreshold = &v
	}
	if c.UpThreshold != nil {
		v := *c.UpThreshold
		out.UpThreshold = &v
	}
	return out
}

func (c Config) Validate() error {
	var problems []string

	if c.VisibilityFloor < 0 || c.VisibilityFloor > 1 {
		problems = append(problems, "visibility floor must be within [0,1]")
	}
	if c.Scoring.FormPassThreshold < 0 || c.Scoring.FormPassThreshold > 1 {
		problems = append(problems, "form pass threshold must be within [0,1]")
	}
	if c.Scoring.DepthWeight < 0 || c.Scoring.DepthWeight > 1 {
		problems = append(problems, "depth weight must be within [0,1]")
	}
	if c.MinDefinedFrames < 1 {
		problems = append(problems, "min defined frames must be at least 1")
	}
	if c.Workers < 1 {
		problems = append(problems, "workers must be at least 1")
	}
	if err := c.Integrity.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid analysis config: %s", strings.Join(problems, ", "))
	}
	return nil
}

// WithOverrides returns a copy of c with every non-nil override applied.
func (c Config) WithOverrides(o *models.RunOverrides) Config {
	out := c.Clone()
	if o == nil {
		return out
	}

	if o.VisibilityFloor != nil {
		out.VisibilityFloor = *o.VisibilityFloor
	}
	if o.FormPassThreshold != nil {
		out.Scoring.FormPassThreshold = *o.FormPassThreshold
	}
	if o.DownThreshold != nil {
		v := *o.DownThreshold
		out.DownThreshold = &v
	}
	if o.UpThreshold != nil {
		v := *o.UpThreshold
		out.UpThreshold = &v
	}
	if o.DuplicationThreshold != nil {
		out.Integrity.DuplicationThreshold = *o.DuplicationThreshold
	}
	if o.FaceVarianceThreshold != nil {
		out.Integrity.FaceVarianceThreshold = *o.FaceVarianceThreshold
	}
	if o.RateCeiling != nil {
		out.Integrity.RateCeiling = *o.RateCeiling
	}
	if o.CheatPolicy != nil {
		out.Integrity.Policy = *o.CheatPolicy
	}
	if o.CheatPassThreshold != nil {
		out.Integrity.PassThreshold = *o.CheatPassThreshold
	}
	for kind, p := range o.Penalties {
		out.Integrity.Penalties[kind] = p
	}
	return out
}
