// Package integrity collects evidence that a capture was manipulated and
// turns it into a bounded trust score.
package integrity

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/san-kum/rep-integrity/server/models"
)

const (
	DefaultDuplicationThreshold  = 100.0
	DefaultDuplicationMinRun     = 1
	DefaultFaceVarianceThreshold = 0.01
	DefaultFaceMinSamples        = 6
	DefaultRateCeiling           = 3.0
	DefaultPassThreshold         = 0.7
)

// Config holds every collector threshold plus the scoring policy. Treat it
// as a value: Clone before changing penalties.
type Config struct {
	DuplicationThreshold  float64                         `yaml:"duplication_threshold" json:"duplication_threshold"`
	DuplicationMinRun     int                             `yaml:"duplication_min_run" json:"duplication_min_run"`
	FaceVarianceThreshold float64                         `yaml:"face_variance_threshold" json:"face_variance_threshold"`
	FaceMinSamples        int                             `yaml:"face_min_samples" json:"face_min_samples"`
	RateCeiling           float64                         `yaml:"rate_ceiling" json:"rate_ceiling"`
	Penalties             map[models.EvidenceKind]float64 `yaml:"penalties" json:"penalties"`
	Policy                models.CheatPolicy              `yaml:"policy" json:"policy"`
	// PassThreshold only applies to PolicyScoreBelow.
	PassThreshold float64 `yaml:"pass_threshold" json:"pass_threshold"`
}

func DefaultPenalties() map[models.EvidenceKind]float64 {
	return map[models.EvidenceKind]float64{
		models.EvidenceFrameDuplication:  0.4,
		models.EvidenceFaceInconsistency: 0.3,
		models.EvidenceRepRateViolation:  0.5,
	}
}

func DefaultConfig() Config {
	return Config{
		DuplicationThreshold:  DefaultDuplicationThreshold,
		DuplicationMinRun:     DefaultDuplicationMinRun,
		FaceVarianceThreshold: DefaultFaceVarianceThreshold,
		FaceMinSamples:        DefaultFaceMinSamples,
		RateCeiling:           DefaultRateCeiling,
		Penalties:             DefaultPenalties(),
		Policy:                models.PolicyAnyEvidence,
		PassThreshold:         DefaultPassThreshold,
	}
}

func (c Config) Clone() Config {
	out := c
	out.Penalties = make(map[models.EvidenceKind]float64, len(c.Penalties))
	for k, v := range c.Penalties {
		out.Penalties[k] = v
	}
	return out
}

func (c Config) Validate() error {
	var problems []string

	if c.DuplicationThreshold <= 0 {
		problems = append(problems, "duplication threshold must be positive")
	}
	if c.DuplicationMinRun < 1 {
		problems = append(problems, "duplication min run must be at least 1")
	}
	if c.FaceVarianceThreshold <= 0 {
		problems = append(problems, "face variance threshold must be positive")
	}
	if c.FaceMinSamples < 2 {
		problems = append(problems, "face min samples must be at least 2")
	}
	if c.RateCeiling <= 0 {
		problems = append(problems, "rate ceiling must be positive")
	}
	for _, kind := range models.EvidenceKinds {
		p, ok := c.Penalties[kind]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing penalty for %s", kind))
			continue
		}
		// A zero penalty would let flagged evidence leave the score at 1.0.
		if p <= 0 || p > 1 {
			problems = append(problems, fmt.Sprintf("penalty for %s must be within (0,1]", kind))
		}
	}
	var unknown []string
	for kind := range c.Penalties {
		if !slices.Contains(models.EvidenceKinds, kind) {
			unknown = append(unknown, string(kind))
		}
	}
	sort.Strings(unknown)
	for _, kind := range unknown {
		problems = append(problems, fmt.Sprintf("unknown evidence kind %q in penalties", kind))
	}
	switch c.Policy {
	case models.PolicyAnyEvidence:
	case models.PolicyScoreBelow:
		if c.PassThreshold <= 0 || c.PassThreshold > 1 {
			problems = append(problems, "pass threshold must be within (0,1]")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown cheat policy %q", c.Policy))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid integrity config: %s", strings.Join(problems, ", "))
	}
	return nil
}
