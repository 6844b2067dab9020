package integrity

import (
	"fmt"
	"math"

	"github.com/san-kum/rep-integrity/server/models"
)

// Score aggregates evidence into a verdict. Each kind's penalty is applied
// at most once however many items of that kind exist.
func Score(evidence []models.EvidenceItem, cfg Config) models.Verdict {
	byKind := make(map[models.EvidenceKind][]models.EvidenceItem)
	for _, item := range evidence {
		byKind[item.Kind] = append(byKind[item.Kind], item)
	}

	score := 1.0
	reasons := []string{}
	for _, kind := range models.EvidenceKinds {
		items := byKind[kind]
		if len(items) == 0 {
			continue
		}
		score -= cfg.Penalties[kind]
		reasons = append(reasons, reason(kind, items, cfg))
	}
	score = math.Max(0, math.Min(1, score))

	v := models.Verdict{
		Score:    score,
		Policy:   cfg.Policy,
		Evidence: append([]models.EvidenceItem{}, evidence...),
		Reasons:  reasons,
	}
	switch cfg.Policy {
	case models.PolicyScoreBelow:
		v.Threshold = cfg.PassThreshold
		v.CheatFlag = score < cfg.PassThreshold
	default:
		v.Policy = models.PolicyAnyEvidence
		v.Threshold = 1.0
		v.CheatFlag = len(evidence) > 0
	}
	return v
}

func reason(kind models.EvidenceKind, items []models.EvidenceItem, cfg Config) string {
	switch kind {
	case models.EvidenceFrameDuplication:
		frames := 0.0
		for _, it := range items {
			frames += it.Magnitude
		}
		return fmt.Sprintf("frame duplication: %d run(s), %.0f repeated frame(s)", len(items), frames)
	case models.EvidenceFaceInconsistency:
		return fmt.Sprintf("face inconsistency: centroid variance %.4f exceeds %.4f",
			items[0].Magnitude, cfg.FaceVarianceThreshold)
	case models.EvidenceRepRateViolation:
		peak := 0.0
		for _, it := range items {
			peak = math.Max(peak, it.Magnitude)
		}
		return fmt.Sprintf("unphysiological rep rate: peak %.2f reps/s exceeds %.2f", peak, cfg.RateCeiling)
	}
	return string(kind)
}
