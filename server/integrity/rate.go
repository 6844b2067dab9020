package integrity

import (
	"fmt"

	"github.com/san-kum/rep-integrity/server/models"
)

// DetectRateViolations checks the instantaneous rate between every pair of
// consecutive repetitions against the physiological ceiling.
func DetectRateViolations(reps []models.Repetition, cfg Config) []models.EvidenceItem {
	var items []models.EvidenceItem
	for i := 1; i < len(reps); i++ {
		prev, cur := reps[i-1], reps[i]
		dt := cur.EndTime - prev.EndTime
		if dt <= 0 {
			continue
		}
		rate := 1 / dt
		if rate <= cfg.RateCeiling {
			continue
		}
		items = append(items, models.EvidenceItem{
			Kind:       models.EvidenceRepRateViolation,
			FrameRange: models.FrameRange{First: prev.EndFrame, Last: cur.EndFrame},
			Magnitude:  rate,
			Message: fmt.Sprintf("reps %d and %d are %.3fs apart (%.2f reps/s exceeds %.2f)",
				prev.Index, cur.Index, dt, rate, cfg.RateCeiling),
		})
	}
	return items
}
