package integrity

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/rep-integrity/server/models"
)

// FaceSample is the face centroid observed on one frame, in frame-normalised
// coordinates.
type FaceSample struct {
	FrameIndex int
	X          float64
	Y          float64
}

// FaceVariance is the mean of the population variances of the centroid's X
// and Y coordinates.
func FaceVariance(samples []FaceSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.X
		ys[i] = s.Y
	}
	return (stat.PopVariance(xs, nil) + stat.PopVariance(ys, nil)) / 2
}

// DetectFaceInconsistency emits a single item spanning the whole run when
// the face centroid wanders more than a single continuous recording allows.
// Runs with fewer than FaceMinSamples detections are not judged.
func DetectFaceInconsistency(samples []FaceSample, span models.FrameRange, cfg Config) []models.EvidenceItem {
	if len(samples) < cfg.FaceMinSamples {
		return nil
	}

	variance := FaceVariance(samples)
	if variance <= cfg.FaceVarianceThreshold {
		return nil
	}

	return []models.EvidenceItem{{
		Kind:       models.EvidenceFaceInconsistency,
		FrameRange: span,
		Magnitude:  variance,
		Message: fmt.Sprintf("face position variance %.4f across %d detections exceeds %.4f",
			variance, len(samples), cfg.FaceVarianceThreshold),
	}}
}
