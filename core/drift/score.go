package drift

import (
	"math"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	schemadrift "github.com/davidahmann/proofpack/core/schema/v1/drift"
)

const (
	MinImpact     = 1
	MaxImpact     = 5
	MinConfidence = 0.1
	MaxConfidence = 1.0

	JustificationThreshold = 2.0
	criticalThreshold      = 5.0
)

// ComputeDriftScore returns impact * confidence * persistence.
func ComputeDriftScore(impact int, confidence float64, persistence int) (float64, error) {
	if impact < MinImpact || impact > MaxImpact {
		return 0, coreerrors.InvalidParameter("impact", impact, "must be an integer in [1,5]")
	}
	if math.IsNaN(confidence) || confidence < MinConfidence || confidence > MaxConfidence {
		return 0, coreerrors.InvalidParameter("confidence", confidence, "must be in [0.1,1.0]")
	}
	if persistence < 1 {
		return 0, coreerrors.InvalidParameter("persistence", persistence, "must be a positive integer")
	}
	return float64(impact) * confidence * float64(persistence), nil
}

// ClassifyScore maps 0 to STABLE, (0,2) to INFO, [2,5) to WARNING and the rest
// to CRITICAL. NaN classifies as CRITICAL.
func ClassifyScore(score float64) schemadrift.Classification {
	switch {
	case math.IsNaN(score):
		return schemadrift.ClassificationCritical
	case score <= 0:
		return schemadrift.ClassificationStable
	case score < JustificationThreshold:
		return schemadrift.ClassificationInfo
	case score < criticalThreshold:
		return schemadrift.ClassificationWarning
	default:
		return schemadrift.ClassificationCritical
	}
}

func RequiresHumanJustification(score float64) bool {
	return math.IsNaN(score) || score >= JustificationThreshold
}

var classificationRank = map[schemadrift.Classification]int{
	schemadrift.ClassificationStable:   0,
	schemadrift.ClassificationInfo:     1,
	schemadrift.ClassificationWarning:  2,
	schemadrift.ClassificationCritical: 3,
}

// Worse reports whether a ranks above b.
func Worse(a, b schemadrift.Classification) bool {
	return classificationRank[a] > classificationRank[b]
}
