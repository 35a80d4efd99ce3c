package drift

import (
	"math"
	"testing"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	schemadrift "github.com/davidahmann/proofpack/core/schema/v1/drift"
)

func TestComputeDriftScore(t *testing.T) {
	testCases := []struct {
		impact      int
		confidence  float64
		persistence int
		want        float64
		class       schemadrift.Classification
	}{
		{impact: 3, confidence: 0.8, persistence: 2, want: 4.8, class: schemadrift.ClassificationWarning},
		{impact: 5, confidence: 1.0, persistence: 1, want: 5, class: schemadrift.ClassificationCritical},
		{impact: 1, confidence: 0.5, persistence: 1, want: 0.5, class: schemadrift.ClassificationInfo},
		{impact: 1, confidence: 0.1, persistence: 1, want: 0.1, class: schemadrift.ClassificationInfo},
		{impact: 4, confidence: 1.0, persistence: 3, want: 12, class: schemadrift.ClassificationCritical},
	}
	for _, testCase := range testCases {
		score, err := ComputeDriftScore(testCase.impact, testCase.confidence, testCase.persistence)
		if err != nil {
			t.Fatalf("score(%d,%v,%d): %v", testCase.impact, testCase.confidence, testCase.persistence, err)
		}
		if math.Abs(score-testCase.want) > 1e-9 {
			t.Fatalf("score(%d,%v,%d)=%v want %v", testCase.impact, testCase.confidence, testCase.persistence, score, testCase.want)
		}
		if got := ClassifyScore(score); got != testCase.class {
			t.Fatalf("classify(%v)=%s want %s", score, got, testCase.class)
		}
	}
}

func TestComputeDriftScoreRejectsOutOfRange(t *testing.T) {
	testCases := []struct {
		name        string
		impact      int
		confidence  float64
		persistence int
	}{
		{name: "impact_zero", impact: 0, confidence: 0.5, persistence: 1},
		{name: "impact_six", impact: 6, confidence: 0.5, persistence: 1},
		{name: "confidence_low", impact: 3, confidence: 0.05, persistence: 1},
		{name: "confidence_high", impact: 3, confidence: 1.01, persistence: 1},
		{name: "confidence_nan", impact: 3, confidence: math.NaN(), persistence: 1},
		{name: "persistence_zero", impact: 3, confidence: 0.5, persistence: 0},
		{name: "persistence_negative", impact: 3, confidence: 0.5, persistence: -2},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			_, err := ComputeDriftScore(testCase.impact, testCase.confidence, testCase.persistence)
			if err == nil {
				t.Fatalf("expected invalid parameter error")
			}
			if coreerrors.CategoryOf(err) != coreerrors.CategoryInvalidParameter {
				t.Fatalf("unexpected category: %s", coreerrors.CategoryOf(err))
			}
		})
	}
}

func TestClassifyScoreBoundaries(t *testing.T) {
	testCases := []struct {
		score float64
		want  schemadrift.Classification
	}{
		{score: 0, want: schemadrift.ClassificationStable},
		{score: 0.01, want: schemadrift.ClassificationInfo},
		{score: 1.99, want: schemadrift.ClassificationInfo},
		{score: 2, want: schemadrift.ClassificationWarning},
		{score: 4.99, want: schemadrift.ClassificationWarning},
		{score: 5, want: schemadrift.ClassificationCritical},
		{score: 25, want: schemadrift.ClassificationCritical},
	}
	for _, testCase := range testCases {
		if got := ClassifyScore(testCase.score); got != testCase.want {
			t.Fatalf("classify(%v)=%s want %s", testCase.score, got, testCase.want)
		}
	}
}

func TestRequiresHumanJustification(t *testing.T) {
	if RequiresHumanJustification(1.99) {
		t.Fatalf("1.99 must not require justification")
	}
	if !RequiresHumanJustification(2) || !RequiresHumanJustification(9.5) {
		t.Fatalf("scores >= 2 must require justification")
	}
}
