package drift

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/davidahmann/proofpack/core/jcs"
	schemadrift "github.com/davidahmann/proofpack/core/schema/v1/drift"
)

const (
	contractConfidence    = 1.0
	structuralConfidence  = 1.0
	performanceConfidence = 0.8
	qualitativeConfidence = 0.7
)

// Detector inspects a baseline and an ordered window of observations and returns
// at most one finding. A nil result means no drift of that kind.
type Detector interface {
	Type() schemadrift.DetectorType
	Detect(baseline Baseline, observations []Observation) (*schemadrift.Result, error)
}

// offense describes how one observation deviates from the baseline.
type offense struct {
	impact   int
	evidence string
	observed string
}

type offenseFunc func(baseline Baseline, observation Observation) (offense, bool)

// detectTrailing scores the trailing run of offending observations. Persistence
// is the length of that run; an observation inside tolerance resets it.
func detectTrailing(
	kind schemadrift.DetectorType,
	confidence float64,
	persistenceMin int,
	baseline Baseline,
	baselineValue string,
	observations []Observation,
	check offenseFunc,
) (*schemadrift.Result, error) {
	trailing := make([]offense, 0, len(observations))
	runIDs := make([]string, 0, len(observations))
	for index := len(observations) - 1; index >= 0; index-- {
		found, ok := check(baseline, observations[index])
		if !ok {
			break
		}
		trailing = append(trailing, found)
		runIDs = append(runIDs, observations[index].RunID)
	}
	if len(trailing) == 0 {
		return nil, nil
	}
	if persistenceMin < 1 {
		persistenceMin = 1
	}
	if len(trailing) < persistenceMin {
		return nil, nil
	}

	impact := 0
	evidence := make([]string, 0, len(trailing))
	for index := len(trailing) - 1; index >= 0; index-- {
		if trailing[index].impact > impact {
			impact = trailing[index].impact
		}
		evidence = append(evidence, trailing[index].evidence)
	}
	score, err := ComputeDriftScore(impact, confidence, len(trailing))
	if err != nil {
		return nil, err
	}
	observedValue := trailing[0].observed
	driftID, err := jcs.DigestValue(map[string]any{
		"type":           kind,
		"baseline":       baseline.RunID,
		"observed_runs":  runIDs,
		"observed_value": observedValue,
	})
	if err != nil {
		return nil, err
	}
	return &schemadrift.Result{
		DriftID:        "drift_" + driftID[:16],
		Type:           kind,
		Impact:         impact,
		Confidence:     confidence,
		Persistence:    len(trailing),
		Score:          score,
		Classification: ClassifyScore(score),
		Evidence:       evidence,
		BaselineValue:  baselineValue,
		ObservedValue:  observedValue,
	}, nil
}

// ContractDetector flags runs whose contract digest differs from the baseline
// (impact 4) or whose stage sequence diverges under the same contract (impact 3).
type ContractDetector struct {
	PersistenceMin int
}

func (ContractDetector) Type() schemadrift.DetectorType { return schemadrift.TypeContract }

func (d ContractDetector) Detect(baseline Baseline, observations []Observation) (*schemadrift.Result, error) {
	return detectTrailing(schemadrift.TypeContract, contractConfidence, d.PersistenceMin, baseline, baseline.ContractDigest, observations,
		func(baseline Baseline, observation Observation) (offense, bool) {
			if observation.ContractDigest != baseline.ContractDigest {
				return offense{
					impact:   4,
					evidence: fmt.Sprintf("run=%s contract_digest expected=%s actual=%s", observation.RunID, baseline.ContractDigest, observation.ContractDigest),
					observed: observation.ContractDigest,
				}, true
			}
			if !equalStrings(observation.StageSequence, baseline.StageSequence) {
				return offense{
					impact:   3,
					evidence: fmt.Sprintf("run=%s stage_sequence expected=%s actual=%s", observation.RunID, strings.Join(baseline.StageSequence, ","), strings.Join(observation.StageSequence, ",")),
					observed: "stages:" + strings.Join(observation.StageSequence, ","),
				}, true
			}
			return offense{}, false
		})
}

// StructuralDetector flags artifact sets that lose baseline paths (impact 4) or
// only gain new ones (impact 2).
type StructuralDetector struct {
	PersistenceMin int
}

func (StructuralDetector) Type() schemadrift.DetectorType { return schemadrift.TypeStructural }

func (d StructuralDetector) Detect(baseline Baseline, observations []Observation) (*schemadrift.Result, error) {
	baselineValue := strconv.Itoa(len(baseline.ArtifactPaths)) + " artifacts"
	return detectTrailing(schemadrift.TypeStructural, structuralConfidence, d.PersistenceMin, baseline, baselineValue, observations,
		func(baseline Baseline, observation Observation) (offense, bool) {
			missing, extra := diffPaths(baseline.ArtifactPaths, observation.ArtifactPaths)
			if len(missing) == 0 && len(extra) == 0 {
				return offense{}, false
			}
			impact := 2
			if len(missing) > 0 {
				impact = 4
			}
			return offense{
				impact:   impact,
				evidence: fmt.Sprintf("run=%s missing=[%s] extra=[%s]", observation.RunID, strings.Join(missing, ","), strings.Join(extra, ",")),
				observed: strconv.Itoa(len(observation.ArtifactPaths)) + " artifacts",
			}, true
		})
}

// PerformanceDetector flags throughput outside the baseline ratio tolerance.
// Runs without a throughput measurement never offend.
type PerformanceDetector struct {
	PersistenceMin int
}

func (PerformanceDetector) Type() schemadrift.DetectorType { return schemadrift.TypePerformance }

func (d PerformanceDetector) Detect(baseline Baseline, observations []Observation) (*schemadrift.Result, error) {
	if baseline.Throughput <= 0 {
		return nil, nil
	}
	return detectTrailing(schemadrift.TypePerformance, performanceConfidence, d.PersistenceMin, baseline, formatFloat(baseline.Throughput), observations,
		func(baseline Baseline, observation Observation) (offense, bool) {
			if observation.Throughput <= 0 {
				return offense{}, false
			}
			ratio := math.Abs(observation.Throughput-baseline.Throughput) / baseline.Throughput
			if ratio <= baseline.Tolerances.ThroughputRatio {
				return offense{}, false
			}
			impact := 2
			if ratio >= 0.5 {
				impact = 3
			}
			return offense{
				impact:   impact,
				evidence: fmt.Sprintf("run=%s throughput expected=%s actual=%s ratio=%s tolerance=%s", observation.RunID, formatFloat(baseline.Throughput), formatFloat(observation.Throughput), formatFloat(ratio), formatFloat(baseline.Tolerances.ThroughputRatio)),
				observed: formatFloat(observation.Throughput),
			}, true
		})
}

// QualitativeDetector flags quality scores that fall more than the allowed
// delta below the baseline, or that disappear.
type QualitativeDetector struct {
	PersistenceMin int
}

func (QualitativeDetector) Type() schemadrift.DetectorType { return schemadrift.TypeQualitative }

func (d QualitativeDetector) Detect(baseline Baseline, observations []Observation) (*schemadrift.Result, error) {
	if len(baseline.QualityScores) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(baseline.QualityScores))
	for key := range baseline.QualityScores {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	baselineValue := formatScores(keys, baseline.QualityScores)

	return detectTrailing(schemadrift.TypeQualitative, qualitativeConfidence, d.PersistenceMin, baseline, baselineValue, observations,
		func(baseline Baseline, observation Observation) (offense, bool) {
			impact := 0
			findings := []string{}
			for _, key := range keys {
				expected := baseline.QualityScores[key]
				actual, ok := observation.QualityScores[key]
				if !ok {
					findings = append(findings, key+"=missing")
					impact = max(impact, 3)
					continue
				}
				drop := expected - actual
				if drop <= baseline.Tolerances.QualityDelta {
					continue
				}
				findings = append(findings, fmt.Sprintf("%s expected=%s actual=%s", key, formatFloat(expected), formatFloat(actual)))
				switch {
				case drop >= 0.2:
					impact = max(impact, 4)
				case drop >= 0.1:
					impact = max(impact, 3)
				default:
					impact = max(impact, 2)
				}
			}
			if len(findings) == 0 {
				return offense{}, false
			}
			return offense{
				impact:   impact,
				evidence: fmt.Sprintf("run=%s %s", observation.RunID, strings.Join(findings, " ")),
				observed: formatScores(keys, observation.QualityScores),
			}, true
		})
}

func diffPaths(expected, actual []string) ([]string, []string) {
	actualSet := make(map[string]struct{}, len(actual))
	for _, path := range actual {
		actualSet[path] = struct{}{}
	}
	expectedSet := make(map[string]struct{}, len(expected))
	missing := []string{}
	for _, path := range expected {
		expectedSet[path] = struct{}{}
		if _, ok := actualSet[path]; !ok {
			missing = append(missing, path)
		}
	}
	extra := []string{}
	for _, path := range actual {
		if _, ok := expectedSet[path]; !ok {
			extra = append(extra, path)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}

func equalStrings(left, right []string) bool {
	if len(left) != len(right) {
		return false
	}
	for index := range left {
		if left[index] != right[index] {
			return false
		}
	}
	return true
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func formatScores(keys []string, scores map[string]float64) string {
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value, ok := scores[key]
		if !ok {
			parts = append(parts, key+"=missing")
			continue
		}
		parts = append(parts, key+"="+formatFloat(value))
	}
	return strings.Join(parts, ",")
}
