// Package drift compares runs against a certified baseline, scores each
// deviation as impact * confidence * persistence and classifies it.
package drift

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	schemadrift "github.com/davidahmann/proofpack/core/schema/v1/drift"
)

const (
	ReportSchemaID      = "proofpack.drift_report"
	ReportSchemaVersion = "1.0.0"
)

type Engine struct {
	Detectors []Detector
}

// NewEngine returns an engine with the built-in detectors. Findings persisting
// for fewer than persistenceMin observations are suppressed.
func NewEngine(persistenceMin int) *Engine {
	return &Engine{Detectors: []Detector{
		ContractDetector{PersistenceMin: persistenceMin},
		PerformanceDetector{PersistenceMin: persistenceMin},
		StructuralDetector{PersistenceMin: persistenceMin},
		QualitativeDetector{PersistenceMin: persistenceMin},
	}}
}

// Run evaluates every detector concurrently. Results keep detector order.
func (e *Engine) Run(ctx context.Context, baseline Baseline, observations []Observation) (schemadrift.Report, error) {
	if strings.TrimSpace(baseline.RunID) == "" {
		return schemadrift.Report{}, coreerrors.Validation("baseline.run_id", "")
	}
	if len(observations) == 0 {
		return schemadrift.Report{}, coreerrors.Validation("observations", "at least one observation is required")
	}
	for _, observation := range observations {
		if strings.TrimSpace(observation.RunID) == "" {
			return schemadrift.Report{}, coreerrors.Validation("observation.run_id", "")
		}
	}
	detectors := e.Detectors
	if len(detectors) == 0 {
		detectors = NewEngine(1).Detectors
	}

	findings := make([]*schemadrift.Result, len(detectors))
	group, groupCtx := errgroup.WithContext(ctx)
	for index, detector := range detectors {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			result, err := detector.Detect(baseline, observations)
			if err != nil {
				return err
			}
			findings[index] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return schemadrift.Report{}, err
	}

	results := make([]schemadrift.Result, 0, len(findings))
	for _, finding := range findings {
		if finding != nil {
			results = append(results, *finding)
		}
	}
	runIDs := make([]string, 0, len(observations))
	for _, observation := range observations {
		runIDs = append(runIDs, observation.RunID)
	}
	return summarize(schemadrift.Report{
		SchemaID:       ReportSchemaID,
		SchemaVersion:  ReportSchemaVersion,
		BaselineRunID:  baseline.RunID,
		ObservedRunIDs: runIDs,
		Results:        results,
	}), nil
}

// Justify returns a copy of report with text attached to driftID. The input
// report is left untouched.
func Justify(report schemadrift.Report, driftID, text string) (schemadrift.Report, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return schemadrift.Report{}, coreerrors.Validation("justification", "")
	}
	updated := report
	updated.ObservedRunIDs = append([]string{}, report.ObservedRunIDs...)
	updated.Results = make([]schemadrift.Result, len(report.Results))
	found := false
	for index, result := range report.Results {
		result.Evidence = append([]string{}, result.Evidence...)
		if result.DriftID == driftID {
			result.HumanJustification = text
			found = true
		}
		updated.Results[index] = result
	}
	if !found {
		return schemadrift.Report{}, coreerrors.Validation("drift_id", "no finding with id "+driftID)
	}
	return summarize(updated), nil
}

func summarize(report schemadrift.Report) schemadrift.Report {
	report.Highest = schemadrift.ClassificationStable
	report.Unjustified = nil
	report.DriftDetected = false
	for _, result := range report.Results {
		if Worse(result.Classification, report.Highest) {
			report.Highest = result.Classification
		}
		if result.Classification != schemadrift.ClassificationStable {
			report.DriftDetected = true
		}
		if RequiresHumanJustification(result.Score) && result.HumanJustification == "" {
			report.Unjustified = append(report.Unjustified, result.DriftID)
		}
	}
	return report
}
