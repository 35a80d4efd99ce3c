package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/davidahmann/proofpack/core/drift"
	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/fsx"
	"github.com/davidahmann/proofpack/core/proofpack"
	schemadrift "github.com/davidahmann/proofpack/core/schema/v1/drift"
	schemaledger "github.com/davidahmann/proofpack/core/schema/v1/ledger"
)

type observationsFile struct {
	Observations []drift.Observation `yaml:"observations"`
}

type driftOutput struct {
	schemadrift.Report
	LedgerEventIDs []string `json:"ledger_event_ids,omitempty"`
}

func newDriftCmd(application *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Score drift of runs against a certified baseline",
	}
	cmd.AddCommand(newDriftCheckCmd(application), newDriftBaselineCmd(application))
	return cmd
}

func newDriftCheckCmd(application *app) *cobra.Command {
	var baselinePath string
	var observationsPath string
	var quality []string
	var justifications []string
	var persistenceMin int
	var ledgerPath string

	cmd := &cobra.Command{
		Use:   "check [run-dir...]",
		Short: "Run every detector over the observed runs, oldest first",
		Long: `Compare observed runs (run directories and/or an observations file) with a
baseline (a baseline YAML file or a certified run directory). Findings with a
score of 2 or more need a human justification (--justify <drift_id>=<text>).
Exits 6 when drift is detected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configuration, err := application.config()
			if err != nil {
				return application.failure(err)
			}
			qualityKeys, err := parseAssignments("quality", quality)
			if err != nil {
				return application.failure(err)
			}
			tolerances := drift.Tolerances{
				ThroughputRatio: configuration.Drift.ThroughputRatio,
				QualityDelta:    configuration.Drift.QualityDelta,
			}
			baselineSource := firstNonEmpty(baselinePath, configuration.Drift.Baseline)
			if baselineSource == "" {
				return application.failure(usageError("--baseline is required (or drift.baseline in config)"))
			}
			baseline, err := loadDriftBaseline(baselineSource, tolerances, qualityKeys)
			if err != nil {
				return application.failure(err)
			}

			var observations []drift.Observation
			if observationsPath != "" {
				observations, err = loadObservations(observationsPath)
				if err != nil {
					return application.failure(err)
				}
			}
			for _, dir := range args {
				observation, err := observeRun(dir, qualityKeys)
				if err != nil {
					return application.failure(err)
				}
				observations = append(observations, observation)
			}
			if len(observations) == 0 {
				return application.failure(usageError("at least one run directory or --observations file is required"))
			}

			minimum := persistenceMin
			if minimum == 0 {
				minimum = max(configuration.Drift.PersistenceMin, 1)
			}
			report, err := drift.NewEngine(minimum).Run(cmd.Context(), baseline, observations)
			if err != nil {
				return application.failure(err)
			}
			justified, err := parseAssignments("justify", justifications)
			if err != nil {
				return application.failure(err)
			}
			for _, driftID := range sortedKeys(justified) {
				report, err = drift.Justify(report, driftID, justified[driftID])
				if err != nil {
					return application.failure(err)
				}
			}
			for _, driftID := range report.Unjustified {
				application.log().Warnf("finding %s requires a human justification", driftID)
			}

			output := driftOutput{Report: report}
			events, err := application.openLedger(ledgerPath)
			if err != nil {
				return application.failure(err)
			}
			for _, result := range report.Results {
				eventID, err := application.recordEvent(events, baseline.RunID, schemaledger.KindDriftFinding, baseline.ContractDigest, result,
					map[string]any{"drift_id": result.DriftID, "type": string(result.Type), "classification": string(result.Classification)})
				if err != nil {
					return application.failure(err)
				}
				if eventID != "" {
					output.LedgerEventIDs = append(output.LedgerEventIDs, eventID)
				}
			}

			lines := []string{fmt.Sprintf("drift baseline=%s runs=%d highest=%s", report.BaselineRunID, len(report.ObservedRunIDs), report.Highest)}
			for _, result := range report.Results {
				line := fmt.Sprintf("  %s %-20s %-8s score=%s persistence=%d", result.DriftID, result.Type, result.Classification, formatScore(result.Score), result.Persistence)
				if result.HumanJustification != "" {
					line += " justified"
				}
				lines = append(lines, line)
				for _, evidence := range result.Evidence {
					lines = append(lines, "    - "+evidence)
				}
			}
			exitCode := exitOK
			if report.DriftDetected {
				exitCode = exitDriftDetected
			}
			return application.report(output, lines, exitCode)
		},
	}
	cmd.Flags().StringVar(&baselinePath, "baseline", "", "baseline YAML/JSON file or certified run directory")
	cmd.Flags().StringVar(&observationsPath, "observations", "", "YAML file with an observations list")
	cmd.Flags().StringArrayVar(&quality, "quality", nil, "quality score name=<artifact path>#<json path>, repeatable")
	cmd.Flags().StringArrayVar(&justifications, "justify", nil, "attach a justification <drift_id>=<text>, repeatable")
	cmd.Flags().IntVar(&persistenceMin, "persistence-min", 0, "suppress findings persisting for fewer observations")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "ledger NDJSON path to record drift.finding events")
	return cmd
}

func newDriftBaselineCmd(application *app) *cobra.Command {
	var outPath string
	var quality []string
	var throughput float64

	cmd := &cobra.Command{
		Use:   "baseline <run-dir>",
		Short: "Snapshot a certified run as a drift baseline YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configuration, err := application.config()
			if err != nil {
				return application.failure(err)
			}
			if outPath == "" {
				return application.failure(usageError("--out is required"))
			}
			qualityKeys, err := parseAssignments("quality", quality)
			if err != nil {
				return application.failure(err)
			}
			observation, err := observeRun(args[0], qualityKeys)
			if err != nil {
				return application.failure(err)
			}
			observation.Throughput = throughput
			baseline := drift.BaselineFromObservation(observation, drift.Tolerances{
				ThroughputRatio: configuration.Drift.ThroughputRatio,
				QualityDelta:    configuration.Drift.QualityDelta,
			})
			encoded, err := yaml.Marshal(baseline)
			if err != nil {
				return application.failure(coreerrors.Serialization(err))
			}
			if err := fsx.WriteFileExclusive(outPath, encoded, 0o644); err != nil {
				return application.failure(err)
			}
			return application.report(baseline, []string{
				fmt.Sprintf("drift baseline %s written to %s", baseline.RunID, outPath),
			}, exitOK)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "baseline file to create")
	cmd.Flags().StringArrayVar(&quality, "quality", nil, "quality score name=<artifact path>#<json path>, repeatable")
	cmd.Flags().Float64Var(&throughput, "throughput", 0, "measured throughput of the run")
	return cmd
}

// loadDriftBaseline accepts a baseline file or a run directory.
func loadDriftBaseline(source string, tolerances drift.Tolerances, qualityKeys map[string]string) (drift.Baseline, error) {
	info, err := os.Stat(source)
	if err != nil {
		return drift.Baseline{}, coreerrors.IOError(err, "stat drift baseline")
	}
	if !info.IsDir() {
		return drift.LoadBaseline(source)
	}
	observation, err := observeRun(source, qualityKeys)
	if err != nil {
		return drift.Baseline{}, err
	}
	return drift.BaselineFromObservation(observation, tolerances), nil
}

func observeRun(dir string, qualityKeys map[string]string) (drift.Observation, error) {
	pack, err := proofpack.Open(dir)
	if err != nil {
		return drift.Observation{}, err
	}
	observation, err := drift.ObservationFromManifest(pack.Manifest)
	if err != nil {
		return drift.Observation{}, err
	}
	if len(qualityKeys) == 0 {
		return observation, nil
	}
	observation.QualityScores = make(map[string]float64, len(qualityKeys))
	for name, key := range qualityKeys {
		value, err := pack.Score(key)
		if err != nil {
			return drift.Observation{}, fmt.Errorf("run %s quality %s: %w", observation.RunID, name, err)
		}
		observation.QualityScores[name] = value
	}
	return observation, nil
}

func loadObservations(path string) ([]drift.Observation, error) {
	// #nosec G304 -- observations path is explicit local user input.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerrors.IOError(err, "read observations")
	}
	var file observationsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, coreerrors.ParseError(err, "observations")
	}
	for index := range file.Observations {
		sort.Strings(file.Observations[index].ArtifactPaths)
	}
	return file.Observations, nil
}

// parseAssignments splits repeated name=value flags at the first '='.
func parseAssignments(flag string, values []string) (map[string]string, error) {
	parsed := make(map[string]string, len(values))
	for _, value := range values {
		name, assigned, ok := strings.Cut(value, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.TrimSpace(assigned) == "" {
			return nil, usageError(fmt.Sprintf("--%s expects name=value, got %q", flag, value))
		}
		if _, exists := parsed[name]; exists {
			return nil, usageError(fmt.Sprintf("--%s %s given twice", flag, name))
		}
		parsed[name] = strings.TrimSpace(assigned)
	}
	return parsed, nil
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func formatScore(score float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", score), "0"), ".")
}
