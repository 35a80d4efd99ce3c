package drift

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/jcs"
	"github.com/davidahmann/proofpack/core/schema/validate"
	schemaproofpack "github.com/davidahmann/proofpack/core/schema/v1/proofpack"
)

const (
	BaselineSchemaID      = "proofpack.drift_baseline"
	BaselineSchemaVersion = "1.0.0"

	DefaultThroughputRatio = 0.2
	DefaultQualityDelta    = 0.05
)

// Observation is a read-only snapshot of one run, the only input detectors see.
type Observation struct {
	RunID          string             `json:"run_id" yaml:"run_id"`
	ContractDigest string             `json:"contract_digest" yaml:"contract_digest"`
	StageSequence  []string           `json:"stage_sequence" yaml:"stage_sequence"`
	ArtifactPaths  []string           `json:"artifact_paths" yaml:"artifact_paths"`
	Throughput     float64            `json:"throughput,omitempty" yaml:"throughput,omitempty"`
	QualityScores  map[string]float64 `json:"quality_scores,omitempty" yaml:"quality_scores,omitempty"`
}

type Tolerances struct {
	ThroughputRatio float64 `json:"throughput_ratio" yaml:"throughput_ratio"`
	QualityDelta    float64 `json:"quality_delta" yaml:"quality_delta"`
}

func DefaultTolerances() Tolerances {
	return Tolerances{ThroughputRatio: DefaultThroughputRatio, QualityDelta: DefaultQualityDelta}
}

// Baseline is the certified reference state observations are compared against.
type Baseline struct {
	SchemaID       string             `json:"schema_id" yaml:"schema_id"`
	SchemaVersion  string             `json:"schema_version" yaml:"schema_version"`
	RunID          string             `json:"run_id" yaml:"run_id"`
	ContractDigest string             `json:"contract_digest" yaml:"contract_digest"`
	StageSequence  []string           `json:"stage_sequence" yaml:"stage_sequence"`
	ArtifactPaths  []string           `json:"artifact_paths" yaml:"artifact_paths"`
	Throughput     float64            `json:"throughput,omitempty" yaml:"throughput,omitempty"`
	QualityScores  map[string]float64 `json:"quality_scores,omitempty" yaml:"quality_scores,omitempty"`
	Tolerances     Tolerances         `json:"tolerances" yaml:"tolerances"`
}

// ContractDigest is the digest of a run's version map, the contract a pipeline
// run is held to.
func ContractDigest(versions map[string]string) (string, error) {
	if versions == nil {
		versions = map[string]string{}
	}
	return jcs.DigestValue(versions)
}

func ObservationFromManifest(manifest schemaproofpack.Manifest) (Observation, error) {
	if strings.TrimSpace(manifest.RunID) == "" {
		return Observation{}, coreerrors.Validation("run_id", "")
	}
	contract, err := ContractDigest(manifest.Versions)
	if err != nil {
		return Observation{}, err
	}
	paths := make([]string, 0, len(manifest.Artifacts))
	for _, artifact := range manifest.Artifacts {
		paths = append(paths, artifact.Path)
	}
	sort.Strings(paths)
	return Observation{
		RunID:          manifest.RunID,
		ContractDigest: contract,
		StageSequence:  append([]string{}, manifest.StagesCompleted...),
		ArtifactPaths:  paths,
	}, nil
}

func BaselineFromManifest(manifest schemaproofpack.Manifest, tolerances Tolerances) (Baseline, error) {
	observation, err := ObservationFromManifest(manifest)
	if err != nil {
		return Baseline{}, err
	}
	return BaselineFromObservation(observation, tolerances), nil
}

func BaselineFromObservation(observation Observation, tolerances Tolerances) Baseline {
	return normalizeBaseline(Baseline{
		RunID:          observation.RunID,
		ContractDigest: observation.ContractDigest,
		StageSequence:  append([]string{}, observation.StageSequence...),
		ArtifactPaths:  append([]string{}, observation.ArtifactPaths...),
		Throughput:     observation.Throughput,
		QualityScores:  copyScores(observation.QualityScores),
		Tolerances:     tolerances,
	})
}

// LoadBaseline reads a YAML or JSON baseline file and validates it.
func LoadBaseline(path string) (Baseline, error) {
	// #nosec G304 -- caller supplies the baseline path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Baseline{}, coreerrors.IOError(err, "read drift baseline")
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = validate.ValidateJSON(validate.SchemaDriftBaseline, raw)
	} else {
		err = validate.ValidateYAML(validate.SchemaDriftBaseline, raw)
	}
	if err != nil {
		return Baseline{}, err
	}
	var baseline Baseline
	if err := yaml.Unmarshal(raw, &baseline); err != nil {
		return Baseline{}, coreerrors.ParseError(err, "drift baseline")
	}
	return normalizeBaseline(baseline), nil
}

func normalizeBaseline(baseline Baseline) Baseline {
	baseline.SchemaID = BaselineSchemaID
	baseline.SchemaVersion = BaselineSchemaVersion
	baseline.RunID = strings.TrimSpace(baseline.RunID)
	sorted := append([]string{}, baseline.ArtifactPaths...)
	sort.Strings(sorted)
	baseline.ArtifactPaths = sorted
	if baseline.Tolerances.ThroughputRatio <= 0 {
		baseline.Tolerances.ThroughputRatio = DefaultThroughputRatio
	}
	if baseline.Tolerances.QualityDelta <= 0 {
		baseline.Tolerances.QualityDelta = DefaultQualityDelta
	}
	return baseline
}

func copyScores(scores map[string]float64) map[string]float64 {
	if scores == nil {
		return nil
	}
	copied := make(map[string]float64, len(scores))
	for key, value := range scores {
		copied[key] = value
	}
	return copied
}
