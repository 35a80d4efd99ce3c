package certify

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/jcs"
	"github.com/davidahmann/proofpack/core/proofpack"
	"github.com/davidahmann/proofpack/core/schema/validate"
)

const (
	ThresholdsSchemaID      = "proofpack.certify_thresholds"
	ThresholdsSchemaVersion = "1.0.0"

	defaultMinArtifacts = 1
	defaultMaxArtifacts = 10000
	defaultVerdict      = "PASS"
)

// Thresholds is the data-driven bar a run is certified against. Score keys use
// "<artifact path>#<dotted json path>", for example "lint/lint-report.json#summary.score".
type Thresholds struct {
	SchemaID            string             `json:"schema_id" yaml:"schema_id"`
	SchemaVersion       string             `json:"schema_version" yaml:"schema_version"`
	StageSequence       []string           `json:"stage_sequence" yaml:"stage_sequence"`
	RequiredStages      []string           `json:"required_stages" yaml:"required_stages"`
	RequiredReports     []string           `json:"required_reports" yaml:"required_reports"`
	MinScores           map[string]float64 `json:"min_scores" yaml:"min_scores"`
	ExpectedVerdict     string             `json:"expected_verdict" yaml:"expected_verdict"`
	MinArtifacts        int                `json:"min_artifacts" yaml:"min_artifacts"`
	MaxArtifacts        int                `json:"max_artifacts" yaml:"max_artifacts"`
	WarnOnMissingScores bool               `json:"warn_on_missing_scores" yaml:"warn_on_missing_scores"`
}

func DefaultThresholds() Thresholds {
	thresholds, _ := Normalize(Thresholds{})
	return thresholds
}

// LoadThresholds reads a YAML (or JSON) thresholds file, validates it against the
// embedded schema and fills unset fields with defaults.
func LoadThresholds(path string) (Thresholds, error) {
	// #nosec G304 -- caller supplies the thresholds path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, coreerrors.IOError(err, "read certify thresholds")
	}
	return ParseThresholds(raw)
}

func ParseThresholds(raw []byte) (Thresholds, error) {
	if err := validate.ValidateYAML(validate.SchemaCertifyThresholds, raw); err != nil {
		return Thresholds{}, err
	}
	var thresholds Thresholds
	if err := yaml.Unmarshal(raw, &thresholds); err != nil {
		return Thresholds{}, coreerrors.ParseError(err, "certify thresholds")
	}
	return Normalize(thresholds)
}

// Normalize fills defaults and rejects contradictory thresholds.
func Normalize(input Thresholds) (Thresholds, error) {
	output := Thresholds{
		SchemaID:            ThresholdsSchemaID,
		SchemaVersion:       ThresholdsSchemaVersion,
		StageSequence:       trimAll(input.StageSequence),
		RequiredStages:      trimAll(input.RequiredStages),
		RequiredReports:     trimAll(input.RequiredReports),
		MinScores:           map[string]float64{},
		ExpectedVerdict:     strings.TrimSpace(input.ExpectedVerdict),
		MinArtifacts:        input.MinArtifacts,
		MaxArtifacts:        input.MaxArtifacts,
		WarnOnMissingScores: input.WarnOnMissingScores,
	}
	if len(output.StageSequence) == 0 {
		output.StageSequence = proofpack.DefaultStageSequence()
	}
	if input.RequiredStages == nil {
		output.RequiredStages = terminalStages(output.StageSequence)
	}
	if output.ExpectedVerdict == "" {
		output.ExpectedVerdict = defaultVerdict
	}
	if output.MinArtifacts <= 0 {
		output.MinArtifacts = defaultMinArtifacts
	}
	if output.MaxArtifacts <= 0 {
		output.MaxArtifacts = defaultMaxArtifacts
	}
	if output.MinArtifacts > output.MaxArtifacts {
		return Thresholds{}, coreerrors.InvalidParameter("min_artifacts", output.MinArtifacts, fmt.Sprintf("must not exceed max_artifacts=%d", output.MaxArtifacts))
	}

	seen := map[string]struct{}{}
	for _, stage := range output.StageSequence {
		if _, ok := seen[stage]; ok {
			return Thresholds{}, coreerrors.Validation("stage_sequence", "duplicate stage "+stage)
		}
		seen[stage] = struct{}{}
	}
	for _, stage := range output.RequiredStages {
		if _, ok := seen[stage]; !ok {
			return Thresholds{}, coreerrors.Validation("required_stages", "stage "+stage+" is not in stage_sequence")
		}
	}
	for key, value := range input.MinScores {
		key = strings.TrimSpace(key)
		if _, _, err := proofpack.SplitScoreKey(key); err != nil {
			return Thresholds{}, err
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return Thresholds{}, coreerrors.InvalidParameter("min_scores."+key, value, "must be finite")
		}
		output.MinScores[key] = value
	}
	sort.Strings(output.RequiredReports)
	return output, nil
}

// Digest identifies the normalized thresholds a verdict was produced against.
func (t Thresholds) Digest() (string, error) {
	return jcs.DigestValue(t)
}

// terminalStages returns the first and last stage of sequence.
func terminalStages(sequence []string) []string {
	if len(sequence) == 1 {
		return []string{sequence[0]}
	}
	return []string{sequence[0], sequence[len(sequence)-1]}
}

func trimAll(values []string) []string {
	output := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			output = append(output, trimmed)
		}
	}
	return output
}
