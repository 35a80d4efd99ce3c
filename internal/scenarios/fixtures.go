package scenarios

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const scenarioRootRelativePath = "scenarios/proofpack"

var requiredScenarioMinimumFiles = map[string][]string{
	"tamper-three-artifacts": {"README.md", "spec.yaml", "expected.yaml", "inputs/intent.json", "inputs/trajectory.json", "inputs/book.md"},
	"replay-identical":       {"README.md", "spec.yaml", "expected.yaml", "inputs/intent.json", "inputs/book.md"},
	"drift-contract-upgrade": {"README.md", "spec.yaml", "spec-upgraded.yaml", "expected.yaml", "inputs/intent.json", "inputs/book.md"},
	"score-below-threshold":  {"README.md", "spec.yaml", "thresholds.yaml", "expected.yaml", "inputs/lint-report.json"},
}

// expectedYAML is the union of every scenario's expectations; each scenario
// sets only the fields it checks.
type expectedYAML struct {
	Tamper                string   `yaml:"tamper"`
	CertifyExitCode       *int     `yaml:"certify_exit_code"`
	VerifyExitCode        *int     `yaml:"verify_exit_code"`
	CompareExitCode       *int     `yaml:"compare_exit_code"`
	DriftExitCode         *int     `yaml:"drift_exit_code"`
	Identical             *bool    `yaml:"identical"`
	WrongSeed             *int64   `yaml:"wrong_seed"`
	WrongSeedExitCode     *int     `yaml:"wrong_seed_exit_code"`
	FailedChecks          []string `yaml:"failed_checks"`
	FailedChecksInclude   []string `yaml:"failed_checks_include"`
	EvidenceContains      string   `yaml:"evidence_contains"`
	FindingType           string   `yaml:"finding_type"`
	Classification        string   `yaml:"classification"`
	RequiresJustification bool     `yaml:"requires_justification"`
}

// readExpected decodes expected.yaml and rejects fields the harness does not know.
func readExpected(path string) (expectedYAML, error) {
	// #nosec G304 -- scenario fixtures live in the repository.
	raw, err := os.ReadFile(path)
	if err != nil {
		return expectedYAML{}, fmt.Errorf("read %s: %w", path, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	var expected expectedYAML
	if err := decoder.Decode(&expected); err != nil {
		return expectedYAML{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return expected, nil
}

// missingScenarioFiles lists, per scenario, the required files absent under root.
func missingScenarioFiles(root string) map[string][]string {
	missing := map[string][]string{}
	for name, files := range requiredScenarioMinimumFiles {
		for _, file := range files {
			if _, err := os.Stat(filepath.Join(root, name, filepath.FromSlash(file))); err != nil {
				missing[name] = append(missing[name], file)
			}
		}
	}
	return missing
}

func findRepoRoot(startDir string) (string, error) {
	current := startDir
	for {
		candidate := filepath.Join(current, "go.mod")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("unable to locate repository root from %s", startDir)
		}
		current = parent
	}
}
