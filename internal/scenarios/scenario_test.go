//go:build scenario

package scenarios

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/davidahmann/proofpack/internal/testutil"
)

type certifyOutput struct {
	OverallVerdict string `json:"overall_verdict"`
	Checks         []struct {
		ID       string   `json:"id"`
		Status   string   `json:"status"`
		Evidence []string `json:"evidence"`
	} `json:"checks"`
}

type compareOutput struct {
	Identical bool `json:"identical"`
}

type driftOutput struct {
	Results []struct {
		DriftID        string `json:"drift_id"`
		Type           string `json:"type"`
		Classification string `json:"classification"`
	} `json:"results"`
	Unjustified []string `json:"unjustified"`
}

func TestProofpackScenarios(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get cwd: %v", err)
	}
	repoRoot, err := findRepoRoot(cwd)
	if err != nil {
		t.Fatalf("find repo root: %v", err)
	}
	root := filepath.Join(repoRoot, scenarioRootRelativePath)
	binaryPath := testutil.BuildProofpackBinary(t, repoRoot)

	names := make([]string, 0, len(requiredScenarioMinimumFiles))
	for name := range requiredScenarioMinimumFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			scenarioPath := filepath.Join(root, name)
			expected, err := readExpected(filepath.Join(scenarioPath, "expected.yaml"))
			if err != nil {
				t.Fatalf("%v", err)
			}
			switch name {
			case "tamper-three-artifacts", "score-below-threshold":
				runCertifyScenario(t, binaryPath, scenarioPath, expected)
			case "replay-identical":
				runReplayScenario(t, binaryPath, scenarioPath, expected)
			case "drift-contract-upgrade":
				runDriftScenario(t, binaryPath, scenarioPath, expected)
			default:
				t.Fatalf("unsupported scenario: %s", name)
			}
		})
	}
}

func runCertifyScenario(t *testing.T, binaryPath, scenarioPath string, expected expectedYAML) {
	workDir := t.TempDir()
	runDir := buildScenarioRun(t, binaryPath, workDir, filepath.Join(scenarioPath, "spec.yaml"), "run_scenario")
	if expected.Tamper != "" {
		testutil.FlipByte(t, filepath.Join(runDir, filepath.FromSlash(expected.Tamper)), 0)
	}

	arguments := []string{"--json", "certify", runDir}
	if thresholds := filepath.Join(scenarioPath, "thresholds.yaml"); fileExists(thresholds) {
		arguments = append(arguments, "--thresholds", thresholds)
	}
	output, code := mustRunCommand(t, workDir, binaryPath, arguments...)
	if expected.CertifyExitCode != nil && code != *expected.CertifyExitCode {
		t.Fatalf("certify exit: expected %d got %d output=%s", *expected.CertifyExitCode, code, output)
	}
	var verdict certifyOutput
	decodeOutput(t, output, &verdict)
	failed := []string{}
	evidence := []string{}
	for _, check := range verdict.Checks {
		if check.Status == "FAIL" {
			failed = append(failed, check.ID)
		}
		evidence = append(evidence, check.Evidence...)
	}
	if expected.FailedChecks != nil && !reflect.DeepEqual(failed, expected.FailedChecks) {
		t.Fatalf("failed checks: expected %v got %v", expected.FailedChecks, failed)
	}
	for _, id := range expected.FailedChecksInclude {
		if !contains(failed, id) {
			t.Fatalf("expected failed check %s in %v", id, failed)
		}
	}
	if expected.EvidenceContains != "" && !strings.Contains(strings.Join(evidence, "\n"), expected.EvidenceContains) {
		t.Fatalf("evidence missing %q: %v", expected.EvidenceContains, evidence)
	}
	if expected.VerifyExitCode != nil {
		if output, code := mustRunCommand(t, workDir, binaryPath, "verify", "run", runDir); code != *expected.VerifyExitCode {
			t.Fatalf("verify exit: expected %d got %d output=%s", *expected.VerifyExitCode, code, output)
		}
	}
}

func runReplayScenario(t *testing.T, binaryPath, scenarioPath string, expected expectedYAML) {
	workDir := t.TempDir()
	specPath := filepath.Join(scenarioPath, "spec.yaml")
	baselineDir := buildScenarioRun(t, binaryPath, workDir, specPath, "run_baseline")
	replayDir := buildScenarioRun(t, binaryPath, workDir, specPath, "run_replay")

	output, code := mustRunCommand(t, workDir, binaryPath, "--json", "compare", baselineDir, replayDir)
	if expected.CompareExitCode != nil && code != *expected.CompareExitCode {
		t.Fatalf("compare exit: expected %d got %d output=%s", *expected.CompareExitCode, code, output)
	}
	var result compareOutput
	decodeOutput(t, output, &result)
	if expected.Identical != nil && result.Identical != *expected.Identical {
		t.Fatalf("identical: expected %t got %t", *expected.Identical, result.Identical)
	}
	if expected.WrongSeed != nil && expected.WrongSeedExitCode != nil {
		seed := strconv.FormatInt(*expected.WrongSeed, 10)
		if output, code := mustRunCommand(t, workDir, binaryPath, "compare", "--seed", seed, baselineDir, replayDir); code != *expected.WrongSeedExitCode {
			t.Fatalf("compare wrong seed: expected %d got %d output=%s", *expected.WrongSeedExitCode, code, output)
		}
	}
}

func runDriftScenario(t *testing.T, binaryPath, scenarioPath string, expected expectedYAML) {
	workDir := t.TempDir()
	specPath := filepath.Join(scenarioPath, "spec.yaml")
	baselineDir := buildScenarioRun(t, binaryPath, workDir, specPath, "run_base")
	matchingDir := buildScenarioRun(t, binaryPath, workDir, specPath, "run_match")
	upgradedDir := buildScenarioRun(t, binaryPath, workDir, filepath.Join(scenarioPath, "spec-upgraded.yaml"), "run_upgraded")

	output, code := mustRunCommand(t, workDir, binaryPath, "--json", "drift", "check", "--baseline", baselineDir, matchingDir, upgradedDir)
	if expected.DriftExitCode != nil && code != *expected.DriftExitCode {
		t.Fatalf("drift exit: expected %d got %d output=%s", *expected.DriftExitCode, code, output)
	}
	var report driftOutput
	decodeOutput(t, output, &report)
	if len(report.Results) != 1 {
		t.Fatalf("expected one finding, got %d output=%s", len(report.Results), output)
	}
	finding := report.Results[0]
	if finding.Type != expected.FindingType || finding.Classification != expected.Classification {
		t.Fatalf("unexpected finding: %#v", finding)
	}
	if expected.RequiresJustification && !contains(report.Unjustified, finding.DriftID) {
		t.Fatalf("expected %s to require justification: %v", finding.DriftID, report.Unjustified)
	}
}

func buildScenarioRun(t *testing.T, binaryPath, workDir, specPath, runID string) string {
	t.Helper()
	outDir := filepath.Join(workDir, "out")
	output, code := mustRunCommand(t, workDir, binaryPath, "build", specPath, "--out", outDir, "--run-id", runID)
	if code != 0 {
		t.Fatalf("build %s: exit %d output=%s", runID, code, output)
	}
	return filepath.Join(outDir, "runs", runID)
}

func mustRunCommand(t *testing.T, workDir string, binaryPath string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = workDir
	output, err := cmd.Output()
	return string(output), testutil.ExitCodeOf(t, err)
}

func decodeOutput(t *testing.T, output string, target any) {
	t.Helper()
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), target); err != nil {
		t.Fatalf("decode json output: %v output=%s", err, output)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
