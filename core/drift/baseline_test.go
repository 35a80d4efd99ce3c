package drift

import (
	"path/filepath"
	"testing"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/proofpack"
	"github.com/davidahmann/proofpack/core/proofpack/proofpacktest"
	"github.com/davidahmann/proofpack/internal/testutil"
)

const sampleDigest = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestLoadBaselineYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "baseline.yaml")
	testutil.WriteFile(t, yamlPath, []byte("run_id: run_certified\n"+
		"contract_digest: "+sampleDigest+"\n"+
		"stage_sequence: [intent, final]\n"+
		"artifact_paths: [final/book.md, intent/intent.json]\n"+
		"throughput: 120.5\n"+
		"quality_scores:\n  lint: 0.92\n"+
		"tolerances:\n  throughput_ratio: 0.25\n"))
	baseline, err := LoadBaseline(yamlPath)
	if err != nil {
		t.Fatalf("load yaml baseline: %v", err)
	}
	if baseline.RunID != "run_certified" || baseline.ContractDigest != sampleDigest {
		t.Fatalf("unexpected baseline identity: %#v", baseline)
	}
	if baseline.ArtifactPaths[0] != "final/book.md" || baseline.ArtifactPaths[1] != "intent/intent.json" {
		t.Fatalf("expected sorted artifact paths: %v", baseline.ArtifactPaths)
	}
	if baseline.Throughput != 120.5 || baseline.QualityScores["lint"] != 0.92 {
		t.Fatalf("unexpected measurements: %#v", baseline)
	}
	if baseline.Tolerances.ThroughputRatio != 0.25 || baseline.Tolerances.QualityDelta != DefaultQualityDelta {
		t.Fatalf("unexpected tolerances: %#v", baseline.Tolerances)
	}
	if baseline.SchemaID != BaselineSchemaID {
		t.Fatalf("unexpected schema id: %s", baseline.SchemaID)
	}

	jsonPath := filepath.Join(dir, "baseline.json")
	testutil.WriteFile(t, jsonPath, []byte(`{"run_id":"run_certified","contract_digest":"`+sampleDigest+`","stage_sequence":["intent","final"]}`))
	fromJSON, err := LoadBaseline(jsonPath)
	if err != nil {
		t.Fatalf("load json baseline: %v", err)
	}
	if len(fromJSON.StageSequence) != 2 || fromJSON.Tolerances.ThroughputRatio != DefaultThroughputRatio {
		t.Fatalf("unexpected json baseline: %#v", fromJSON)
	}
}

func TestLoadBaselineErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadBaseline(filepath.Join(dir, "missing.yaml")); coreerrors.CategoryOf(err) != coreerrors.CategoryIOFailure {
		t.Fatalf("expected io failure, got %v", err)
	}
	invalid := filepath.Join(dir, "invalid.yaml")
	testutil.WriteFile(t, invalid, []byte("run_id: run_certified\ncontract_digest: not-a-digest\nstage_sequence: [intent]\n"))
	if _, err := LoadBaseline(invalid); coreerrors.CategoryOf(err) != coreerrors.CategoryValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestObservationFromManifest(t *testing.T) {
	build, err := proofpack.BuildManifest(proofpacktest.Options("run_observed"))
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	observation, err := ObservationFromManifest(build.Manifest)
	if err != nil {
		t.Fatalf("observation from manifest: %v", err)
	}
	if observation.RunID != "run_observed" {
		t.Fatalf("unexpected run id: %s", observation.RunID)
	}
	wantContract, err := ContractDigest(build.Manifest.Versions)
	if err != nil {
		t.Fatalf("contract digest: %v", err)
	}
	if observation.ContractDigest != wantContract {
		t.Fatalf("unexpected contract digest: %s", observation.ContractDigest)
	}
	if len(observation.ArtifactPaths) != len(build.Manifest.Artifacts) {
		t.Fatalf("unexpected artifact paths: %v", observation.ArtifactPaths)
	}
	for index := 1; index < len(observation.ArtifactPaths); index++ {
		if observation.ArtifactPaths[index-1] > observation.ArtifactPaths[index] {
			t.Fatalf("artifact paths must be sorted: %v", observation.ArtifactPaths)
		}
	}

	baseline, err := BaselineFromManifest(build.Manifest, DefaultTolerances())
	if err != nil {
		t.Fatalf("baseline from manifest: %v", err)
	}
	report, err := NewEngine(1).Run(t.Context(), baseline, []Observation{observation})
	if err != nil {
		t.Fatalf("run engine: %v", err)
	}
	if report.DriftDetected || len(report.Results) != 0 {
		t.Fatalf("identical run must not drift: %#v", report)
	}
}
