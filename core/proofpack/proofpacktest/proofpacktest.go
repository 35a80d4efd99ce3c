// Package proofpacktest writes small, fully valid proofpacks for tests in other packages.
package proofpacktest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/davidahmann/proofpack/core/jcs"
	"github.com/davidahmann/proofpack/core/merkle"
	"github.com/davidahmann/proofpack/core/proofpack"
	schemaproofpack "github.com/davidahmann/proofpack/core/schema/v1/proofpack"
)

// Options returns a four-stage run: intent, trajectory, lint report, final prose.
func Options(runID string) proofpack.BuildOptions {
	return proofpack.BuildOptions{
		RunID:    runID,
		Seed:     7,
		Versions: map[string]string{"pipeline": "1.4.0", "style_genome": "2026.09"},
		Verdict:  "PASS",
		Stages: []proofpack.StageOutput{
			{
				StageID:   "intent",
				Input:     map[string]any{"premise": "a lighthouse keeper finds a map", "chapters": 3},
				Artifacts: []proofpack.Artifact{{Filename: "intent.json", Data: []byte(`{"premise":"a lighthouse keeper finds a map"}` + "\n")}},
			},
			{
				StageID:   "trajectory",
				Artifacts: []proofpack.Artifact{{Filename: "trajectory.json", Data: []byte(`{"arc":[0.1,0.4,0.9]}` + "\n")}},
			},
			{
				StageID:   "lint",
				Artifacts: []proofpack.Artifact{{Filename: "lint-report.json", Data: []byte(`{"score":0.93,"summary":{"banned_words":0}}` + "\n")}},
			},
			{
				StageID: "final",
				Artifacts: []proofpack.Artifact{
					{Filename: "book.md", Data: []byte("# Chapter 1\r\nThe light turned.\r\n")},
					{Filename: "book.meta.json", Data: []byte(`{"words":3}` + "\n")},
				},
			},
		},
	}
}

// Write persists Options(runID) under outDir and returns the run directory.
func Write(t *testing.T, outDir, runID string) proofpack.WriteResult {
	t.Helper()
	return WriteOptions(t, outDir, Options(runID))
}

func WriteOptions(t *testing.T, outDir string, opts proofpack.BuildOptions) proofpack.WriteResult {
	t.Helper()
	result, err := proofpack.Write(outDir, opts)
	if err != nil {
		t.Fatalf("write proofpack %s: %v", opts.RunID, err)
	}
	return result
}

// Reseal applies mutate to the manifest in dir, then rewrites merkle-tree.json,
// manifest.json and the sidecar so every recorded digest agrees with the
// mutated manifest. Signatures are dropped.
func Reseal(t *testing.T, dir string, mutate func(*schemaproofpack.Manifest)) schemaproofpack.Manifest {
	t.Helper()
	manifest, err := proofpack.ReadManifest(dir)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	mutate(&manifest)
	tree, err := merkle.Build(proofpack.LeavesOf(manifest.Artifacts))
	if err != nil {
		t.Fatalf("rebuild merkle tree: %v", err)
	}
	manifest.MerkleRoot = tree.RootHash
	manifest.Signatures = nil
	if manifest.ManifestDigest, err = proofpack.ComputeManifestDigest(manifest); err != nil {
		t.Fatalf("manifest digest: %v", err)
	}
	manifestBytes, err := jcs.Canonicalize(manifest)
	if err != nil {
		t.Fatalf("canonicalize manifest: %v", err)
	}
	treeBytes, err := jcs.Canonicalize(tree)
	if err != nil {
		t.Fatalf("canonicalize tree: %v", err)
	}
	files := map[string][]byte{
		proofpack.MerkleTreeFile: treeBytes,
		proofpack.ManifestFile:   manifestBytes,
		proofpack.SidecarFile:    proofpack.SidecarContent(jcs.SHA256Hex(manifestBytes)),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o600); err != nil {
			t.Fatalf("rewrite %s: %v", name, err)
		}
	}
	return manifest
}
